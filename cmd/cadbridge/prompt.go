package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// isTTY checks if the current environment has a TTY available
var isTTY = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

var errNoTTY = errors.New("no terminal available: pass --username and --password-stdin")

func notEmpty(label string) promptui.ValidateFunc {
	return func(input string) error {
		if strings.TrimSpace(input) == "" {
			return fmt.Errorf("%s is required", label)
		}
		return nil
	}
}

// credentials fills username and password, prompting only when a terminal
// is attached.
func credentials(username string, passwordStdin bool, stdin io.Reader) (string, string, error) {
	var password string
	if passwordStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
		if password == "" {
			return "", "", errors.New("empty password on stdin")
		}
	}
	if username != "" && password != "" {
		return username, password, nil
	}
	if !isTTY() {
		return "", "", errNoTTY
	}
	if username == "" {
		prompt := promptui.Prompt{Label: "Email", Validate: notEmpty("email")}
		value, err := prompt.Run()
		if err != nil {
			return "", "", fmt.Errorf("prompt email: %w", err)
		}
		username = strings.TrimSpace(value)
	}
	if password == "" {
		prompt := promptui.Prompt{Label: "Password", Mask: '*', Validate: notEmpty("password")}
		value, err := prompt.Run()
		if err != nil {
			return "", "", fmt.Errorf("prompt password: %w", err)
		}
		password = value
	}
	return username, password, nil
}
