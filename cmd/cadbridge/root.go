package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cadbridge/internal/shared/async"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
	debug      bool
	logFormat  string
}

// app carries flags and the lazily built container.
type app struct {
	flags     rootFlags
	container *Container
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "cadbridge",
		Short: "Command line client for a cloud CAD document service",
		Long: fmt.Sprintf(`%s

Log in, browse documents, elements and parts, and export STL meshes.

%s
  cadbridge login --username you@example.com
  cadbridge documents bracket
  cadbridge elements <did> <wid>
  cadbridge export <did> <wid> <eid> --units millimeter -o part.stl
  cadbridge serve --addr 127.0.0.1:8765`,
			bold("cadbridge "+version), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.flags.configPath, "config", "c", "", "Config file (default $HOME/.cadbridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.flags.debug, "debug", "d", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&a.flags.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newSessionCommand(a),
		newDocumentsCommand(a),
		newElementsCommand(a),
		newPartsCommand(a),
		newExportCommand(a),
		newThumbnailCommand(a),
		newPrefsCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// init builds the container once per invocation.
func (a *app) init(cmd *cobra.Command, executor async.Executor) (*Container, error) {
	if a.container != nil {
		return a.container, nil
	}
	c, err := buildContainer(cmd.Context(), &a.flags, containerOptions{
		executor: executor,
		logOut:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	a.container = c
	return c, nil
}

// run wraps a command body so the container is always released and failed
// calls map to stable exit codes.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if cerr := a.cleanup(); cerr != nil && err == nil {
			err = cerr
		}
		return withExitCode(err)
	}
}

func (a *app) cleanup() error {
	if a.container == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.container.Cleanup(ctx)
	a.container = nil
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
