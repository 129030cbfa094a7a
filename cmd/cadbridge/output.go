package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleRule   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func successLine(msg string) string {
	return green("✔ " + msg)
}

func errorLine(msg string) string {
	return red("✘ " + msg)
}

func hintLine(msg string) string {
	return gray(msg)
}

// renderTable writes rows under a styled header. Columns are padded to the
// widest cell.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := utf8.RuneCountInString(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	cells := make([]string, len(headers))
	total := 0
	for i, h := range headers {
		cells[i] = styleHeader.Render(pad(h, widths[i]))
		total += widths[i]
	}
	total += 2 * (len(headers) - 1)
	fmt.Fprintln(w, strings.Join(cells, "  "))
	fmt.Fprintln(w, styleRule.Render(strings.Repeat("─", total)))

	for _, row := range rows {
		line := make([]string, len(headers))
		for i := range headers {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			line[i] = pad(value, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(line, "  "), " "))
	}
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
