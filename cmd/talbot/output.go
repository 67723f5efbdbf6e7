package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Status lines go to stderr so command output on stdout stays pipeable.
var (
	errRenderer = lipgloss.NewRenderer(os.Stderr)
	outRenderer = lipgloss.NewRenderer(os.Stdout)

	successStyle = errRenderer.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = errRenderer.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle = errRenderer.NewStyle().Foreground(lipgloss.Color("3"))
	labelStyle   = errRenderer.NewStyle().Bold(true)

	keyStyle    = outRenderer.NewStyle().Bold(true)
	youStyle    = outRenderer.NewStyle().Foreground(lipgloss.Color("6"))
	talbotStyle = outRenderer.NewStyle().Bold(true)
	crisisStyle = outRenderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func render(s lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return s.Render(text)
}

func notify(s lipgloss.Style, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(s, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notify(successStyle, "✓", format, args...) }

func printError(format string, args ...any) { notify(failureStyle, "✗", format, args...) }

func printWarning(format string, args ...any) { notify(warningStyle, "!", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %-9s %s\n", render(labelStyle, label+":"), fmt.Sprintf(format, args...))
}

// speaker renders a conversation sender label.
func speaker(sender string) string {
	if sender == "user" {
		return render(youStyle, "you")
	}
	return render(talbotStyle, "talbot")
}
