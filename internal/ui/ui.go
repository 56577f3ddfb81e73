// Package ui holds terminal output helpers for the CLI.
package ui

import (
	"os"

	"github.com/mattn/go-isatty"
)

var stdoutColor = detectColor(os.Stdout)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
}

func ansi(code, s string) string {
	if !stdoutColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s wrapped in bold ANSI codes.
func Bold(s string) string { return ansi("1", s) }

// Green returns s in green.
func Green(s string) string { return ansi("32", s) }

// Red returns s in red.
func Red(s string) string { return ansi("31", s) }

// Yellow returns s in yellow.
func Yellow(s string) string { return ansi("33", s) }

// Dim returns s dimmed.
func Dim(s string) string { return ansi("2", s) }
