package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/KentBeck/LivingObjects-sub000/vm"
)

var (
	errorColor = color.New(color.FgRed, color.Bold)
	kindColor  = color.New(color.FgYellow)
	traceColor = color.New(color.Faint)
	nameColor  = color.New(color.FgCyan)
)

// applyColorMode honours a --color value. auto leaves the terminal
// detection of fatih/color in place.
func applyColorMode(mode string) error {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "auto":
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

func printError(err error) {
	writeError(os.Stderr, err)
}

// writeError renders err with its kind and, for VM errors, the context
// chain at the point of failure.
func writeError(w io.Writer, err error) {
	var e *vm.Error
	if !errors.As(err, &e) {
		errorColor.Fprint(w, "error: ")
		fmt.Fprintln(w, err)
		return
	}
	errorColor.Fprint(w, "error: ")
	kindColor.Fprintf(w, "%s", e.Kind)
	if e.Message != "" {
		fmt.Fprintf(w, ": %s", e.Message)
	}
	fmt.Fprintln(w)
	for _, entry := range e.Trace {
		traceColor.Fprintf(w, "    at %s\n", entry)
	}
}
