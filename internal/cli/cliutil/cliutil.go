// Package cliutil holds argument and exit-status helpers shared by the
// send and receive commands.
package cliutil

import (
	"errors"
	"strings"

	"github.com/sheerbytes/relaydrop/internal/transfer"
)

// Exit statuses.
const (
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// HasHelpFlag reports whether args ask for usage.
func HasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "-help" {
			return true
		}
	}
	return false
}

// FlagsFirst moves leading positional arguments behind the flags, so that
// "send file.txt --server-url X" parses like "send --server-url X file.txt".
func FlagsFirst(args []string) []string {
	i := 0
	for i < len(args) && !strings.HasPrefix(args[i], "-") {
		i++
	}
	if i == 0 || i == len(args) {
		return args
	}
	out := make([]string, 0, len(args))
	out = append(out, args[i:]...)
	return append(out, args[:i]...)
}

// ExitCode maps a session error to a process exit status. A canceled
// session only counts as interrupted when a signal stopped it; a relay
// closing the connection normally also ends the session as canceled.
func ExitCode(err error, interrupted bool) int {
	switch {
	case err == nil:
		return 0
	case interrupted && errors.Is(err, transfer.ErrCanceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
