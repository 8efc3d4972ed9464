package main

import (
	"fmt"
	"os"

	"github.com/sheerbytes/relaydrop/internal/cli/cliutil"
	"github.com/sheerbytes/relaydrop/internal/cli/receiver"
	"github.com/sheerbytes/relaydrop/internal/cli/sender"
	"github.com/sheerbytes/relaydrop/internal/termio"
)

const version = "v0.1.0"

func main() {
	termio.Init()
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		termio.Flush()
		os.Exit(cliutil.ExitUsage)
	}
	if hasVersionFlag(args[:1]) {
		fmt.Fprintf(termio.Stdout(), "relaydrop %s\n", version)
		termio.Flush()
		return
	}

	cmdName := args[0]
	switch cmdName {
	case "send":
		sender.Run(args[1:])
	case "receive", "recv":
		receiver.Run(args[1:])
	default:
		if cliutil.HasHelpFlag(args) {
			printUsage()
			termio.Flush()
			return
		}
		fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", cmdName)
		printUsage()
		termio.Flush()
		os.Exit(cliutil.ExitUsage)
	}
	termio.Flush()
}

func printUsage() {
	w := termio.Stderr()
	fmt.Fprintln(w, "usage: relaydrop <command> [args]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  send     offer one file and wait for a receiver")
	fmt.Fprintln(w, "  receive  download the file behind a share link")
	fmt.Fprintln(w, "quick examples:")
	fmt.Fprintln(w, "  relaydrop send ./report.pdf")
	fmt.Fprintln(w, "  relaydrop receive 'https://drop.example/r?id=<id>' --out ./downloads")
	fmt.Fprintln(w, "to learn detailed usage:")
	fmt.Fprintln(w, "  relaydrop send --help")
	fmt.Fprintln(w, "  relaydrop receive --help")
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" || arg == "version" {
			return true
		}
	}
	return false
}
