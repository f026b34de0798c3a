package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `pairgate - multi-tenant pairing gateway for a messaging network

Usage:
  pairgate <command> [options]

Commands:
  serve                     Run the gateway daemon
  pair                      Create a session and display its challenge
  sessions list             List sessions on a running gateway
  sessions remove <code>    Remove a session (logout)
  export-session <code>     Print a portable session ID token
  version                   Print the version

Run 'pairgate <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "pair":
		return runPair(args[2:], stdout, stderr)
	case "sessions":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: pairgate sessions <list|remove>")
			return 1
		}
		switch args[2] {
		case "list":
			return runSessionsList(args[3:], stdout, stderr)
		case "remove":
			return runSessionsRemove(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown sessions command: %s\n", args[2])
			return 1
		}
	case "export-session":
		return runExportSession(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "pairgate %s\n", Version)
		return 0
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[1])
		fmt.Fprint(stderr, usage)
		return 1
	}
}
