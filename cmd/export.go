package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// ExportConfig holds the configuration for the export-session command.
type ExportConfig struct {
	Addr   string
	Output string
}

func runExportSession(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export-session", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ExportConfig{}
	fs.StringVar(&cfg.Addr, "addr", defaultAPIAddr, "Gateway API address")
	fs.StringVar(&cfg.Output, "output", "", "Write the token to a file instead of stdout")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate export-session [options] <code>\n\nExport a connected session's credentials as a portable session ID token.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nImport the token on another gateway with: pairgate pair --session-id @file\n")
		fmt.Fprintf(stderr, "The token contains authentication material. Treat it like a password.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: session code is required")
		fs.Usage()
		return 1
	}
	code := fs.Arg(0)

	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := apiCall("GET", fmt.Sprintf("http://%s/api/pairing/%s/export", cfg.Addr, code), nil, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.Output != "" {
		// Tokens carry credential material; keep them owner-readable only.
		if err := os.WriteFile(cfg.Output, []byte(result.SessionID+"\n"), 0600); err != nil {
			fmt.Fprintf(stderr, "Error: failed to write token file: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Session ID written to: %s\n", cfg.Output)
		return 0
	}

	fmt.Fprintln(stdout, result.SessionID)
	return 0
}
