package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// SessionsConfig holds the configuration for session management commands.
type SessionsConfig struct {
	Addr string
}

// sessionSummary mirrors one entry of the gateway's session list response.
type sessionSummary struct {
	Code      string    `json:"code"`
	Owner     string    `json:"owner"`
	Status    string    `json:"status"`
	Connected bool      `json:"connected"`
	CreatedAt time.Time `json:"created_at"`
}

// formatDuration formats a duration in a human-readable way.
// Examples: "just now", "5m ago", "2h ago", "3d ago"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func runSessionsList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sessions list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &SessionsConfig{}
	fs.StringVar(&cfg.Addr, "addr", defaultAPIAddr, "Gateway API address")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate sessions list [options]\n\nList sessions on a running gateway.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	var result struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := apiCall("GET", fmt.Sprintf("http://%s/api/pairing/list", cfg.Addr), nil, &result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(result.Sessions) == 0 {
		fmt.Fprintln(stdout, "No sessions found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tOWNER\tSTATUS\tCREATED")
	fmt.Fprintln(w, "----\t-----\t------\t-------")

	now := time.Now()
	for _, s := range result.Sessions {
		owner := s.Owner
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.Code,
			owner,
			s.Status,
			formatDuration(now.Sub(s.CreatedAt)),
		)
	}
	w.Flush()

	return 0
}

func runSessionsRemove(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sessions remove", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &SessionsConfig{}
	fs.StringVar(&cfg.Addr, "addr", defaultAPIAddr, "Gateway API address")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate sessions remove [options] <code>\n\nRemove a session and purge its stored credentials.\n\nOptions:\n")
		fs.PrintDefaults()
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

	if err := apiCall("DELETE", fmt.Sprintf("http://%s/api/pairing/%s", cfg.Addr, code), nil, nil); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Removed session: %s\n", code)
	return 0
}
