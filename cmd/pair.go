package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/pairgate/gateway/internal/gateway"
)

// PairConfig holds configuration for the pair command.
type PairConfig struct {
	Addr      string
	Owner     string
	SessionID string
	Timeout   time.Duration
}

// sessionStatus mirrors the gateway's session status response.
type sessionStatus struct {
	Code     string `json:"code"`
	Owner    string `json:"owner"`
	Status   string `json:"status"`
	Artifact *struct {
		QR       string `json:"qr"`
		QRImage  string `json:"qr_image"`
		PairCode string `json:"pair_code"`
	} `json:"artifact"`
	LastError string `json:"last_error"`
}

func runPair(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &PairConfig{}
	fs.StringVar(&cfg.Addr, "addr", defaultAPIAddr, "Gateway API address")
	fs.StringVar(&cfg.Owner, "owner", "", "End-user account identifier (required for pair-code and notification flows)")
	fs.StringVar(&cfg.SessionID, "session-id", "", "Previously exported session ID token, or @path to read it from a file")
	fs.DurationVar(&cfg.Timeout, "timeout", 3*time.Minute, "How long to wait for the session to connect")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate pair [options]\n\nCreate a session and display its linking challenge.\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nScan the QR code (or enter the linking code) in the messaging app.\n")
		fmt.Fprintf(stderr, "The command exits once the session connects or the challenge expires.\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	sessionID := cfg.SessionID
	if strings.HasPrefix(sessionID, "@") {
		raw, err := os.ReadFile(sessionID[1:])
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to read session ID file: %v\n", err)
			return 1
		}
		sessionID = strings.TrimSpace(string(raw))
	}

	// Create the session. The gateway starts connecting in the background;
	// we poll its status until challenge material shows up.
	createBody := map[string]string{}
	if cfg.Owner != "" {
		createBody["owner"] = cfg.Owner
	}
	if sessionID != "" {
		createBody["session_id"] = sessionID
	}

	var created struct {
		Code string `json:"code"`
	}
	if err := apiCall("POST", fmt.Sprintf("http://%s/api/pairing/new", cfg.Addr), createBody, &created); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintf(stderr, "\nThe gateway must be running. Start it with: pairgate serve\n")
		return 1
	}

	fmt.Fprintf(stdout, "Session created: %s\n", created.Code)

	deadline := time.Now().Add(cfg.Timeout)
	displayed := false
	statusURL := fmt.Sprintf("http://%s/api/pairing/%s", cfg.Addr, created.Code)

	for time.Now().Before(deadline) {
		var st sessionStatus
		if err := apiCall("GET", statusURL, nil, &st); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}

		switch st.Status {
		case "connected":
			fmt.Fprintln(stdout, "")
			fmt.Fprintf(stdout, "Session %s is connected.\n", created.Code)
			fmt.Fprintf(stdout, "Export it with: pairgate export-session %s\n", created.Code)
			return 0
		case "failed":
			fmt.Fprintf(stderr, "Error: session failed: %s\n", st.LastError)
			return 1
		case "logged_out":
			fmt.Fprintf(stderr, "Error: session was logged out before linking completed\n")
			return 1
		}

		// Challenge material may rotate upstream; only display it once so the
		// terminal doesn't scroll the code away mid-scan.
		if !displayed && st.Artifact != nil {
			displayed = true
			if st.Artifact.PairCode != "" {
				DisplayLinkCode(stdout, created.Code, st.Artifact.PairCode)
			} else if st.Artifact.QR != "" {
				DisplayQRChallenge(stdout, created.Code, st.Artifact.QR)
			}
		}

		time.Sleep(500 * time.Millisecond)
	}

	fmt.Fprintf(stderr, "Error: timed out waiting for session %s to connect\n", created.Code)
	fmt.Fprintf(stderr, "Check its status with: pairgate sessions list\n")
	return 1
}

// DisplayQRChallenge renders the QR challenge payload as ASCII art with a
// plain-text fallback.
func DisplayQRChallenge(w io.Writer, code, payload string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO LINK")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")

	// ToSmallString(false) produces compact half-block output without a border.
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Raw payload: %s\n", payload)
	} else {
		fmt.Fprint(w, qr.ToSmallString(false))
	}

	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  Session: %s\n", code)
	fmt.Fprintln(w, "  Open the messaging app on your phone and")
	fmt.Fprintln(w, "  scan the code from the linked-devices screen.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// DisplayLinkCode shows the numeric linking code for the phone-number flow.
func DisplayLinkCode(w io.Writer, code, linkCode string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         LINKING CODE")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "           %s\n", gateway.FormatPairCode(linkCode))
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "  Session: %s\n", code)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this code in the messaging app under")
	fmt.Fprintln(w, "  linked devices > link with phone number.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
