package main

import (
	"bytes"
	"strings"
	"testing"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, errOut := runWithArgs([]string{"pairgate", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", errOut)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "pairgate") {
		t.Fatalf("expected version output, got %q", out)
	}
}

func TestRunSessionsMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "sessions"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: pairgate sessions") {
		t.Fatalf("expected sessions usage, got %q", out)
	}
}

func TestRunSessionsUnknownSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "sessions", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown sessions command") {
		t.Fatalf("expected unknown sessions command output, got %q", out)
	}
}

func TestServeHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runServe([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: pairgate serve") {
		t.Fatalf("expected serve usage, got %q", stderr.String())
	}
}

func TestServeInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runServe([]string{"--max-sessions=bad"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestServeUnknownStoreBackend(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runServe([]string{"--store=etcd", "--store-path=/tmp/does-not-matter"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown store backend") {
		t.Fatalf("expected store backend error, got %q", stderr.String())
	}
}

func TestPairHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runPair([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: pairgate pair") {
		t.Fatalf("expected pair usage, got %q", stderr.String())
	}
}

func TestPairMissingSessionIDFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runPair([]string{"--session-id", "@/nonexistent/token.txt"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "failed to read session ID file") {
		t.Fatalf("expected session ID file error, got %q", stderr.String())
	}
}

func TestSessionsListHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSessionsList([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: pairgate sessions list") {
		t.Fatalf("expected sessions list usage, got %q", stderr.String())
	}
}

func TestSessionsRemoveMissingCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runSessionsRemove([]string{}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "session code is required") {
		t.Fatalf("expected missing code error, got %q", stderr.String())
	}
}

func TestExportSessionMissingCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runExportSession([]string{}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "session code is required") {
		t.Fatalf("expected missing code error, got %q", stderr.String())
	}
}

func TestExportSessionHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runExportSession([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: pairgate export-session") {
		t.Fatalf("expected export-session usage, got %q", stderr.String())
	}
}
