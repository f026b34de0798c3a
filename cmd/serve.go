package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pairgate/gateway/internal/config"
	"github.com/pairgate/gateway/internal/credstore"
	"github.com/pairgate/gateway/internal/gateway"
	"github.com/pairgate/gateway/internal/mdns"
	"github.com/pairgate/gateway/internal/server"
	"github.com/pairgate/gateway/internal/wsadapter"
)

// ServeConfig holds the configuration for the serve command.
type ServeConfig struct {
	Config       string
	Addr         string
	UpstreamURL  string
	ClientName   string
	StoreBackend string
	StorePath    string
	MaxSessions  int
	UsePairCode  bool
	NotifyOwner  bool
	MdnsEnabled  bool
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ServeConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.pairgate/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address for the gateway API (default: 127.0.0.1:8070)")
	fs.StringVar(&cfg.UpstreamURL, "upstream-url", "", "WebSocket URL of the messaging network relay")
	fs.StringVar(&cfg.ClientName, "client-name", "", "Client identity announced to the network (default: pairgate)")
	fs.StringVar(&cfg.StoreBackend, "store", "", "Credential store backend: sqlite or file (default: sqlite)")
	fs.StringVar(&cfg.StorePath, "store-path", "", "Credential store path (default: ~/.pairgate/pairgate.db)")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", 0, "Concurrent session ceiling (default: 50)")
	fs.BoolVar(&cfg.UsePairCode, "pair-code", false, "Use the numeric linking-code flow instead of QR")
	fs.BoolVar(&cfg.NotifyOwner, "notify-owner", false, "DM the pairing code to the session owner after connect")
	fs.BoolVar(&cfg.MdnsEnabled, "mdns", false, "Advertise the gateway API via mDNS/Bonjour on the LAN")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate serve [options]\n\nRun the gateway daemon.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track which flags were explicitly set on the command line.
	// This allows us to distinguish "flag not specified" from "flag set to default value".
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	// Load config file and merge with CLI flags.
	// CLI flags take precedence over file values.
	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.Addr != "" {
		fileCfg.Addr = cfg.Addr
	}
	if cfg.UpstreamURL != "" {
		fileCfg.UpstreamURL = cfg.UpstreamURL
	}
	if cfg.ClientName != "" {
		fileCfg.ClientName = cfg.ClientName
	}
	if cfg.StoreBackend != "" {
		fileCfg.StoreBackend = cfg.StoreBackend
	}
	if cfg.StorePath != "" {
		fileCfg.StorePath = cfg.StorePath
	}
	if cfg.MaxSessions > 0 {
		fileCfg.MaxSessions = cfg.MaxSessions
	}
	// Boolean flags: apply CLI value only if the flag was explicitly set.
	// This allows the config file to enable them without the CLI resetting.
	if explicitFlags["pair-code"] {
		fileCfg.UsePairCode = cfg.UsePairCode
	}
	if explicitFlags["notify-owner"] {
		fileCfg.NotifyOwner = cfg.NotifyOwner
	}
	if explicitFlags["mdns"] {
		fileCfg.MdnsEnabled = cfg.MdnsEnabled
	}
	fileCfg.ApplyDefaults()

	if fileCfg.StorePath == "" {
		fileCfg.StorePath, err = config.DefaultStorePath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	// Open the credential store.
	var store gateway.CredentialStore
	var closeStore func() error
	switch fileCfg.StoreBackend {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(fileCfg.StorePath), 0700); err != nil {
			fmt.Fprintf(stderr, "Error: failed to create store directory: %v\n", err)
			return 1
		}
		s, err := credstore.NewSQLiteStore(fileCfg.StorePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open credential store: %v\n", err)
			return 1
		}
		store = s
		closeStore = s.Close
	case "file":
		s, err := credstore.NewFileStore(fileCfg.StorePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open credential store: %v\n", err)
			return 1
		}
		store = s
		closeStore = func() error { return nil }
	default:
		fmt.Fprintf(stderr, "Error: unknown store backend %q (expected sqlite or file)\n", fileCfg.StoreBackend)
		return 1
	}

	adapter := wsadapter.New(fileCfg.UpstreamURL)

	supervisor := gateway.NewSupervisor(gateway.SupervisorConfig{
		Adapter:              adapter,
		Store:                store,
		ClientName:           fileCfg.ClientName,
		UsePairCode:          fileCfg.UsePairCode,
		NotifyOwner:          fileCfg.NotifyOwner,
		AuthTimeout:          time.Duration(fileCfg.AuthTimeoutSec) * time.Second,
		MaxReconnectAttempts: fileCfg.MaxReconnectAttempts,
		ReconnectMin:         time.Duration(fileCfg.ReconnectMinMs) * time.Millisecond,
		ReconnectMax:         time.Duration(fileCfg.ReconnectMaxMs) * time.Millisecond,
	})

	registry := gateway.NewRegistry(gateway.RegistryConfig{
		Supervisor:    supervisor,
		Store:         store,
		MaxSessions:   fileCfg.MaxSessions,
		OwnerRequired: fileCfg.UsePairCode || fileCfg.NotifyOwner,
	})

	httpServer := &http.Server{
		Addr:    fileCfg.Addr,
		Handler: server.New(registry).Handler(),
	}

	// Bind before announcing so we fail fast on a busy port.
	ln, err := net.Listen("tcp", fileCfg.Addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		closeStore()
		return 1
	}

	fmt.Fprintf(stdout, "Gateway API:    http://%s\n", fileCfg.Addr)
	fmt.Fprintf(stdout, "Upstream relay: %s\n", fileCfg.UpstreamURL)
	fmt.Fprintf(stdout, "Store:          %s (%s)\n", fileCfg.StorePath, fileCfg.StoreBackend)
	fmt.Fprintf(stdout, "Max sessions:   %d\n", fileCfg.MaxSessions)
	if fileCfg.UsePairCode {
		fmt.Fprintln(stdout, "Linking:        numeric pairing code")
	} else {
		fmt.Fprintln(stdout, "Linking:        QR code")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	// Start mDNS advertisement if enabled. Discovery only reveals presence;
	// the API itself stays bound to whatever address was configured.
	var advertiser *mdns.Advertiser
	if fileCfg.MdnsEnabled {
		_, portStr, _ := net.SplitHostPort(fileCfg.Addr)
		port := 8070
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 {
			port = p
		}
		advertiser = mdns.NewAdvertiser(mdns.Config{Port: port})
		if err := advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
			advertiser = nil
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}

	fmt.Fprintln(stdout, "Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			exitCode = 1
		}
	case sig := <-sigCh:
		fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
	}

	// Cleanup in reverse order of creation. Sessions get a bounded window to
	// tear down their upstream connections cleanly.
	if advertiser != nil {
		advertiser.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "Warning: HTTP shutdown: %v\n", err)
	}
	registry.Shutdown(shutdownCtx)
	if err := closeStore(); err != nil {
		fmt.Fprintf(stderr, "Warning: failed to close credential store: %v\n", err)
	}

	return exitCode
}
