// Command remotesupportctl is the operator console for the remote
// support file transfer engine: it loads a small on-disk config,
// wires the transport, settings store, and Engine Controller together,
// prompts for inbound transfer approval on stdin, and prints transfer
// lifecycle events to stdout until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rstransfer/engine"
	"rstransfer/logging"
	"rstransfer/settings"
	"rstransfer/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "remotesupportctl:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		portalURL = flag.String("portal", "", "override the configured portal URL")
		logLevel  = flag.String("log-level", "info", "log level: debug, info, warn, error")
		autoAllow = flag.Bool("auto-approve", false, "skip the approval prompt and auto-allow policy-passing requests")
	)
	flag.Parse()

	dataDir, err := ResolveDataDir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	cfg, cfgPath, err := LoadOrCreate(dataDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *portalURL != "" {
		cfg.PortalURL = *portalURL
	}
	for _, dir := range []string{cfg.DownloadDir, cfg.SharedRoot} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	logger := logging.New(*logLevel, os.Stderr)
	logger.Info().Str("config_path", cfgPath).Str("data_dir", dataDir).Msg("configuration loaded")

	store, err := settings.OpenSQLiteStore(dataDir)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer store.Close()

	tr := transport.New(transport.Options{})
	ui := newTerminalUI(os.Stdin, os.Stdout)

	controller, err := engine.New(engine.Options{
		AutoApprovalEnabled: *autoAllow,
		DownloadDir:         cfg.DownloadDir,
		SharedRoot:          cfg.SharedRoot,
		OnAuditEvent: func(name string, fields map[string]any) {
			event := logger.Info()
			for k, v := range fields {
				event = event.Interface(k, v)
			}
			event.Str("audit_event", name).Msg("audit")
		},
	}, tr, ui, store, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	subscribeConsolePrinter(controller, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.ConnectToServer(ctx, cfg.PortalURL, cfg.SessionID); err != nil {
		return fmt.Errorf("connect to portal %s: %w", cfg.PortalURL, err)
	}
	fmt.Printf("connected to %s as session %s\n", cfg.PortalURL, cfg.SessionID)

	<-ctx.Done()
	fmt.Println("\nshutting down...")
	return controller.DisconnectFromServer()
}
