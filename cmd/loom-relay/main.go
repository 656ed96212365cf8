// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Loom-relay is the workspace relay daemon: it forwards sealed
// envelopes between members and stores them durably for rooms that opt
// in. It holds no keys and can read nothing it carries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/loom-foundation/loom/lib/version"
	"github.com/loom-foundation/loom/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var listenAddr string
	var storePath string
	var logLevel string
	var showVersion bool

	pflag.StringVar(&configPath, "config", "", "path to YAML config file")
	pflag.StringVar(&listenAddr, "listen", "", "TCP listen address (overrides config)")
	pflag.StringVar(&storePath, "store", "", "SQLite store path (overrides config)")
	pflag.StringVar(&logLevel, "log-level", "", "debug, info, warn, or error (overrides config)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("loom-relay %s\n", version.Info())
		return nil
	}

	cfg := relay.FileConfig{ListenAddr: ":7897", LogLevel: "info"}
	if configPath != "" {
		loaded, err := relay.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if storePath != "" {
		cfg.StorePath = storePath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	serverConfig := relay.Config{Addr: cfg.ListenAddr, Logger: logger}
	if cfg.StorePath != "" {
		store, err := relay.OpenStore(relay.StoreConfig{
			Path:   cfg.StorePath,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		serverConfig.Store = store
	} else {
		logger.Warn("no store_path configured, relay is forward-only")
	}

	server := relay.NewServer(serverConfig)
	if err := server.Listen(serverConfig); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Serve(ctx)
}
