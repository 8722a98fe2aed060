// Package main implements the entry point for the spinemlnet daemon,
// the TCP server that streams analog sample frames between a host
// numerical application and remote SpineML simulation clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/optseb/spinemlnet/config"
	"github.com/optseb/spinemlnet/engine"
	"github.com/optseb/spinemlnet/handoff"
	"github.com/optseb/spinemlnet/metric"
	"github.com/optseb/spinemlnet/natsclient"
	"github.com/optseb/spinemlnet/server"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "spinemlnetd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI log flags win over the file.
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("starting spinemlnet",
		"version", Version,
		"listen_addr", cfg.ListenAddr,
		"config_path", cliCfg.ConfigPath,
	)

	ctx := context.Background()
	return runServer(ctx, cfg, logger)
}

// runServer wires the infrastructure, starts the server, and blocks
// until a shutdown signal.
func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	var metricsSrv *metric.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	}

	var tap server.Publisher
	var nats *natsclient.Client
	if cfg.NATS.Enabled {
		nats = natsclient.New(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		}, logger, metrics)
		if err := nats.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nats.Close()
		tap = nats
	}

	cache := handoff.NewCache()
	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		Engine: engine.Config{
			RetryBudget:   cfg.Engine.RetryBudget,
			PollInterval:  cfg.Engine.PollInterval,
			WriteTimeout:  cfg.Engine.WriteTimeout,
			MaxNameLength: cfg.Engine.MaxNameLength,
		},
		TapSubjectPrefix: cfg.NATS.SubjectPrefix,
	}, server.Deps{
		Logger:  logger,
		Metrics: metrics,
		Cache:   cache,
		Tap:     tap,
	})

	if err := srv.Initialize(); err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := srv.Start(signalCtx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if metricsSrv != nil {
		go func() {
			if merr := metricsSrv.Start(); merr != nil {
				slog.Error("metrics server failed", "error", merr)
			}
		}()
	}

	slog.Info("spinemlnet started", "addr", srv.Addr().String())

	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	if err := srv.Stop(cfg.ShutdownTimeout); err != nil {
		slog.Error("server shutdown incomplete", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}

	slog.Info("spinemlnet shutdown complete")
	return nil
}
