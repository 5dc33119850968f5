// Command installer provisions a host for the VPN agent: it probes the
// platform, negotiates network resources, installs the container images and
// unit files, and brings the services up.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/privatix/dapp-installer/cmd/installer/config"
	"github.com/privatix/dapp-installer/lib/logger"
	"github.com/privatix/dapp-installer/lib/otel"
	"github.com/privatix/dapp-installer/lib/provision"
)

// Set at build time.
var version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	root := newRootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	// step failures are already logged by the orchestrator
	var se *provision.StepError
	if !errors.As(err, &se) {
		fmt.Fprintln(os.Stderr, "installer:", err)
	}
	return provision.ExitCode(err)
}

// withApp loads configuration, sets up telemetry and logging, builds the
// component graph and runs fn with it. Telemetry and the log file are
// released when fn returns.
func withApp(ctx context.Context, fn func(app *application) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hostName, _ := os.Hostname()
	tel, err := otel.Init(ctx, otel.Config{
		Enabled:     cfg.Otel.Enabled,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		Insecure:    cfg.Otel.Insecure,
		Version:     version,
		HostName:    hostName,
	})
	if err != nil {
		// Log warning but don't fail - graceful degradation
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
		tel = nil
	}
	if tel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}

	var otelHandler slog.Handler
	if tel != nil {
		otelHandler = tel.LogHandler
	}
	log, closeLog, err := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		FilePath: cfg.Log.File,
	}, otelHandler)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.AddToContext(ctx, log)

	if cfg.Otel.Enabled && tel != nil {
		log.InfoContext(ctx, "OpenTelemetry enabled", "endpoint", cfg.Otel.Endpoint, "service", cfg.Otel.ServiceName)
	}

	app, err := initializeApp(ctx, cfg, tel)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	return fn(app)
}
