// Copyd serves the content generation pipeline over HTTP.
//
// Configuration is read from ~/.config/copyd/config.yaml (or the file
// given with -config) and overridden by COPYD_* environment variables.
//
// Usage:
//
//	copyd
//	copyd -config /etc/copyd/config.yaml
//	COPYD_PROVIDER_ANTHROPIC_API_KEY=... COPYD_SERVER_HTTP_PORT=9000 copyd
//	copyd version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/copyd/internal/config"
	"github.com/fyrsmithlabs/copyd/internal/http"
	"github.com/fyrsmithlabs/copyd/internal/logging"
	"github.com/fyrsmithlabs/copyd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  copyd [-config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  copyd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("copyd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("copyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires every component and serves until ctx is
// cancelled, then shuts down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	zlog := logger.Underlying()
	defer func() {
		_ = logger.Sync()
	}()
	if h := tel.Health(); h.Degraded {
		zlog.Warn("telemetry degraded", zap.String("reason", h.Reason))
	}

	zlog.Info("starting copyd",
		zap.String("version", version),
		zap.String("provider", cfg.Provider.Name),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.Bool("telemetry", tel.IsEnabled()))

	app, err := build(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := http.NewServer(app.deps(), zlog, &http.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		BodyLimit: cfg.Server.BodyLimit,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("telemetry shutdown incomplete", zap.Error(err))
	}
	zlog.Info("copyd stopped")
	return nil
}

// initLogger builds the zap logger. With telemetry on, entries are also
// bridged to the global OTEL log provider.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = cfg.Observability.EnableTelemetry
	lc.Fields["service"] = cfg.Observability.ServiceName
	return logging.NewLogger(lc, global.GetLoggerProvider())
}
