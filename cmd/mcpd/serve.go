package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mcplane/mcp-go/pkg/logging"
	"github.com/mcplane/mcp-go/pkg/observability"
	"github.com/mcplane/mcp-go/pkg/server"
	"github.com/mcplane/mcp-go/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the demo capability set on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(flagConfigPath)
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func runServe(ctx context.Context, cfg Config) error {
	sessionID := uuid.NewString()
	logger := logging.New(os.Stderr, nil)
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger = logger.WithFields(logging.String("session_id", sessionID))

	metrics := observability.NewMetrics("mcpd")

	var tracer *observability.TracingProvider
	if cfg.Tracing.Exporter != "none" {
		tp, err := observability.NewTracingProvider(observability.TracingConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: cfg.Version,
			Exporter:       observability.ExporterType(cfg.Tracing.Exporter),
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("tracing setup: %w", err)
		}
		tracer = tp
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracer.Shutdown(shutdownCtx)
		}()
	}

	opts := []server.Option{
		server.WithName(cfg.Name),
		server.WithVersion(cfg.Version),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	}
	if tracer != nil {
		opts = append(opts, server.WithTracer(tracer.Tracer()))
	}

	srv := server.NewServer(transport.NewStdioTransport(), opts...)
	if err := registerDemoCapabilities(srv); err != nil {
		return fmt.Errorf("register capabilities: %w", err)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logger.Info("metrics listener started", logging.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", logging.Err(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := srv.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := srv.Close(closeCtx); cerr != nil {
		logger.Error("close failed", logging.Err(cerr))
	}
	logger.Info("server stopped")
	return err
}
