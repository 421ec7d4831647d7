package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opscoredev/core/internal/config"
	"github.com/opscoredev/core/internal/eventlog"
	"github.com/opscoredev/core/internal/eventstream"
	"github.com/opscoredev/core/internal/gateway"
	"github.com/opscoredev/core/internal/observability"
	"github.com/opscoredev/core/internal/orchestrator"
)

// buildLogger constructs the process-wide slog.Logger per cfg.Logging,
// matching the teacher's habit of configuring a single JSON/text handler at
// startup and installing it as the slog default.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// buildGateway selects and constructs the Session Gateway adapter named by
// cfg.Gateway.Provider.
func buildGateway(cfg config.GatewayConfig) (gateway.Gateway, error) {
	switch cfg.Provider {
	case "anthropic":
		return gateway.NewAnthropicGateway(gateway.AnthropicConfig{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
		})
	case "openai":
		return gateway.NewOpenAIGateway(gateway.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
		})
	default:
		return nil, fmt.Errorf("opscore: unknown gateway provider %q", cfg.Provider)
	}
}

// runtime bundles the constructed dependencies one "run" invocation needs,
// so server.go's handlers and the foreground run loop share a single build.
type runtime struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	logLog    *eventlog.Log
	sqlite    *eventlog.SQLiteStore
	stream    *eventstream.Stream
	metrics   *observability.Metrics
	logger    *slog.Logger
	reqLogger *observability.Logger
}

// buildRuntime wires the Orchestrator (C7) from cfg: the Session Gateway
// (C1) it drives, the Event Log (C2) and Event Stream it emits into, and
// the optional Metrics/Tracer observability attached via the builder
// methods every component exposes.
func buildRuntime(cfg *config.Config) (*runtime, func(), error) {
	logger := buildLogger(cfg.Logging)

	gw, err := buildGateway(cfg.Gateway)
	if err != nil {
		return nil, nil, err
	}

	logLog, err := eventlog.New(eventlog.Config{
		Retention: cfg.EventLog.Retention,
		Output:    cfg.EventLog.Output,
		Format:    cfg.EventLog.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opscore: building event log: %w", err)
	}

	stream := eventstream.NewStream(eventstream.ReaderConfig{
		HighPriBuffer: cfg.Stream.HighPriBuffer,
		LowPriBuffer:  cfg.Stream.LowPriBuffer,
	})

	var sqliteStore *eventlog.SQLiteStore
	var logSink eventstream.Sink = logLog
	if path := strings.TrimSpace(os.Getenv("OPSCORE_EVENTLOG_DB")); path != "" {
		sqliteStore, err = eventlog.NewSQLiteStore(eventlog.DefaultSQLiteConfig(path))
		if err != nil {
			return nil, nil, fmt.Errorf("opscore: opening durable event log: %w", err)
		}
		logSink = eventstream.NewMultiSink(logLog, sqliteStore)
	}

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "opscore",
		ServiceVersion: version,
		Environment:    strings.TrimSpace(os.Getenv("OPSCORE_ENV")),
	})
	if sqliteStore != nil {
		sqliteStore.WithTracer(tracer)
	}

	orch := orchestrator.New(cfg.Run, gw, logSink, stream, logger.With("component", "orchestrator")).
		WithMetrics(metrics).
		WithTracer(tracer)

	reqLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	rt := &runtime{
		cfg:       cfg,
		orch:      orch,
		logLog:    logLog,
		sqlite:    sqliteStore,
		stream:    stream,
		metrics:   metrics,
		logger:    logger,
		reqLogger: reqLogger,
	}

	cleanup := func() {
		_ = logLog.Close()
		if sqliteStore != nil {
			_ = sqliteStore.Close()
		}
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	return rt, cleanup, nil
}
