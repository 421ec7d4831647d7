// Package observability provides the monitoring and debugging surface for an
// opscore run through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: minimal impact on a long-running Manager loop
//   - Optional: every attach point (WithMetrics/WithTracer) is nil-safe, so a
//     run started without observability behaves exactly as one with it
//   - Standards-based: uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Iteration counts and durations, by outcome
//   - Manager-call counts and latency, by operation (Plan, Aggregate, ...)
//   - Assistant task outcomes and durations
//   - Retry counts
//   - Queue depth and active-assistant gauges
//   - The current phase (as a gauge, one active value among the phase set)
//   - Rest duration and Manager-reconnect outcomes
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//	orch := orchestrator.New(cfg, gw, log, stream, logger).WithMetrics(metrics)
//
//	// served directly:
//	mux.Handle("/metrics", promhttp.Handler())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/session ID correlation from context
//   - Sensitive data redaction (API keys, secrets, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//
//	logger.Info(ctx, "dispatching task",
//	    "task_id", task.ID,
//	    "assistant_index", idx,
//	)
//
//	logger.Error(ctx, "gateway call failed",
//	    "error", err,
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a run's iterations and the
// Gateway/Assistant/Event Log calls inside them:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "opscore",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"), // OTLP collector
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceIteration(ctx, iterationNumber)
//	defer span.End()
//
//	ctx, callSpan := tracer.TraceManagerCall(ctx, "plan")
//	defer callSpan.End()
//	if err != nil {
//	    tracer.RecordError(callSpan, err)
//	}
//
//	ctx, taskSpan := tracer.TraceAssistantTask(ctx, task.ID, assistantIndex)
//	defer taskSpan.End()
//
// # Context Propagation
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddUserID(ctx, "user-789")
//
//	logger.Info(ctx, "iteration starting") // includes request_id, session_id, ...
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// trace context propagates to child spans
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Secrets and passwords
//   - JWT and bearer tokens
//   - Custom patterns via LogConfig.RedactPatterns
//
// Sensitive fields in map-valued log arguments are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//
// # Testing
//
//   - Metrics: use an isolated prometheus.NewRegistry() rather than NewMetrics()
//     directly, since the latter registers against the process-wide default
//     registry and collides across test runs
//   - Logging: Logger writes to any io.Writer, so tests can assert against a
//     bytes.Buffer
//   - Tracing: NewTracer with an empty TraceConfig.Endpoint returns a no-op
//     tracer suitable for tests
package observability
