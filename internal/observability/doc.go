// Package observability provides the runtime's optional metrics and
// tracing surface, off by default and enabled only when RYE_DEBUG=1 or an
// OTLP endpoint is configured.
//
// # Metrics
//
// Metrics are Prometheus counters/histograms registered once at startup:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... dispatch a tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Tracing
//
// Tracing uses OpenTelemetry, with the thread runner emitting a span per
// turn and child spans for provider calls and tool dispatches:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "rye",
//	    Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTurn(ctx, threadID, turnNumber)
//	defer span.End()
package observability
