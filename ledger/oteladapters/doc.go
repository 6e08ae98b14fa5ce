// Package oteladapters provides OpenTelemetry adapters for the ledger observability interfaces.
//
// The adapters plug into both the lending engine and the PostgreSQL store:
//
//	logger := oteladapters.NewSlogBridgeLogger("lending-ledger")
//	tracing := oteladapters.NewTracingCollector(otel.Tracer("lending-ledger"))
//	metrics := oteladapters.NewMetricsCollector(otel.Meter("lending-ledger"))
//
//	e, err := engine.New(store,
//		engine.WithContextualLogger(logger),
//		engine.WithTracing(tracing),
//		engine.WithMetrics(metrics),
//	)
package oteladapters
