package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AntonStoeckl/lending-ledger-go/config"
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/memengine"
	"github.com/AntonStoeckl/lending-ledger-go/testutil/helper"
)

func Test_ObservabilityOptions_WithOTel_RecordsThroughInstalledProviders(t *testing.T) {
	// setup
	tracerProvider, meterProvider, loggerProvider := otel.GetTracerProvider(), otel.GetMeterProvider(), global.GetLoggerProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tracerProvider)
		otel.SetMeterProvider(meterProvider)
		global.SetLoggerProvider(loggerProvider)
	})

	metricReader := sdkmetric.NewManualReader()
	spanExporter := tracetest.NewInMemoryExporter()

	providers, err := config.NewObservabilityProviders(t.Context(), config.ObservabilityConfig{
		ServiceName:  instrumentationName,
		Writer:       io.Discard,
		MetricReader: metricReader,
		SpanExporter: spanExporter,
	})
	require.NoError(t, err, "error in test setup")
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	_, engineOptions := observabilityOptions(t.Context(), flags{otelEnabled: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	store, err := memengine.NewStore()
	require.NoError(t, err, "error in test setup")
	e, err := engine.New(store, append(engineOptions, engine.WithClock(helper.FixedClock))...)
	require.NoError(t, err, "error in test setup")

	// act
	_, err = e.CreateItem(t.Context(), ledger.ItemDetails{Title: "Dune"}, 2)
	require.NoError(t, err)

	// assert
	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, metricReader.Collect(t.Context(), &resourceMetrics))

	var names []string
	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.Contains(t, names, engine.MetricOperationDuration)
	assert.Contains(t, names, engine.MetricOperationsTotal)

	spans := spanExporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, "ledger.create_item", spans[0].Name)
}

func Test_ObservabilityOptions_WithoutOTel_OnlyLogs(t *testing.T) {
	storeOptions, engineOptions := observabilityOptions(t.Context(), flags{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Len(t, storeOptions, 1)
	assert.Len(t, engineOptions, 1)
}
