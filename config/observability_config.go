package config

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EnvOTLPEndpoint names the environment variable holding the OTLP gRPC endpoint, e.g. localhost:4317.
	EnvOTLPEndpoint = "LEDGER_OTLP_ENDPOINT"

	defaultMetricInterval = 5 * time.Second
)

// OTLPEndpoint returns the OTLP gRPC endpoint, or "" if none is configured.
func OTLPEndpoint() string {
	return os.Getenv(EnvOTLPEndpoint)
}

// ObservabilityConfig selects where OpenTelemetry signals go.
//
// With an OTLPEndpoint, traces, metrics and logs are sent over insecure gRPC (a local collector).
// Without one, they are written as JSON to Writer. The exporter and reader fields replace the
// configured exporters for their signal and are exported synchronously.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	Writer         io.Writer
	MetricInterval time.Duration

	SpanExporter sdktrace.SpanExporter
	MetricReader sdkmetric.Reader
	LogExporter  sdklog.Exporter
}

// ObservabilityProviders holds the OpenTelemetry SDK providers installed as the globals.
type ObservabilityProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Resource       *resource.Resource
}

// NewObservabilityProviders builds the tracer, meter and logger providers for cfg and installs them
// as the global OpenTelemetry providers. Callers must Shutdown the providers to flush pending signals.
func NewObservabilityProviders(ctx context.Context, cfg ObservabilityConfig) (*ObservabilityProviders, error) {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = defaultMetricInterval
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceOption, err := spanProcessorOption(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metricReader, err := metricReaderFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logProcessor, err := logProcessorFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p := &ObservabilityProviders{
		TracerProvider: sdktrace.NewTracerProvider(traceOption, sdktrace.WithResource(res)),
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader), sdkmetric.WithResource(res)),
		LoggerProvider: sdklog.NewLoggerProvider(sdklog.WithProcessor(logProcessor), sdklog.WithResource(res)),
		Resource:       res,
	}

	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(p.MeterProvider)
	global.SetLoggerProvider(p.LoggerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return p, nil
}

// Shutdown flushes and stops all providers.
func (p *ObservabilityProviders) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
		p.LoggerProvider.Shutdown(ctx),
	)
}

func spanProcessorOption(ctx context.Context, cfg ObservabilityConfig) (sdktrace.TracerProviderOption, error) {
	if cfg.SpanExporter != nil {
		return sdktrace.WithSyncer(cfg.SpanExporter), nil
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, err
		}

		return sdktrace.WithBatcher(exporter), nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	if err != nil {
		return nil, err
	}

	return sdktrace.WithBatcher(exporter), nil
}

func metricReaderFor(ctx context.Context, cfg ObservabilityConfig) (sdkmetric.Reader, error) {
	if cfg.MetricReader != nil {
		return cfg.MetricReader, nil
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)

	if cfg.OTLPEndpoint != "" {
		exporter, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint), otlpmetricgrpc.WithInsecure())
	} else {
		exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
	}

	if err != nil {
		return nil, err
	}

	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricInterval)), nil
}

func logProcessorFor(ctx context.Context, cfg ObservabilityConfig) (sdklog.Processor, error) {
	if cfg.LogExporter != nil {
		return sdklog.NewSimpleProcessor(cfg.LogExporter), nil
	}

	var (
		exporter sdklog.Exporter
		err      error
	)

	if cfg.OTLPEndpoint != "" {
		exporter, err = otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(cfg.OTLPEndpoint), otlploggrpc.WithInsecure())
	} else {
		exporter, err = stdoutlog.New(stdoutlog.WithWriter(cfg.Writer))
	}

	if err != nil {
		return nil, err
	}

	return sdklog.NewBatchProcessor(exporter), nil
}
