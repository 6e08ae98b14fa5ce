package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/lending-ledger-go/config"
	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/oteladapters"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/prometheusadapters"
)

const (
	defaultRate            = 30
	defaultItems           = 200
	defaultCopiesPerItem   = 3
	defaultBorrowers       = 100
	defaultMaxInFlight     = 64
	defaultScenarioWeights = "20,80" // catalog, lending

	maxRate = int(time.Second) // one scenario per nanosecond tick

	instrumentationName = "lending-ledger-load-generator"
	shutdownTimeout     = 10 * time.Second
)

type flags struct {
	dsn             string
	duration        time.Duration
	metricsAddr     string
	otelEnabled     bool
	otlpEndpoint    string
	scenarioWeights string
	config          Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	pool, err := openPool(ctx, f.dsn)
	if err != nil {
		logger.Error("connecting to database failed", "error", err.Error())
		return 1
	}
	defer pool.Close()

	if f.otelEnabled {
		providers, otelErr := config.NewObservabilityProviders(ctx, config.ObservabilityConfig{
			ServiceName:  instrumentationName,
			OTLPEndpoint: f.otlpEndpoint,
			Writer:       stderr,
		})
		if otelErr != nil {
			logger.Error("setting up OpenTelemetry failed", "error", otelErr.Error())
			return 1
		}

		defer shutdownProviders(providers, logger)
	}

	storeOptions, engineOptions := observabilityOptions(ctx, f, logger)
	engineOptions = append(engineOptions, engine.WithShrinkPolicy(engine.ShrinkRejectStranding))

	store, err := postgresengine.NewStoreFromPGXPool(pool, storeOptions...)
	if err != nil {
		logger.Error("creating store failed", "error", err.Error())
		return 1
	}

	if err = store.CreateSchema(ctx); err != nil {
		logger.Error("creating schema failed", "error", err.Error())
		return 1
	}

	e, err := engine.New(store, engineOptions...)
	if err != nil {
		logger.Error("creating engine failed", "error", err.Error())
		return 1
	}

	loadGen := NewLoadGenerator(e, f.config, logger)
	if err = loadGen.Seed(ctx); err != nil {
		logger.Error("seeding failed", "error", err.Error())
		return 1
	}

	runCtx := ctx
	if f.duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	loadGen.Start(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err = loadGen.Wait(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
		return 1
	}

	if err = loadGen.Verify(shutdownCtx); err != nil {
		logger.Error("verification failed", "error", err.Error())
		return 1
	}

	return 0
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags

	fs := flag.NewFlagSet("ledger-load", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.dsn, "dsn", config.PostgresDSN(), "PostgreSQL DSN")
	fs.DurationVar(&f.duration, "duration", 0, "stop after this duration (0 = until interrupted)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.BoolVar(&f.otelEnabled, "otel", false, "report logs, spans and metrics through OpenTelemetry")
	fs.StringVar(&f.otlpEndpoint, "otlp-endpoint", config.OTLPEndpoint(), "OTLP gRPC endpoint for -otel, stderr when empty")
	fs.StringVar(&f.scenarioWeights, "scenario-weights", defaultScenarioWeights, "comma-separated weights for catalog,lending")
	fs.IntVar(&f.config.Rate, "rate", defaultRate, "scenarios per second")
	fs.IntVar(&f.config.Items, "items", defaultItems, "number of items to seed")
	fs.IntVar(&f.config.CopiesPerItem, "copies", defaultCopiesPerItem, "copies per seeded item")
	fs.IntVar(&f.config.Borrowers, "borrowers", defaultBorrowers, "number of borrowers to seed")
	fs.Int64Var(&f.config.MaxInFlight, "max-in-flight", defaultMaxInFlight, "maximum number of concurrently running scenarios")
	fs.Uint64Var(&f.config.Seed, "seed", uint64(time.Now().UnixNano()), "random seed")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}

	weights, err := parseScenarioWeights(f.scenarioWeights)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid scenario weights %q: %v\n", f.scenarioWeights, err)
		return flags{}, err
	}
	f.config.ScenarioWeights = weights

	if err = validateConfig(f.config); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return flags{}, err
	}

	return f, nil
}

func validateConfig(c Config) error {
	switch {
	case c.Rate <= 0 || c.Rate > maxRate:
		return fmt.Errorf("rate must be between 1 and %d", maxRate)
	case c.Items <= 0 || c.Borrowers <= 0:
		return errors.New("items and borrowers must be positive")
	case c.CopiesPerItem <= 0:
		return errors.New("copies must be positive")
	case c.MaxInFlight <= 0:
		return errors.New("max-in-flight must be positive")
	default:
		return nil
	}
}

func parseScenarioWeights(weightsStr string) ([]int, error) {
	parts := strings.Split(weightsStr, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected 2 weights, got %d", len(parts))
	}

	weights := make([]int, 2)
	total := 0

	for i, part := range parts {
		weight, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", part, err)
		}

		if weight < 0 || weight > 100 {
			return nil, fmt.Errorf("weight %d out of range [0, 100]", weight)
		}

		weights[i] = weight
		total += weight
	}

	if total != 100 {
		return nil, fmt.Errorf("weights must sum to 100, got %d", total)
	}

	return weights, nil
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := config.PostgresPGXPoolConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// observabilityOptions wires the same collectors into the store and the engine. The OpenTelemetry
// collectors use the global providers, so they must be installed first. Prometheus takes precedence over OpenTelemetry for metrics when both are enabled.
func observabilityOptions(ctx context.Context, f flags, logger *slog.Logger) ([]postgresengine.Option, []engine.Option) {
	var (
		metrics          ledger.MetricsCollector
		tracing          ledger.TracingCollector
		contextualLogger ledger.ContextualLogger
	)

	if f.otelEnabled {
		metrics = oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))
		tracing = oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))
		contextualLogger = oteladapters.NewSlogBridgeLogger(instrumentationName)
	}

	if f.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = prometheusadapters.NewMetricsCollector(registry)
		serveMetrics(ctx, f.metricsAddr, registry, logger)
	}

	storeOptions := []postgresengine.Option{postgresengine.WithLogger(logger)}
	engineOptions := []engine.Option{engine.WithLogger(logger)}

	if contextualLogger != nil {
		storeOptions = append(storeOptions, postgresengine.WithContextualLogger(contextualLogger))
		engineOptions = append(engineOptions, engine.WithContextualLogger(contextualLogger))
	}

	if metrics != nil {
		storeOptions = append(storeOptions, postgresengine.WithMetrics(metrics))
		engineOptions = append(engineOptions, engine.WithMetrics(metrics))
	}

	if tracing != nil {
		storeOptions = append(storeOptions, postgresengine.WithTracing(tracing))
		engineOptions = append(engineOptions, engine.WithTracing(tracing))
	}

	return storeOptions, engineOptions
}

func shutdownProviders(providers *config.ObservabilityProviders, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := providers.Shutdown(ctx); err != nil {
		logger.Warn("shutting down OpenTelemetry failed", "error", err.Error())
	}
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.Info("serving metrics", "addr", addr)
}
