// Command ledgerctl operates a lending ledger stored in PostgreSQL.
//
// Usage:
//
//	ledgerctl [global flags] <command> [command flags]
//
// Global flags select the database and the adapter; LEDGER_POSTGRES_DSN, LEDGER_POSTGRES_REPLICA_DSN
// and ADAPTER_TYPE are used when the flags are not given. Results are printed as JSON on stdout,
// logs go to stderr.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/lending-ledger-go/config"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine"
)

const (
	adapterPGXPool = "pgx.pool"
	adapterSQLDB   = "sql.db"
	adapterSQLX    = "sqlx.db"

	envAdapterType = "ADAPTER_TYPE"

	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitRejected = 3

	defaultTimeout = 30 * time.Second
)

type globalFlags struct {
	dsn          string
	replicaDSN   string
	adapter      string
	logLevel     string
	timeout      time.Duration
	unitTimeout  time.Duration
	rejectShrink bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	globals, rest, err := parseGlobalFlags(args, stderr)
	if err != nil {
		return exitUsage
	}

	if len(rest) == 0 {
		_, _ = fmt.Fprintln(stderr, usage())
		return exitUsage
	}

	logger := newLogger(stderr, globals.logLevel)

	ctx, cancel := context.WithTimeout(ctx, globals.timeout)
	defer cancel()

	store, closeStore, err := openStore(ctx, globals, logger)
	if err != nil {
		logger.Error("opening store failed", "error", err.Error())
		return exitError
	}
	defer closeStore()

	engineOptions := []engine.Option{
		engine.WithLogger(logger),
		engine.WithUnitTimeout(globals.unitTimeout),
	}
	if globals.rejectShrink {
		engineOptions = append(engineOptions, engine.WithShrinkPolicy(engine.ShrinkRejectStranding))
	}

	e, err := engine.New(store, engineOptions...)
	if err != nil {
		logger.Error("creating engine failed", "error", err.Error())
		return exitError
	}

	a := &app{engine: e, schema: store, out: stdout, errOut: stderr, logger: logger, clock: time.Now}

	return a.dispatch(ctx, rest)
}

func parseGlobalFlags(args []string, stderr io.Writer) (globalFlags, []string, error) {
	var globals globalFlags

	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprintln(stderr, usage()); fs.PrintDefaults() }
	fs.StringVar(&globals.dsn, "dsn", config.PostgresDSN(), "PostgreSQL DSN of the primary")
	fs.StringVar(&globals.replicaDSN, "replica-dsn", config.PostgresReplicaDSN(), "PostgreSQL DSN of a read replica (optional)")
	fs.StringVar(&globals.adapter, "adapter", adapterFromEnv(), "database adapter: pgx.pool, sql.db or sqlx.db")
	fs.StringVar(&globals.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.DurationVar(&globals.timeout, "timeout", defaultTimeout, "timeout for the whole command")
	fs.DurationVar(&globals.unitTimeout, "unit-timeout", 0, "timeout for a single unit of work (0 = none)")
	fs.BoolVar(&globals.rejectShrink, "reject-stranding-shrink", false, "reject total adjustments below the number of open loans")

	if err := fs.Parse(args); err != nil {
		return globalFlags{}, nil, err
	}

	return globals, fs.Args(), nil
}

func adapterFromEnv() string {
	if adapter := strings.ToLower(os.Getenv(envAdapterType)); adapter != "" {
		return adapter
	}

	return adapterPGXPool
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		slogLevel = slog.LevelWarn
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel}))
}

// openStore connects the selected adapter. Without a replica DSN every read goes to the primary.
func openStore(ctx context.Context, globals globalFlags, logger *slog.Logger) (*postgresengine.Store, func(), error) {
	storeOptions := []postgresengine.Option{postgresengine.WithLogger(logger)}

	switch globals.adapter {
	case adapterPGXPool:
		primary, err := openPGXPool(ctx, globals.dsn)
		if err != nil {
			return nil, nil, err
		}

		if globals.replicaDSN == "" {
			store, storeErr := postgresengine.NewStoreFromPGXPool(primary, storeOptions...)
			return store, primary.Close, storeErr
		}

		replica, err := openPGXPool(ctx, globals.replicaDSN)
		if err != nil {
			primary.Close()
			return nil, nil, err
		}

		store, err := postgresengine.NewStoreFromPGXPoolAndReplica(primary, replica, storeOptions...)

		return store, func() { primary.Close(); replica.Close() }, err

	case adapterSQLDB:
		primary, err := openSQLDB(ctx, globals.dsn)
		if err != nil {
			return nil, nil, err
		}

		if globals.replicaDSN == "" {
			store, storeErr := postgresengine.NewStoreFromSQLDB(primary, storeOptions...)
			return store, func() { _ = primary.Close() }, storeErr
		}

		replica, err := openSQLDB(ctx, globals.replicaDSN)
		if err != nil {
			_ = primary.Close()
			return nil, nil, err
		}

		store, err := postgresengine.NewStoreFromSQLDBAndReplica(primary, replica, storeOptions...)

		return store, func() { _ = primary.Close(); _ = replica.Close() }, err

	case adapterSQLX:
		primary, err := openSQLX(ctx, globals.dsn)
		if err != nil {
			return nil, nil, err
		}

		if globals.replicaDSN == "" {
			store, storeErr := postgresengine.NewStoreFromSQLX(primary, storeOptions...)
			return store, func() { _ = primary.Close() }, storeErr
		}

		replica, err := openSQLX(ctx, globals.replicaDSN)
		if err != nil {
			_ = primary.Close()
			return nil, nil, err
		}

		store, err := postgresengine.NewStoreFromSQLXAndReplica(primary, replica, storeOptions...)

		return store, func() { _ = primary.Close(); _ = replica.Close() }, err

	default:
		return nil, nil, fmt.Errorf("unsupported adapter %q", globals.adapter)
	}
}

func openPGXPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
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

func openSQLDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := config.PostgresSQLDB(dsn)
	if err != nil {
		return nil, err
	}

	if err = db.PingContext(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return db, nil
}

func openSQLX(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := config.PostgresSQLX(dsn)
	if err != nil {
		return nil, err
	}

	if err = db.PingContext(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return db, nil
}
