package postgreswrapper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/config"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine"
)

// Adapter type constants, selected with the ADAPTER_TYPE environment variable.
const (
	TypePGXPool = "pgx.pool"
	TypeSQLDB   = "sql.db"
	TypeSQLX    = "sqlx.db"

	envAdapterType = "ADAPTER_TYPE"
	pingTimeout    = 3 * time.Second
)

// Wrapper interface to abstract over different adapter types
type Wrapper interface {
	GetStore() *postgresengine.Store
	Close()
}

// PGXPoolWrapper wraps pgxpool-based testing
type PGXPoolWrapper struct {
	pool    *pgxpool.Pool
	replica *pgxpool.Pool
	store   *postgresengine.Store
}

func (w *PGXPoolWrapper) GetStore() *postgresengine.Store {
	return w.store
}

func (w *PGXPoolWrapper) Close() {
	w.pool.Close()

	if w.replica != nil {
		w.replica.Close()
	}
}

// SQLDBWrapper wraps sql.DB-based testing
type SQLDBWrapper struct {
	db      *sql.DB
	replica *sql.DB
	store   *postgresengine.Store
}

func (w *SQLDBWrapper) GetStore() *postgresengine.Store {
	return w.store
}

func (w *SQLDBWrapper) Close() {
	_ = w.db.Close() // ignore error

	if w.replica != nil {
		_ = w.replica.Close() // ignore error
	}
}

// SQLXWrapper wraps sqlx.DB-based testing
type SQLXWrapper struct {
	db      *sqlx.DB
	replica *sqlx.DB
	store   *postgresengine.Store
}

func (w *SQLXWrapper) GetStore() *postgresengine.Store {
	return w.store
}

func (w *SQLXWrapper) Close() {
	_ = w.db.Close() // ignore error

	if w.replica != nil {
		_ = w.replica.Close() // ignore error
	}
}

// AdapterTypeFromEnv returns the adapter type selected by the environment, defaulting to pgx.pool.
func AdapterTypeFromEnv() string {
	adapterType := strings.ToLower(os.Getenv(envAdapterType))
	if adapterType == "" {
		return TypePGXPool
	}

	return adapterType
}

// CreateWrapperWithTestConfig creates the wrapper selected by the environment, with a migrated and empty schema.
// The test is skipped if the database is not reachable.
func CreateWrapperWithTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	return createWrapper(t, "", options...)
}

// CreateWrapperWithReplicaTestConfig is like CreateWrapperWithTestConfig, but the store also gets a replica
// connection. Without a configured replica DSN the primary doubles as the replica.
func CreateWrapperWithReplicaTestConfig(t testing.TB, options ...postgresengine.Option) Wrapper {
	replicaDSN := config.PostgresReplicaDSN()
	if replicaDSN == "" {
		replicaDSN = config.PostgresDSN()
	}

	return createWrapper(t, replicaDSN, options...)
}

func createWrapper(t testing.TB, replicaDSN string, options ...postgresengine.Option) Wrapper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	dsn := config.PostgresDSN()
	var wrapper Wrapper

	switch adapterType := AdapterTypeFromEnv(); adapterType {
	case TypePGXPool:
		pool := openPGXPool(t, ctx, dsn)
		w := &PGXPoolWrapper{pool: pool}

		var err error
		if replicaDSN != "" {
			w.replica = openPGXPool(t, ctx, replicaDSN)
			w.store, err = postgresengine.NewStoreFromPGXPoolAndReplica(w.pool, w.replica, options...)
		} else {
			w.store, err = postgresengine.NewStoreFromPGXPool(w.pool, options...)
		}
		require.NoError(t, err, "error creating the store in test setup")
		wrapper = w

	case TypeSQLDB:
		db := openSQLDB(t, ctx, dsn)
		w := &SQLDBWrapper{db: db}

		var err error
		if replicaDSN != "" {
			w.replica = openSQLDB(t, ctx, replicaDSN)
			w.store, err = postgresengine.NewStoreFromSQLDBAndReplica(w.db, w.replica, options...)
		} else {
			w.store, err = postgresengine.NewStoreFromSQLDB(w.db, options...)
		}
		require.NoError(t, err, "error creating the store in test setup")
		wrapper = w

	case TypeSQLX:
		db := openSQLX(t, ctx, dsn)
		w := &SQLXWrapper{db: db}

		var err error
		if replicaDSN != "" {
			w.replica = openSQLX(t, ctx, replicaDSN)
			w.store, err = postgresengine.NewStoreFromSQLXAndReplica(w.db, w.replica, options...)
		} else {
			w.store, err = postgresengine.NewStoreFromSQLX(w.db, options...)
		}
		require.NoError(t, err, "error creating the store in test setup")
		wrapper = w

	default: // neither one of the known types nor empty
		panic(fmt.Sprintf("unsupported wrapper type from env: %s", adapterType))
	}

	require.NoError(t, wrapper.GetStore().CreateSchema(ctx), "error creating the schema in test setup")
	CleanUp(t, wrapper)

	return wrapper
}

// CleanUp removes all ledger rows for the given wrapper.
func CleanUp(t testing.TB, wrapper Wrapper) {
	require.NoError(t, wrapper.GetStore().TruncateAll(context.Background()), "error cleaning up the ledger tables")
}

func openPGXPool(t testing.TB, ctx context.Context, dsn string) *pgxpool.Pool {
	poolConfig, err := config.PostgresPGXPoolConfig(dsn)
	require.NoError(t, err, "error parsing the DSN in test setup")

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err, "error connecting to DB pool in test setup")

	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		t.Skipf("postgres is not reachable: %v", pingErr)
	}

	return pool
}

func openSQLDB(t testing.TB, ctx context.Context, dsn string) *sql.DB {
	db, err := config.PostgresSQLDB(dsn)
	require.NoError(t, err, "error opening the DB in test setup")

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		t.Skipf("postgres is not reachable: %v", pingErr)
	}

	return db
}

func openSQLX(t testing.TB, ctx context.Context, dsn string) *sqlx.DB {
	db, err := config.PostgresSQLX(dsn)
	require.NoError(t, err, "error opening the DB in test setup")

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		t.Skipf("postgres is not reachable: %v", pingErr)
	}

	return db
}
