// Package postgresengine provides a PostgreSQL implementation of ledger.Store.
//
// Every unit of work runs in one transaction on the primary. Items and loans are locked with
// SELECT ... FOR UPDATE, and the copy counters are only changed by guarded UPDATE statements,
// so concurrent issues of the last copy are serialized by the database. The schema backs the
// counter bounds with CHECK constraints and the catalog codes with a partial unique index.
//
// Multiple database adapters are supported (pgx.Pool, sql.DB via lib/pq, sqlx.DB), each
// optionally with a replica that serves the views for contexts marked with
// ledger.WithEventualConsistency.
//
// Usage examples:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	store, _ := postgresengine.NewStoreFromPGXPool(pool, postgresengine.WithLogger(logger))
//	_ = store.CreateSchema(ctx)
//
//	lending, _ := engine.New(store)
//	loan, err := lending.IssueCopy(ctx, borrowerID, itemID, time.Time{}, nil)
package postgresengine
