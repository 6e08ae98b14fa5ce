package adapters

import "context"

// DBQuerier runs parameterized statements.
type DBQuerier interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	Exec(ctx context.Context, query string, args ...any) (DBResult, error)
}

// DBAdapter defines the interface for database operations needed by the ledger store.
// Query outside a transaction honors the consistency level of ctx; BeginTx always uses the primary.
type DBAdapter interface {
	DBQuerier
	BeginTx(ctx context.Context) (DBTx, error)
}

// DBTx is one database transaction.
type DBTx interface {
	DBQuerier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
