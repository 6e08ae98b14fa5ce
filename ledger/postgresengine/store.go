package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine/internal/adapters"
)

// Store is the PostgreSQL implementation of ledger.Store.
// Every unit of work is one transaction; row locks are taken with SELECT ... FOR UPDATE.
type Store struct {
	db               adapters.DBAdapter
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metricsCollector ledger.MetricsCollector
	tracingCollector ledger.TracingCollector
}

// NewStoreFromPGXPool creates a new Store using a pgx Pool with optional configuration.
func NewStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ledger.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(db), options...)
}

// NewStoreFromPGXPoolAndReplica creates a new Store using a pgx Pool for the primary and one for the replica.
// Views are served from the replica when the context asks for eventual consistency.
func NewStoreFromPGXPoolAndReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*Store, error) {
	if db == nil || replica == nil {
		return nil, ledger.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewStoreFromSQLDB creates a new Store using a sql.DB with optional configuration.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ledger.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), options...)
}

// NewStoreFromSQLDBAndReplica creates a new Store using a sql.DB for the primary and one for the replica.
func NewStoreFromSQLDBAndReplica(db *sql.DB, replica *sql.DB, options ...Option) (*Store, error) {
	if db == nil || replica == nil {
		return nil, ledger.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapterWithReplica(db, replica), options...)
}

// NewStoreFromSQLX creates a new Store using a sqlx.DB with optional configuration.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ledger.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options...)
}

// NewStoreFromSQLXAndReplica creates a new Store using a sqlx.DB for the primary and one for the replica.
func NewStoreFromSQLXAndReplica(db *sqlx.DB, replica *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil || replica == nil {
		return nil, ledger.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapterWithReplica(db, replica), options...)
}

func newStore(db adapters.DBAdapter, options ...Option) (*Store, error) {
	s := &Store{db: db}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RunInUnitOfWork runs fn in one transaction on the primary. The transaction commits if fn
// returns nil and is rolled back otherwise, including when fn panics.
func (s *Store) RunInUnitOfWork(ctx context.Context, fn ledger.UnitOfWorkFunc) (err error) {
	ctx, span := s.startTraceSpan(ctx, spanNameUnitOfWork, map[string]string{spanAttrOperation: operationUnitOfWork})
	start := time.Now()

	tx, beginErr := s.db.BeginTx(ctx)
	if beginErr != nil {
		s.logError(ctx, logMsgBeginTxFailed, beginErr)
		s.recordErrorMetrics(ctx, operationUnitOfWork, errorTypeBeginTx)
		s.finishUnit(ctx, span, statusError, time.Since(start), beginErr)

		return errors.Join(ledger.ErrUnitOfWorkFailed, beginErr)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		if rollbackErr := tx.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil && !isTxDone(rollbackErr) {
			s.logWarn(ctx, logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}

		if r := recover(); r != nil {
			s.finishUnit(ctx, span, statusError, time.Since(start), fmt.Errorf("panic: %v", r))
			panic(r)
		}

		s.finishUnit(ctx, span, statusAborted, time.Since(start), err)
	}()

	if err = fn(ctx, &unitOfWork{store: s, tx: tx}); err != nil {
		return err
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		s.logError(ctx, logMsgCommitFailed, commitErr)
		s.recordErrorMetrics(ctx, operationUnitOfWork, errorTypeCommit)

		if classified := classifyDriverError(commitErr); classified != nil {
			return classified
		}

		return errors.Join(ledger.ErrCommitFailed, commitErr)
	}

	committed = true
	s.finishUnit(ctx, span, statusCommitted, time.Since(start), nil)

	return nil
}

// isTxDone reports whether a rollback error only says that the transaction has already ended.
func isTxDone(err error) bool {
	return errors.Is(err, sql.ErrTxDone) || errors.Is(err, pgx.ErrTxClosed)
}
