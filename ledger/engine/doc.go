// Package engine implements the lending engine on top of a ledger.Store.
//
// Every mutating operation (CreateItem, AdjustItemTotal, ReviseItem, DeleteItem, RegisterBorrower,
// IssueCopy, ReturnCopy) runs as exactly one atomic unit of work. A failed unit leaves no partial
// state, and the engine never retries on its own: ledger.ErrOutOfStock and ledger.ErrAlreadyReturned
// are final answers, store failures are surfaced to the caller.
//
// Errors of mutating operations are joined with an operation error, so both questions can be
// answered with errors.Is:
//
//	_, err := e.IssueCopy(ctx, borrowerID, itemID, time.Time{}, nil)
//	errors.Is(err, ledger.ErrIssueFailed) // true for every failure
//	errors.Is(err, ledger.ErrOutOfStock)  // true if no copy was left
//
// Once a unit has started it is detached from the caller's cancellation and runs to commit or
// abort; WithUnitTimeout bounds it.
//
// Observability is optional and dependency-free: plug in a ledger.Logger, ledger.ContextualLogger,
// ledger.MetricsCollector, or ledger.TracingCollector via the options.
package engine
