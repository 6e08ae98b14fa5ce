package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// GetItem returns one live item.
func (e *Engine) GetItem(ctx context.Context, itemID uuid.UUID) (ledger.Item, error) {
	return observeView(e, ctx, operationGetItem, func(ctx context.Context) (ledger.Item, error) {
		return e.store.GetItem(ctx, itemID)
	})
}

// ListItems returns all live items, most recently created first.
func (e *Engine) ListItems(ctx context.Context) ([]ledger.Item, error) {
	return observeView(e, ctx, operationListItems, e.store.ListItems)
}

// ListAvailableItems returns the items that have at least one copy available, ordered by title.
func (e *Engine) ListAvailableItems(ctx context.Context) ([]ledger.Item, error) {
	return observeView(e, ctx, operationListAvailableItems, e.store.ListAvailableItems)
}

// ListBorrowers returns all borrowers ordered by name.
func (e *Engine) ListBorrowers(ctx context.Context) ([]ledger.Borrower, error) {
	return observeView(e, ctx, operationListBorrowers, e.store.ListBorrowers)
}

// GetLoan returns one loan, open or closed.
func (e *Engine) GetLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	return observeView(e, ctx, operationGetLoan, func(ctx context.Context) (ledger.Loan, error) {
		return e.store.GetLoan(ctx, loanID)
	})
}

// ListOpenLoans returns all open loans with borrower name and item title, newest first.
func (e *Engine) ListOpenLoans(ctx context.Context) ([]ledger.LoanView, error) {
	return observeView(e, ctx, operationListOpenLoans, e.store.ListOpenLoans)
}

// ListLoans returns the complete loan ledger with borrower name and item title, newest first.
func (e *Engine) ListLoans(ctx context.Context) ([]ledger.LoanView, error) {
	return observeView(e, ctx, operationListLoans, e.store.ListLoans)
}

// ListOpenLoansForItem returns the open loans of one item, oldest first.
func (e *Engine) ListOpenLoansForItem(ctx context.Context, itemID uuid.UUID) ([]ledger.Loan, error) {
	return observeView(e, ctx, operationListOpenLoansForItem, func(ctx context.Context) ([]ledger.Loan, error) {
		return e.store.ListOpenLoansForItem(ctx, itemID)
	})
}

// observeView runs a read-only view inside an operation span with metrics.
// Views are not joined with an operation error: store errors and ledger.ErrNotFound pass through.
func observeView[T any](
	e *Engine,
	ctx context.Context, //nolint:revive
	operation string,
	view func(ctx context.Context) (T, error),
) (T, error) {

	ctx, obs := e.startOperation(ctx, operation, nil)

	result, err := view(ctx)
	if err != nil {
		var empty T
		obs.finish(ctx, err)
		return empty, err
	}

	obs.finish(ctx, nil)

	return result, nil
}
