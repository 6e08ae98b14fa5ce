package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CatalogStore is the transactional surface of the catalog inside one unit of work.
type CatalogStore interface {
	// InsertItem persists a new item. Returns ErrDuplicateCode if a live item has the same non-empty code.
	InsertItem(ctx context.Context, item Item) error

	// LockItem reads the item and holds its lock until the unit of work ends.
	// Returns ErrItemNotFound for unknown or deleted items.
	LockItem(ctx context.Context, itemID uuid.UUID) (Item, error)

	// UpdateItem writes the descriptive fields and both counters of a locked item.
	UpdateItem(ctx context.Context, item Item) error

	// DecrementAvailable takes one copy out of circulation, guarded by available_copies > 0.
	// It reports false when the guard did not hold and nothing was written.
	DecrementAvailable(ctx context.Context, itemID uuid.UUID) (bool, error)

	// IncrementAvailable puts one copy back, clamped at total_copies.
	// It reports false when the clamp kept the counter unchanged.
	IncrementAvailable(ctx context.Context, itemID uuid.UUID) (bool, error)

	// DeleteItem removes a locked item from the catalog as of deletedAt. Loan history keeps referencing it.
	DeleteItem(ctx context.Context, itemID uuid.UUID, deletedAt time.Time) error

	// BorrowerExists reports whether the borrower is known.
	BorrowerExists(ctx context.Context, borrowerID uuid.UUID) (bool, error)

	// InsertBorrower persists a new borrower.
	InsertBorrower(ctx context.Context, borrower Borrower) error
}

// LedgerStore is the transactional surface of the loan ledger inside one unit of work.
type LedgerStore interface {
	// InsertLoan persists a new open loan.
	InsertLoan(ctx context.Context, loan Loan) error

	// LockLoan reads the loan and holds its lock until the unit of work ends.
	// Returns ErrLoanNotFound if absent. Stores may lock the loan's item as well;
	// callers that change the item still lock it with LockItem.
	LockLoan(ctx context.Context, loanID uuid.UUID) (Loan, error)

	// CloseOpenLoan records the return date of an open loan.
	// Returns ErrLoanNotFound if absent and ErrAlreadyReturned if it is closed already.
	CloseOpenLoan(ctx context.Context, loanID uuid.UUID, returnedOn time.Time) (Loan, error)

	// CountOpenLoans returns the number of open loans for the item.
	CountOpenLoans(ctx context.Context, itemID uuid.UUID) (int, error)
}

// UnitOfWork spans both stores. Everything written through it commits or aborts as one.
type UnitOfWork interface {
	CatalogStore
	LedgerStore
}

// UnitOfWorkFunc is the body of one atomic unit. Returning an error aborts the unit.
type UnitOfWorkFunc func(ctx context.Context, uow UnitOfWork) error

// Views are read-only projections. They never mutate and never take row locks.
type Views interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (Item, error)

	// ListItems returns all live items, most recently created first.
	ListItems(ctx context.Context) ([]Item, error)

	// ListAvailableItems returns live items with at least one available copy, ordered by title.
	ListAvailableItems(ctx context.Context) ([]Item, error)

	// ListBorrowers returns all borrowers ordered by name.
	ListBorrowers(ctx context.Context) ([]Borrower, error)

	GetLoan(ctx context.Context, loanID uuid.UUID) (Loan, error)

	// ListOpenLoans returns all open loans joined with borrower name and item title, newest first.
	ListOpenLoans(ctx context.Context) ([]LoanView, error)

	// ListLoans returns all loans, open and closed, joined with borrower name and item title, newest first.
	ListLoans(ctx context.Context) ([]LoanView, error)

	// ListOpenLoansForItem returns the open loans of one item, oldest first.
	ListOpenLoansForItem(ctx context.Context, itemID uuid.UUID) ([]Loan, error)
}

// Store is implemented by the storage engines.
type Store interface {
	Views

	// RunInUnitOfWork runs fn in one atomic unit. The unit commits if fn returns nil and
	// aborts otherwise, including when fn panics. Cancelling ctx aborts the unit.
	RunInUnitOfWork(ctx context.Context, fn UnitOfWorkFunc) error
}

// ConsistencyReport describes the counter state of one item against its open loans.
type ConsistencyReport struct {
	ItemID          uuid.UUID `json:"item_id"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	OpenLoans       int       `json:"open_loans"`
	WithinBounds    bool      `json:"within_bounds"`
	Balanced        bool      `json:"balanced"`
}

// BuildConsistencyReport compares the counters of item with the number of its open loans.
// Balanced is false while a clamped shrink leaves more open loans than copies on loan.
func BuildConsistencyReport(item Item, openLoans int) ConsistencyReport {
	return ConsistencyReport{
		ItemID:          item.ID,
		TotalCopies:     item.TotalCopies,
		AvailableCopies: item.AvailableCopies,
		OpenLoans:       openLoans,
		WithinBounds:    item.CheckBounds(),
		Balanced:        item.OnLoan() == openLoans,
	}
}
