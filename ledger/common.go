package ledger

import (
	"errors"
	"fmt"
)

// Error categories. Every specific error below wraps exactly one of them,
// so callers can map errors to user-facing messages with errors.Is.
var (
	// ErrValidation is returned for malformed input, before any mutation is attempted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an operation conflicts with existing state.
	ErrConflict = errors.New("conflict")

	// ErrOutOfStock is returned when an item has no available copy left.
	ErrOutOfStock = errors.New("no copy available")
)

var (
	ErrEmptyTitle            = fmt.Errorf("title must not be empty: %w", ErrValidation)
	ErrNegativeTotalCopies   = fmt.Errorf("total copies must not be negative: %w", ErrValidation)
	ErrEmptyBorrowerName     = fmt.Errorf("borrower name must not be empty: %w", ErrValidation)
	ErrDueBeforeIssue        = fmt.Errorf("due date is before issue date: %w", ErrValidation)
	ErrReturnBeforeIssue     = fmt.Errorf("return date is before issue date: %w", ErrValidation)
	ErrItemNotFound          = fmt.Errorf("item %w", ErrNotFound)
	ErrBorrowerNotFound      = fmt.Errorf("borrower %w", ErrNotFound)
	ErrLoanNotFound          = fmt.Errorf("loan %w", ErrNotFound)
	ErrAlreadyReturned       = fmt.Errorf("loan already returned: %w", ErrConflict)
	ErrItemHasOpenLoans      = fmt.Errorf("item has open loans: %w", ErrConflict)
	ErrDuplicateCode         = fmt.Errorf("external code already in use: %w", ErrConflict)
	ErrShrinkStrandsOpenLoan = fmt.Errorf("new total is below the number of open loans: %w", ErrConflict)
	ErrReferenceViolation    = fmt.Errorf("referenced record does not exist: %w", ErrConflict)
)

// Operation failures. The engine joins them with the cause: errors.Join(ErrIssueFailed, cause).
var (
	ErrCreateItemFailed       = errors.New("creating item failed")
	ErrAdjustFailed           = errors.New("adjusting item total failed")
	ErrDeleteFailed           = errors.New("deleting item failed")
	ErrRegisterBorrowerFailed = errors.New("registering borrower failed")
	ErrIssueFailed            = errors.New("issuing copy failed")
	ErrReturnFailed           = errors.New("returning copy failed")
)

// Store level errors.
var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrNilStore              = errors.New("store must not be nil")
	ErrBuildingQueryFailed   = errors.New("building query failed")
	ErrQueryFailed           = errors.New("database query failed")
	ErrScanningDBRowFailed   = errors.New("scanning database row failed")
	ErrUnitOfWorkFailed      = errors.New("unit of work failed")
	ErrCommitFailed          = errors.New("committing unit of work failed")
	ErrInvariantViolated     = errors.New("copy counter invariant violated")
)
