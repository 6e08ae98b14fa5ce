package postgresengine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine/internal/adapters"
)

// unitOfWork implements ledger.UnitOfWork on one open transaction.
type unitOfWork struct {
	store *Store
	tx    adapters.DBTx
}

func (u *unitOfWork) InsertItem(ctx context.Context, item ledger.Item) error {
	_, err := u.store.exec(ctx, u.tx, actionInsertItem, insertItemQuery(item))
	return err
}

func (u *unitOfWork) LockItem(ctx context.Context, itemID uuid.UUID) (ledger.Item, error) {
	items, err := queryAll(ctx, u.store, u.tx, actionLockItem, selectItemQuery(itemID, true), scanItem)
	if err != nil {
		return ledger.Item{}, err
	}

	if len(items) == 0 {
		return ledger.Item{}, ledger.ErrItemNotFound
	}

	return items[0], nil
}

func (u *unitOfWork) UpdateItem(ctx context.Context, item ledger.Item) error {
	if !item.CheckBounds() {
		return ledger.ErrInvariantViolated
	}

	rowsAffected, err := u.store.exec(ctx, u.tx, actionUpdateItem, updateItemQuery(item))
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ledger.ErrItemNotFound
	}

	return nil
}

func (u *unitOfWork) DecrementAvailable(ctx context.Context, itemID uuid.UUID) (bool, error) {
	rowsAffected, err := u.store.exec(ctx, u.tx, actionDecrementAvailable, decrementAvailableQuery(itemID))
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (u *unitOfWork) IncrementAvailable(ctx context.Context, itemID uuid.UUID) (bool, error) {
	rowsAffected, err := u.store.exec(ctx, u.tx, actionIncrementAvailable, incrementAvailableQuery(itemID))
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (u *unitOfWork) DeleteItem(ctx context.Context, itemID uuid.UUID, deletedAt time.Time) error {
	rowsAffected, err := u.store.exec(ctx, u.tx, actionDeleteItem, deleteItemQuery(itemID, deletedAt.UTC()))
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ledger.ErrItemNotFound
	}

	return nil
}

func (u *unitOfWork) BorrowerExists(ctx context.Context, borrowerID uuid.UUID) (bool, error) {
	found, err := queryAll(ctx, u.store, u.tx, actionBorrowerExists, borrowerExistsQuery(borrowerID), scanOne)
	if err != nil {
		return false, err
	}

	return len(found) > 0, nil
}

func (u *unitOfWork) InsertBorrower(ctx context.Context, borrower ledger.Borrower) error {
	_, err := u.store.exec(ctx, u.tx, actionInsertBorrower, insertBorrowerQuery(borrower))
	return err
}

func (u *unitOfWork) InsertLoan(ctx context.Context, loan ledger.Loan) error {
	_, err := u.store.exec(ctx, u.tx, actionInsertLoan, insertLoanQuery(loan))
	return err
}

// LockLoan locks the loan row only.
func (u *unitOfWork) LockLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	loans, err := queryAll(ctx, u.store, u.tx, actionLockLoan, selectLoanQuery(loanID, true), scanLoan)
	if err != nil {
		return ledger.Loan{}, err
	}

	if len(loans) == 0 {
		return ledger.Loan{}, ledger.ErrLoanNotFound
	}

	return loans[0], nil
}

func (u *unitOfWork) CloseOpenLoan(ctx context.Context, loanID uuid.UUID, returnedOn time.Time) (ledger.Loan, error) {
	closed, err := queryAll(ctx, u.store, u.tx, actionCloseLoan, closeOpenLoanQuery(loanID, returnedOn), scanLoan)
	if err != nil {
		return ledger.Loan{}, err
	}

	if len(closed) == 1 {
		return closed[0], nil
	}

	existing, err := queryAll(ctx, u.store, u.tx, actionGetLoan, selectLoanQuery(loanID, false), scanLoan)
	if err != nil {
		return ledger.Loan{}, err
	}

	if len(existing) == 0 {
		return ledger.Loan{}, ledger.ErrLoanNotFound
	}

	return ledger.Loan{}, ledger.ErrAlreadyReturned
}

func (u *unitOfWork) CountOpenLoans(ctx context.Context, itemID uuid.UUID) (int, error) {
	counts, err := queryAll(ctx, u.store, u.tx, actionCountOpenLoans, countOpenLoansQuery(itemID), scanCount)
	if err != nil {
		return 0, err
	}

	if len(counts) == 0 {
		return 0, nil
	}

	return counts[0], nil
}
