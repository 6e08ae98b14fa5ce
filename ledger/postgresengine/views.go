package postgresengine

import (
	"context"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// GetItem returns a live item or ledger.ErrItemNotFound.
// Like all views it reads from the replica when ctx carries ledger.WithEventualConsistency.
func (s *Store) GetItem(ctx context.Context, itemID uuid.UUID) (ledger.Item, error) {
	items, err := queryAll(ctx, s, s.db, actionGetItem, selectItemQuery(itemID, false), scanItem)
	if err != nil {
		return ledger.Item{}, err
	}

	if len(items) == 0 {
		return ledger.Item{}, ledger.ErrItemNotFound
	}

	return items[0], nil
}

// ListItems returns all live items, most recently created first.
func (s *Store) ListItems(ctx context.Context) ([]ledger.Item, error) {
	return queryAll(ctx, s, s.db, actionListItems, listItemsQuery(false), scanItem)
}

// ListAvailableItems returns live items with at least one available copy, ordered by title.
func (s *Store) ListAvailableItems(ctx context.Context) ([]ledger.Item, error) {
	return queryAll(ctx, s, s.db, actionListAvailableItems, listItemsQuery(true), scanItem)
}

// ListBorrowers returns all borrowers ordered by name.
func (s *Store) ListBorrowers(ctx context.Context) ([]ledger.Borrower, error) {
	return queryAll(ctx, s, s.db, actionListBorrowers, listBorrowersQuery(), scanBorrower)
}

// GetLoan returns a loan or ledger.ErrLoanNotFound.
func (s *Store) GetLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	loans, err := queryAll(ctx, s, s.db, actionGetLoan, selectLoanQuery(loanID, false), scanLoan)
	if err != nil {
		return ledger.Loan{}, err
	}

	if len(loans) == 0 {
		return ledger.Loan{}, ledger.ErrLoanNotFound
	}

	return loans[0], nil
}

// ListOpenLoans returns all open loans joined with borrower name and item title, newest first.
func (s *Store) ListOpenLoans(ctx context.Context) ([]ledger.LoanView, error) {
	return queryAll(ctx, s, s.db, actionListOpenLoans, listLoanViewsQuery(true), scanLoanView)
}

// ListLoans returns all loans joined with borrower name and item title, newest first.
func (s *Store) ListLoans(ctx context.Context) ([]ledger.LoanView, error) {
	return queryAll(ctx, s, s.db, actionListLoans, listLoanViewsQuery(false), scanLoanView)
}

// ListOpenLoansForItem returns the open loans of one item, oldest first.
func (s *Store) ListOpenLoansForItem(ctx context.Context, itemID uuid.UUID) ([]ledger.Loan, error) {
	return queryAll(ctx, s, s.db, actionListOpenLoansForItem, listOpenLoansForItemQuery(itemID), scanLoan)
}
