package memengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

type stagedItem struct {
	item    ledger.Item
	deleted bool
}

// unitOfWork implements ledger.UnitOfWork on top of a Store.
// Reads see the unit's own stage first and committed state second.
type unitOfWork struct {
	store *Store
	held  map[uuid.UUID]*semaphore.Weighted

	items         map[uuid.UUID]*stagedItem
	itemOrder     []uuid.UUID
	borrowers     map[uuid.UUID]ledger.Borrower
	borrowerOrder []uuid.UUID
	loans         map[uuid.UUID]ledger.Loan
	loanOrder     []uuid.UUID
}

func newUnitOfWork(store *Store) *unitOfWork {
	return &unitOfWork{
		store:     store,
		held:      make(map[uuid.UUID]*semaphore.Weighted),
		items:     make(map[uuid.UUID]*stagedItem),
		borrowers: make(map[uuid.UUID]ledger.Borrower),
		loans:     make(map[uuid.UUID]ledger.Loan),
	}
}

func (u *unitOfWork) releaseLocks() {
	for itemID, lock := range u.held {
		lock.Release(1)
		delete(u.held, itemID)
	}
}

// acquire takes the lock of an item unless the unit already holds it.
func (u *unitOfWork) acquire(ctx context.Context, itemID uuid.UUID) error {
	if _, ok := u.held[itemID]; ok {
		return nil
	}

	lock := u.store.itemLock(itemID)
	if err := lock.Acquire(ctx, 1); err != nil {
		return errors.Join(ledger.ErrUnitOfWorkFailed, err)
	}

	u.held[itemID] = lock

	return nil
}

// currentItem returns the item as this unit sees it.
func (u *unitOfWork) currentItem(itemID uuid.UUID) (ledger.Item, bool) {
	if staged, ok := u.items[itemID]; ok {
		return staged.item, !staged.deleted
	}

	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	rec, ok := u.store.items[itemID]
	if !ok || rec.deleted {
		return ledger.Item{}, false
	}

	return rec.item, true
}

// currentLoan returns the loan as this unit sees it.
func (u *unitOfWork) currentLoan(loanID uuid.UUID) (ledger.Loan, bool) {
	if loan, ok := u.loans[loanID]; ok {
		return loan, true
	}

	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	rec, ok := u.store.loans[loanID]
	if !ok {
		return ledger.Loan{}, false
	}

	return rec.loan, true
}

func (u *unitOfWork) stageItem(item ledger.Item, deleted bool) {
	if _, ok := u.items[item.ID]; !ok {
		u.itemOrder = append(u.itemOrder, item.ID)
	}

	u.items[item.ID] = &stagedItem{item: item, deleted: deleted}
}

func (u *unitOfWork) stageLoan(loan ledger.Loan) {
	if _, ok := u.loans[loan.ID]; !ok {
		u.loanOrder = append(u.loanOrder, loan.ID)
	}

	u.loans[loan.ID] = loan
}

// InsertItem stages a new item.
func (u *unitOfWork) InsertItem(ctx context.Context, item ledger.Item) error {
	if _, exists := u.currentItem(item.ID); exists {
		return ledger.ErrConflict
	}

	if item.Code != "" && u.codeTaken(item.Code, item.ID) {
		return ledger.ErrDuplicateCode
	}

	if err := u.acquire(ctx, item.ID); err != nil {
		return err
	}

	u.stageItem(item, false)

	return nil
}

func (u *unitOfWork) codeTaken(code string, itemID uuid.UUID) bool {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	return u.store.codeTakenLocked(code, itemID, u)
}

// LockItem reads a live item and holds its lock until the unit ends.
func (u *unitOfWork) LockItem(ctx context.Context, itemID uuid.UUID) (ledger.Item, error) {
	if _, exists := u.currentItem(itemID); !exists {
		return ledger.Item{}, ledger.ErrItemNotFound
	}

	if err := u.acquire(ctx, itemID); err != nil {
		return ledger.Item{}, err
	}

	// re-read: the item may have changed while we waited for the lock
	item, exists := u.currentItem(itemID)
	if !exists {
		return ledger.Item{}, ledger.ErrItemNotFound
	}

	return item, nil
}

// UpdateItem stages the descriptive fields and the counters of an item.
func (u *unitOfWork) UpdateItem(ctx context.Context, item ledger.Item) error {
	current, err := u.LockItem(ctx, item.ID)
	if err != nil {
		return err
	}

	if item.Code != "" && item.Code != current.Code && u.codeTaken(item.Code, item.ID) {
		return ledger.ErrDuplicateCode
	}

	if !item.CheckBounds() {
		return ledger.ErrInvariantViolated
	}

	item.CreatedAt = current.CreatedAt
	u.stageItem(item, false)

	return nil
}

// DecrementAvailable takes one copy out of circulation if one is available.
func (u *unitOfWork) DecrementAvailable(ctx context.Context, itemID uuid.UUID) (bool, error) {
	item, err := u.LockItem(ctx, itemID)
	if err != nil {
		return false, err
	}

	if item.AvailableCopies <= 0 {
		return false, nil
	}

	item.AvailableCopies--
	u.stageItem(item, false)

	return true, nil
}

// IncrementAvailable puts one copy back unless all copies are available already.
func (u *unitOfWork) IncrementAvailable(ctx context.Context, itemID uuid.UUID) (bool, error) {
	item, err := u.LockItem(ctx, itemID)
	if err != nil {
		return false, err
	}

	if item.AvailableCopies >= item.TotalCopies {
		return false, nil
	}

	item.AvailableCopies++
	u.stageItem(item, false)

	return true, nil
}

// DeleteItem stages the removal of an item. The record stays for the loan history; deletedAt is not kept.
func (u *unitOfWork) DeleteItem(ctx context.Context, itemID uuid.UUID, _ time.Time) error {
	item, err := u.LockItem(ctx, itemID)
	if err != nil {
		return err
	}

	u.stageItem(item, true)

	return nil
}

// BorrowerExists reports whether the borrower is known to this unit.
func (u *unitOfWork) BorrowerExists(_ context.Context, borrowerID uuid.UUID) (bool, error) {
	if _, ok := u.borrowers[borrowerID]; ok {
		return true, nil
	}

	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	_, ok := u.store.borrowers[borrowerID]

	return ok, nil
}

// InsertBorrower stages a new borrower.
func (u *unitOfWork) InsertBorrower(ctx context.Context, borrower ledger.Borrower) error {
	exists, err := u.BorrowerExists(ctx, borrower.ID)
	if err != nil {
		return err
	}

	if exists {
		return ledger.ErrConflict
	}

	u.borrowers[borrower.ID] = borrower
	u.borrowerOrder = append(u.borrowerOrder, borrower.ID)

	return nil
}

// InsertLoan stages a new open loan. Borrower and item must exist.
func (u *unitOfWork) InsertLoan(ctx context.Context, loan ledger.Loan) error {
	if _, exists := u.currentLoan(loan.ID); exists {
		return ledger.ErrConflict
	}

	borrowerExists, err := u.BorrowerExists(ctx, loan.BorrowerID)
	if err != nil {
		return err
	}

	if !borrowerExists {
		return ledger.ErrReferenceViolation
	}

	if _, err = u.LockItem(ctx, loan.ItemID); err != nil {
		if errors.Is(err, ledger.ErrItemNotFound) {
			return ledger.ErrReferenceViolation
		}
		return err
	}

	u.stageLoan(loan)

	return nil
}

// LockLoan reads a loan and holds the lock of its item until the unit ends.
// Every change of a loan happens under the lock of its item.
func (u *unitOfWork) LockLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	loan, exists := u.currentLoan(loanID)
	if !exists {
		return ledger.Loan{}, ledger.ErrLoanNotFound
	}

	if err := u.acquire(ctx, loan.ItemID); err != nil {
		return ledger.Loan{}, err
	}

	// re-read: a concurrent return may have closed it while we waited
	loan, _ = u.currentLoan(loanID)

	return loan, nil
}

// CloseOpenLoan stages the return date of an open loan.
func (u *unitOfWork) CloseOpenLoan(ctx context.Context, loanID uuid.UUID, returnedOn time.Time) (ledger.Loan, error) {
	loan, err := u.LockLoan(ctx, loanID)
	if err != nil {
		return ledger.Loan{}, err
	}

	closed, err := loan.Close(returnedOn)
	if err != nil {
		return ledger.Loan{}, err
	}

	u.stageLoan(closed)

	return closed, nil
}

// CountOpenLoans counts the open loans of an item as this unit sees them.
func (u *unitOfWork) CountOpenLoans(_ context.Context, itemID uuid.UUID) (int, error) {
	count := 0
	seen := make(map[uuid.UUID]struct{})

	for id, loan := range u.loans {
		if loan.ItemID != itemID {
			continue
		}

		seen[id] = struct{}{}
		if loan.IsOpen() {
			count++
		}
	}

	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	for _, loanID := range u.store.loansByItem[itemID] {
		if _, staged := seen[loanID]; staged {
			continue
		}

		if u.store.loans[loanID].loan.IsOpen() {
			count++
		}
	}

	return count, nil
}
