package memengine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	logMsgUnitCommitted   = "unit of work committed"
	logMsgUnitAborted     = "unit of work aborted"
	logAttrError          = "error"
	logAttrItemsWritten   = "items_written"
	logAttrLoansWritten   = "loans_written"
	logAttrLocksHeld      = "locks_held"
	logAttrBorrowersAdded = "borrowers_written"
)

type itemRecord struct {
	item    ledger.Item
	seq     uint64
	deleted bool
}

type loanRecord struct {
	loan ledger.Loan
	seq  uint64
}

// Store is an in-process ledger.Store.
//
// Committed state lives in maps guarded by a short RWMutex that is never held while a unit
// waits. Units serialize on per-item locks (a weighted semaphore of size one per item), so
// units for different items run in parallel. Writes are staged in the unit and applied in
// one step on commit.
type Store struct {
	mu          sync.RWMutex
	items       map[uuid.UUID]*itemRecord
	borrowers   map[uuid.UUID]ledger.Borrower
	loans       map[uuid.UUID]*loanRecord
	loansByItem map[uuid.UUID][]uuid.UUID
	seq         uint64

	locksMu   sync.Mutex
	itemLocks map[uuid.UUID]*semaphore.Weighted

	logger ledger.Logger
}

// Option defines a functional option for configuring the Store.
type Option func(*Store) error

// WithLogger sets the logger for the Store.
// Debug level: commits and aborts of units of work.
func WithLogger(logger ledger.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewStore creates an empty Store with optional configuration.
func NewStore(options ...Option) (*Store, error) {
	s := &Store{
		items:       make(map[uuid.UUID]*itemRecord),
		borrowers:   make(map[uuid.UUID]ledger.Borrower),
		loans:       make(map[uuid.UUID]*loanRecord),
		loansByItem: make(map[uuid.UUID][]uuid.UUID),
		itemLocks:   make(map[uuid.UUID]*semaphore.Weighted),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RunInUnitOfWork runs fn in one atomic unit. Nothing fn wrote is visible to others
// before the unit commits, and nothing at all if it aborts.
func (s *Store) RunInUnitOfWork(ctx context.Context, fn ledger.UnitOfWorkFunc) (err error) {
	uow := newUnitOfWork(s)
	defer uow.releaseLocks()

	defer func() {
		if err != nil && s.logger != nil {
			s.logger.Debug(logMsgUnitAborted, logAttrError, err.Error())
		}
	}()

	if err = fn(ctx, uow); err != nil {
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ledger.ErrUnitOfWorkFailed, ctxErr)
	}

	if err = s.commit(uow); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Debug(logMsgUnitCommitted,
			logAttrItemsWritten, len(uow.items),
			logAttrLoansWritten, len(uow.loans),
			logAttrBorrowersAdded, len(uow.borrowers),
			logAttrLocksHeld, len(uow.held))
	}

	return nil
}

// commit applies the stage of uow. Only code uniqueness can have changed since the unit
// read it, because codes are not covered by item locks.
func (s *Store) commit(uow *unitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, staged := range uow.items {
		if staged.deleted || staged.item.Code == "" {
			continue
		}

		if s.codeTakenLocked(staged.item.Code, staged.item.ID, uow) {
			return ledger.ErrDuplicateCode
		}
	}

	for _, id := range uow.itemOrder {
		staged := uow.items[id]
		if rec, ok := s.items[id]; ok {
			rec.item = staged.item
			rec.deleted = staged.deleted
			continue
		}

		s.seq++
		s.items[id] = &itemRecord{item: staged.item, seq: s.seq, deleted: staged.deleted}
	}

	for _, id := range uow.borrowerOrder {
		s.borrowers[id] = uow.borrowers[id]
	}

	for _, id := range uow.loanOrder {
		staged := uow.loans[id]
		if rec, ok := s.loans[id]; ok {
			rec.loan = staged
			continue
		}

		s.seq++
		s.loans[id] = &loanRecord{loan: staged, seq: s.seq}
		s.loansByItem[staged.ItemID] = append(s.loansByItem[staged.ItemID], id)
	}

	return nil
}

// codeTakenLocked reports whether a live item other than itemID uses code,
// looking at committed state and at the stage of uow. Callers hold s.mu.
func (s *Store) codeTakenLocked(code string, itemID uuid.UUID, uow *unitOfWork) bool {
	for id, rec := range s.items {
		if id == itemID || rec.deleted {
			continue
		}

		if staged, ok := uow.items[id]; ok {
			if staged.deleted || staged.item.Code != code {
				continue
			}
			return true
		}

		if rec.item.Code == code {
			return true
		}
	}

	for id, staged := range uow.items {
		if id == itemID || staged.deleted {
			continue
		}

		if _, committed := s.items[id]; !committed && staged.item.Code == code {
			return true
		}
	}

	return false
}

// itemLock returns the lock of an item, creating it on first use.
func (s *Store) itemLock(itemID uuid.UUID) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.itemLocks[itemID]
	if !ok {
		lock = semaphore.NewWeighted(1)
		s.itemLocks[itemID] = lock
	}

	return lock
}

// GetItem returns one live item.
func (s *Store) GetItem(_ context.Context, itemID uuid.UUID) (ledger.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[itemID]
	if !ok || rec.deleted {
		return ledger.Item{}, ledger.ErrItemNotFound
	}

	return rec.item, nil
}

// ListItems returns all live items, most recently created first.
func (s *Store) ListItems(_ context.Context) ([]ledger.Item, error) {
	return s.listItems(func(ledger.Item) bool { return true }, func(a, b *itemRecord) bool {
		return a.seq > b.seq
	}), nil
}

// ListAvailableItems returns live items with at least one available copy, ordered by title.
func (s *Store) ListAvailableItems(_ context.Context) ([]ledger.Item, error) {
	return s.listItems(ledger.Item.HasAvailableCopy, func(a, b *itemRecord) bool {
		if a.item.Title != b.item.Title {
			return a.item.Title < b.item.Title
		}
		return a.seq < b.seq
	}), nil
}

func (s *Store) listItems(include func(ledger.Item) bool, less func(a, b *itemRecord) bool) []ledger.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*itemRecord, 0, len(s.items))
	for _, rec := range s.items {
		if !rec.deleted && include(rec.item) {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool { return less(records[i], records[j]) })

	items := make([]ledger.Item, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.item)
	}

	return items
}

// ListBorrowers returns all borrowers ordered by name.
func (s *Store) ListBorrowers(_ context.Context) ([]ledger.Borrower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	borrowers := make([]ledger.Borrower, 0, len(s.borrowers))
	for _, borrower := range s.borrowers {
		borrowers = append(borrowers, borrower)
	}

	sort.Slice(borrowers, func(i, j int) bool {
		if borrowers[i].Name != borrowers[j].Name {
			return borrowers[i].Name < borrowers[j].Name
		}
		return borrowers[i].ID.String() < borrowers[j].ID.String()
	})

	return borrowers, nil
}

// GetLoan returns one loan, open or closed.
func (s *Store) GetLoan(_ context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.loans[loanID]
	if !ok {
		return ledger.Loan{}, ledger.ErrLoanNotFound
	}

	return rec.loan, nil
}

// ListOpenLoans returns all open loans joined with borrower name and item title, newest first.
func (s *Store) ListOpenLoans(_ context.Context) ([]ledger.LoanView, error) {
	return s.listLoanViews(ledger.Loan.IsOpen), nil
}

// ListLoans returns all loans joined with borrower name and item title, newest first.
func (s *Store) ListLoans(_ context.Context) ([]ledger.LoanView, error) {
	return s.listLoanViews(func(ledger.Loan) bool { return true }), nil
}

func (s *Store) listLoanViews(include func(ledger.Loan) bool) []ledger.LoanView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*loanRecord, 0, len(s.loans))
	for _, rec := range s.loans {
		if include(rec.loan) {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })

	views := make([]ledger.LoanView, 0, len(records))
	for _, rec := range records {
		view := ledger.LoanView{
			LoanID:       rec.loan.ID,
			BorrowerID:   rec.loan.BorrowerID,
			BorrowerName: s.borrowers[rec.loan.BorrowerID].Name,
			ItemID:       rec.loan.ItemID,
			IssuedOn:     rec.loan.IssuedOn,
			DueOn:        rec.loan.DueOn,
			ReturnedOn:   rec.loan.ReturnedOnPtr(),
		}

		if item, ok := s.items[rec.loan.ItemID]; ok {
			view.ItemTitle = item.item.Title
		}

		views = append(views, view)
	}

	return views
}

// ListOpenLoansForItem returns the open loans of one item, oldest first.
func (s *Store) ListOpenLoansForItem(_ context.Context, itemID uuid.UUID) ([]ledger.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]ledger.Loan, 0)
	for _, loanID := range s.loansByItem[itemID] {
		if loan := s.loans[loanID].loan; loan.IsOpen() {
			loans = append(loans, loan)
		}
	}

	return loans, nil
}
