package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/memengine"
	. "github.com/AntonStoeckl/lending-ledger-go/testutil/helper" //nolint:revive
)

// recordingStore records the locking and deleting calls the engine makes inside its units.
type recordingStore struct {
	*memengine.Store

	mu         sync.Mutex
	calls      []string
	deletedAts []time.Time
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call)
}

func (s *recordingStore) RunInUnitOfWork(ctx context.Context, fn ledger.UnitOfWorkFunc) error {
	return s.Store.RunInUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return fn(ctx, &recordingUnitOfWork{UnitOfWork: uow, store: s})
	})
}

type recordingUnitOfWork struct {
	ledger.UnitOfWork
	store *recordingStore
}

func (u *recordingUnitOfWork) LockLoan(ctx context.Context, loanID uuid.UUID) (ledger.Loan, error) {
	u.store.record("lock_loan")
	return u.UnitOfWork.LockLoan(ctx, loanID)
}

func (u *recordingUnitOfWork) LockItem(ctx context.Context, itemID uuid.UUID) (ledger.Item, error) {
	u.store.record("lock_item")
	return u.UnitOfWork.LockItem(ctx, itemID)
}

func (u *recordingUnitOfWork) DeleteItem(ctx context.Context, itemID uuid.UUID, deletedAt time.Time) error {
	u.store.mu.Lock()
	u.store.deletedAts = append(u.store.deletedAts, deletedAt)
	u.store.mu.Unlock()

	return u.UnitOfWork.DeleteItem(ctx, itemID, deletedAt)
}

func setupRecordingEngine(t *testing.T) (*engine.Engine, *recordingStore) {
	store, err := memengine.NewStore()
	require.NoError(t, err, "error in test setup")

	recording := &recordingStore{Store: store}
	e, err := engine.New(recording, engine.WithClock(FixedClock))
	require.NoError(t, err, "error in test setup")

	return e, recording
}

func Test_ReturnCopy_LocksTheItemItselfAfterTheLoan(t *testing.T) {
	// setup
	e, store := setupRecordingEngine(t)
	ctx := t.Context()
	item := GivenItemWasCreated(t, ctx, e, 1)
	borrower := GivenBorrowerWasRegistered(t, ctx, e, "Ada")
	loan := GivenCopyWasIssued(t, ctx, e, borrower.ID, item.ID)

	store.mu.Lock()
	store.calls = nil
	store.mu.Unlock()

	// act
	_, err := e.ReturnCopy(ctx, loan.ID, FakeClock)

	// assert
	require.NoError(t, err)
	store.mu.Lock()
	defer store.mu.Unlock()
	require.GreaterOrEqual(t, len(store.calls), 2)
	assert.Equal(t, []string{"lock_loan", "lock_item"}, store.calls[:2])
}

func Test_DeleteItem_StampsTheEngineClock(t *testing.T) {
	// setup
	e, store := setupRecordingEngine(t)
	item := GivenItemWasCreated(t, t.Context(), e, 1)

	// act
	err := e.DeleteItem(t.Context(), item.ID)

	// assert
	require.NoError(t, err)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []time.Time{FakeClock}, store.deletedAts)
}
