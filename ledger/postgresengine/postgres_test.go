package postgresengine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/engine"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine"
	. "github.com/AntonStoeckl/lending-ledger-go/testutil/helper" //nolint:revive
	"github.com/AntonStoeckl/lending-ledger-go/testutil/helper/postgreswrapper"
)

func setupPostgresEngine(t *testing.T, options ...postgresengine.Option) (*engine.Engine, *postgresengine.Store) {
	wrapper := postgreswrapper.CreateWrapperWithTestConfig(t, options...)
	t.Cleanup(wrapper.Close)

	e, err := engine.New(wrapper.GetStore(), engine.WithClock(FixedClock))
	require.NoError(t, err, "error in test setup")

	return e, wrapper.GetStore()
}

func Test_IssueCopy_LastCopy_OnlyOneConcurrentRequestWins(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, _ := setupPostgresEngine(t)

	// arrange
	item := GivenItemWasCreated(t, ctxWithTimeout, e, 1)
	borrower := GivenBorrowerWasRegistered(t, ctxWithTimeout, e, "Ada")
	var issued, outOfStock atomic.Int32

	// act
	group, groupCtx := errgroup.WithContext(ctxWithTimeout)
	for range 10 {
		group.Go(func() error {
			_, err := e.IssueCopy(groupCtx, borrower.ID, item.ID, FakeClock, nil)

			switch {
			case err == nil:
				issued.Add(1)
			case errors.Is(err, ledger.ErrOutOfStock):
				outOfStock.Add(1)
			default:
				return err
			}

			return nil
		})
	}

	// assert
	require.NoError(t, group.Wait())
	assert.Equal(t, int32(1), issued.Load())
	assert.Equal(t, int32(9), outOfStock.Load())

	report, err := e.CheckItemConsistency(ctxWithTimeout, item.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced)
	assert.Equal(t, 0, report.AvailableCopies)
	assert.Equal(t, 1, report.OpenLoans)
}

func Test_IssueAndReturn_ConcurrentTraffic_KeepsItemBalanced(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	e, _ := setupPostgresEngine(t)

	// arrange
	item := GivenItemWasCreated(t, ctxWithTimeout, e, 3)
	borrower := GivenBorrowerWasRegistered(t, ctxWithTimeout, e, "Grace")

	// act
	group, groupCtx := errgroup.WithContext(ctxWithTimeout)
	for range 6 {
		group.Go(func() error {
			for range 5 {
				loan, err := e.IssueCopy(groupCtx, borrower.ID, item.ID, FakeClock, nil)
				if errors.Is(err, ledger.ErrOutOfStock) {
					continue
				}
				if err != nil {
					return err
				}

				if _, err = e.ReturnCopy(groupCtx, loan.ID, FakeClock); err != nil {
					return err
				}
			}

			return nil
		})
	}

	// assert
	require.NoError(t, group.Wait())

	report, err := e.CheckItemConsistency(ctxWithTimeout, item.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced)
	assert.Equal(t, 3, report.AvailableCopies)
	assert.Equal(t, 0, report.OpenLoans)
}

func Test_ReturnCopy_Twice_IsRejected(t *testing.T) {
	// setup
	ctx := t.Context()
	e, _ := setupPostgresEngine(t)

	// arrange
	item := GivenItemWasCreated(t, ctx, e, 2)
	borrower := GivenBorrowerWasRegistered(t, ctx, e, "Ada")
	loan := GivenCopyWasIssued(t, ctx, e, borrower.ID, item.ID)
	GivenCopyWasReturned(t, ctx, e, loan.ID)

	// act
	_, err := e.ReturnCopy(ctx, loan.ID, FakeClock.AddDate(0, 0, 8))
	_, unknownErr := e.ReturnCopy(ctx, GivenUniqueID(t), FakeClock)

	// assert
	assert.ErrorIs(t, err, ledger.ErrAlreadyReturned)
	assert.ErrorIs(t, unknownErr, ledger.ErrLoanNotFound)

	stored, getErr := e.GetItem(ctx, item.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 2, stored.AvailableCopies)
}

func Test_IssueCopy_UnknownReferences_AreRejected(t *testing.T) {
	// setup
	ctx := t.Context()
	e, _ := setupPostgresEngine(t)

	// arrange
	item := GivenItemWasCreated(t, ctx, e, 1)
	borrower := GivenBorrowerWasRegistered(t, ctx, e, "Ada")

	// act
	_, unknownBorrowerErr := e.IssueCopy(ctx, GivenUniqueID(t), item.ID, FakeClock, nil)
	_, unknownItemErr := e.IssueCopy(ctx, borrower.ID, GivenUniqueID(t), FakeClock, nil)

	// assert
	assert.ErrorIs(t, unknownBorrowerErr, ledger.ErrBorrowerNotFound)
	assert.ErrorIs(t, unknownItemErr, ledger.ErrItemNotFound)
}

func Test_InsertLoan_ForeignKeyViolation_IsClassified(t *testing.T) {
	// setup
	ctx := t.Context()
	_, store := setupPostgresEngine(t)

	// arrange
	loan, err := ledger.BuildLoan(GivenUniqueID(t), GivenUniqueID(t), GivenUniqueID(t), FakeClock, nil)
	require.NoError(t, err, "error in arranging test data")

	// act
	err = store.RunInUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return uow.InsertLoan(ctx, loan)
	})

	// assert
	assert.ErrorIs(t, err, ledger.ErrReferenceViolation)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func Test_CreateItem_DuplicateCode_IsRejectedUntilDeleted(t *testing.T) {
	// setup
	ctx := t.Context()
	e, _ := setupPostgresEngine(t)

	// arrange
	first, err := e.CreateItem(ctx, FixtureItemDetailsWithCode("ISBN-1"), 1)
	require.NoError(t, err, "error in arranging test data")

	// act
	_, duplicateErr := e.CreateItem(ctx, FixtureItemDetailsWithCode("ISBN-1"), 1)
	require.NoError(t, e.DeleteItem(ctx, first.ID))
	_, reuseErr := e.CreateItem(ctx, FixtureItemDetailsWithCode("ISBN-1"), 1)

	// assert
	assert.ErrorIs(t, duplicateErr, ledger.ErrDuplicateCode)
	assert.NoError(t, reuseErr)
}

func Test_UpdateItem_BrokenBounds_AreNeverWritten(t *testing.T) {
	// setup
	ctx := t.Context()
	e, store := setupPostgresEngine(t)

	// arrange
	item := GivenItemWasCreated(t, ctx, e, 2)

	// act
	err := store.RunInUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		locked, lockErr := uow.LockItem(ctx, item.ID)
		if lockErr != nil {
			return lockErr
		}

		locked.AvailableCopies = locked.TotalCopies + 1

		return uow.UpdateItem(ctx, locked)
	})

	// assert
	assert.ErrorIs(t, err, ledger.ErrInvariantViolated)

	stored, getErr := e.GetItem(ctx, item.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 2, stored.AvailableCopies)
}

func Test_RunInUnitOfWork_Error_RollsBackAllWrites(t *testing.T) {
	// setup
	ctx := t.Context()
	_, store := setupPostgresEngine(t)
	failure := errors.New("abort")

	// arrange
	item, err := ledger.BuildItem(GivenUniqueID(t), FixtureItemDetails(), 3, FakeClock)
	require.NoError(t, err, "error in arranging test data")

	// act
	err = store.RunInUnitOfWork(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		if insertErr := uow.InsertItem(ctx, item); insertErr != nil {
			return insertErr
		}

		return failure
	})

	// assert
	assert.ErrorIs(t, err, failure)

	_, getErr := store.GetItem(ctx, item.ID)
	assert.ErrorIs(t, getErr, ledger.ErrItemNotFound)
}

func Test_AdjustItemTotal_Shrink_ClampsAvailableCopies(t *testing.T) {
	// setup
	ctx := t.Context()
	e, _ := setupPostgresEngine(t)

	// arrange
	item := GivenItemWasCreated(t, ctx, e, 3)
	borrower := GivenBorrowerWasRegistered(t, ctx, e, "Ada")
	loanA := GivenCopyWasIssued(t, ctx, e, borrower.ID, item.ID)
	loanB := GivenCopyWasIssued(t, ctx, e, borrower.ID, item.ID)

	// act
	shrunk, err := e.AdjustItemTotal(ctx, item.ID, 1)
	require.NoError(t, err)
	GivenCopyWasReturned(t, ctx, e, loanA.ID)
	GivenCopyWasReturned(t, ctx, e, loanB.ID)

	// assert
	assert.Equal(t, 0, shrunk.AvailableCopies)

	stored, getErr := e.GetItem(ctx, item.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 1, stored.AvailableCopies)
	assert.Equal(t, 1, stored.TotalCopies)
}

func Test_DeleteItem_KeepsLoanHistory(t *testing.T) {
	// setup
	ctx := t.Context()
	e, _ := setupPostgresEngine(t)

	// arrange
	item := GivenItemWithTitleWasCreated(t, ctx, e, "Refactoring", 1)
	borrower := GivenBorrowerWasRegistered(t, ctx, e, "Ada")
	loan := GivenCopyWasIssued(t, ctx, e, borrower.ID, item.ID)

	// act
	blockedErr := e.DeleteItem(ctx, item.ID)
	GivenCopyWasReturned(t, ctx, e, loan.ID)
	deleteErr := e.DeleteItem(ctx, item.ID)

	// assert
	assert.ErrorIs(t, blockedErr, ledger.ErrItemHasOpenLoans)
	require.NoError(t, deleteErr)

	_, getErr := e.GetItem(ctx, item.ID)
	assert.ErrorIs(t, getErr, ledger.ErrItemNotFound)

	history, err := e.ListLoans(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Refactoring", history[0].ItemTitle)
	assert.Equal(t, "Ada", history[0].BorrowerName)
	assert.False(t, history[0].IsOpen())
}

func Test_Views_AreOrderedAndJoined(t *testing.T) {
	// setup
	ctx := t.Context()
	e, _ := setupPostgresEngine(t)

	// arrange
	zebra := GivenItemWithTitleWasCreated(t, ctx, e, "Zebra", 1)
	apple := GivenItemWithTitleWasCreated(t, ctx, e, "Apple", 2)
	GivenItemWithTitleWasCreated(t, ctx, e, "Empty Shelf", 0)
	ada := GivenBorrowerWasRegistered(t, ctx, e, "Ada")
	grace := GivenBorrowerWasRegistered(t, ctx, e, "Grace")
	first := GivenCopyWasIssued(t, ctx, e, ada.ID, zebra.ID)
	second := GivenCopyWasIssued(t, ctx, e, grace.ID, apple.ID)

	// act
	available, availableErr := e.ListAvailableItems(ctx)
	openLoans, openErr := e.ListOpenLoans(ctx)
	forItem, forItemErr := e.ListOpenLoansForItem(ctx, apple.ID)
	borrowers, borrowersErr := e.ListBorrowers(ctx)

	// assert
	require.NoError(t, availableErr)
	require.NoError(t, openErr)
	require.NoError(t, forItemErr)
	require.NoError(t, borrowersErr)

	require.Len(t, available, 1)
	assert.Equal(t, "Apple", available[0].Title)

	require.Len(t, openLoans, 2)
	assert.Equal(t, second.ID, openLoans[0].LoanID)
	assert.Equal(t, "Grace", openLoans[0].BorrowerName)
	assert.Equal(t, first.ID, openLoans[1].LoanID)
	assert.Equal(t, "Zebra", openLoans[1].ItemTitle)
	require.NotNil(t, openLoans[1].DueOn)
	assert.Equal(t, ledger.ToDate(FakeClock.AddDate(0, 0, 14)), *openLoans[1].DueOn)

	require.Len(t, forItem, 1)
	assert.Equal(t, second.ID, forItem[0].ID)

	require.Len(t, borrowers, 2)
	assert.Equal(t, "Ada", borrowers[0].Name)
}

func Test_Views_WithEventualConsistency_ReadFromReplica(t *testing.T) {
	// setup
	ctx := t.Context()
	wrapper := postgreswrapper.CreateWrapperWithReplicaTestConfig(t)
	t.Cleanup(wrapper.Close)
	e, err := engine.New(wrapper.GetStore(), engine.WithClock(FixedClock))
	require.NoError(t, err, "error in test setup")

	// arrange
	item := GivenItemWasCreated(t, ctx, e, 4)

	// act
	var stored ledger.Item
	require.Eventually(t, func() bool {
		stored, err = e.GetItem(ledger.WithEventualConsistency(ctx), item.ID)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	// assert
	assert.Equal(t, 4, stored.AvailableCopies)
}

func Test_Observability_UnitOfWork_IsLoggedAndMeasured(t *testing.T) {
	// setup
	ctx := t.Context()
	logHandler := NewLogHandlerSpy(false)
	metrics := NewMetricsCollectorSpy(true)
	tracing := NewTracingCollectorSpy(true)
	e, _ := setupPostgresEngine(
		t,
		postgresengine.WithLogger(slog.New(logHandler)),
		postgresengine.WithMetrics(metrics),
		postgresengine.WithTracing(tracing),
	)

	// act
	GivenItemWasCreated(t, ctx, e, 1)

	// assert
	assert.True(t, logHandler.HasDebugLogWithMessage("executed sql for: insert_item").WithDurationMS().Assert())
	assert.True(t, logHandler.HasDebugLogWithMessage("unit of work committed").Assert())
	assert.True(t, metrics.HasDurationRecordForMetric(postgresengine.MetricQueryDuration).
		WithLabel("action", "insert_item").WithStatus("success").Assert())
	assert.True(t, metrics.HasDurationRecordForMetric(postgresengine.MetricUnitOfWorkDuration).
		WithStatus("committed").Assert())

	span, found := tracing.FindSpan("ledger.store.unit_of_work")
	require.True(t, found)
	assert.Equal(t, "committed", span.Status)
}
