package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Engine is the lending engine. It runs every mutation as one atomic unit on the Store
// and serves the read-only views directly from it.
type Engine struct {
	store            ledger.Store
	clock            func() time.Time
	unitTimeout      time.Duration
	shrinkPolicy     ShrinkPolicy
	logger           ledger.Logger
	contextualLogger ledger.ContextualLogger
	metricsCollector ledger.MetricsCollector
	tracingCollector ledger.TracingCollector
}

// New creates an Engine on top of store with optional configuration.
func New(store ledger.Store, options ...Option) (*Engine, error) {
	if store == nil {
		return nil, ledger.ErrNilStore
	}

	e := &Engine{
		store:        store,
		clock:        time.Now,
		shrinkPolicy: ShrinkClamp,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// CreateItem adds an item to the catalog with all copies available.
func (e *Engine) CreateItem(ctx context.Context, details ledger.ItemDetails, totalCopies int) (ledger.Item, error) {
	ctx, obs := e.startOperation(ctx, operationCreateItem, nil)

	item, err := e.createItem(ctx, details, totalCopies)
	if err != nil {
		err = errors.Join(ledger.ErrCreateItemFailed, err)
		obs.finish(ctx, err)
		return ledger.Item{}, err
	}

	obs.finish(ctx, nil, logAttrItemID, item.ID.String(), logAttrAvailableCopies, item.AvailableCopies)
	obs.recordAvailableCopies(ctx, item.AvailableCopies)

	return item, nil
}

func (e *Engine) createItem(ctx context.Context, details ledger.ItemDetails, totalCopies int) (ledger.Item, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ledger.Item{}, err
	}

	item, err := ledger.BuildItem(id, details, totalCopies, e.clock())
	if err != nil {
		return ledger.Item{}, err
	}

	err = e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return uow.InsertItem(ctx, item)
	})
	if err != nil {
		return ledger.Item{}, err
	}

	return item, nil
}

// AdjustItemTotal re-baselines the total copies of an item while preserving outstanding loans:
// available moves by the same delta as the total and is clamped at zero.
// With ShrinkRejectStranding, a total below the number of open loans is rejected instead.
func (e *Engine) AdjustItemTotal(ctx context.Context, itemID uuid.UUID, newTotal int) (ledger.Item, error) {
	ctx, obs := e.startOperation(ctx, operationAdjustItemTotal, map[string]string{spanAttrItemID: itemID.String()})

	item, err := e.reviseItem(ctx, itemID, nil, newTotal)
	if err != nil {
		err = errors.Join(ledger.ErrAdjustFailed, err)
		obs.finish(ctx, err, logAttrItemID, itemID.String())
		return ledger.Item{}, err
	}

	obs.finish(ctx, nil,
		logAttrItemID, item.ID.String(),
		logAttrTotalCopies, item.TotalCopies,
		logAttrAvailableCopies, item.AvailableCopies)
	obs.recordAvailableCopies(ctx, item.AvailableCopies)

	return item, nil
}

// ReviseItem replaces the descriptive fields and re-baselines the total of an item in one unit.
func (e *Engine) ReviseItem(
	ctx context.Context,
	itemID uuid.UUID,
	details ledger.ItemDetails,
	newTotal int,
) (ledger.Item, error) {

	ctx, obs := e.startOperation(ctx, operationReviseItem, map[string]string{spanAttrItemID: itemID.String()})

	item, err := e.reviseItem(ctx, itemID, &details, newTotal)
	if err != nil {
		err = errors.Join(ledger.ErrAdjustFailed, err)
		obs.finish(ctx, err, logAttrItemID, itemID.String())
		return ledger.Item{}, err
	}

	obs.finish(ctx, nil,
		logAttrItemID, item.ID.String(),
		logAttrTotalCopies, item.TotalCopies,
		logAttrAvailableCopies, item.AvailableCopies)
	obs.recordAvailableCopies(ctx, item.AvailableCopies)

	return item, nil
}

func (e *Engine) reviseItem(
	ctx context.Context,
	itemID uuid.UUID,
	details *ledger.ItemDetails,
	newTotal int,
) (ledger.Item, error) {

	if newTotal < 0 {
		return ledger.Item{}, ledger.ErrNegativeTotalCopies
	}

	var revised ledger.Item

	err := e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		item, err := uow.LockItem(ctx, itemID)
		if err != nil {
			return err
		}

		if details != nil {
			if item, err = item.WithDetails(*details); err != nil {
				return err
			}
		}

		if e.shrinkPolicy == ShrinkRejectStranding && newTotal < item.TotalCopies {
			openLoans, countErr := uow.CountOpenLoans(ctx, itemID)
			if countErr != nil {
				return countErr
			}

			if newTotal < openLoans {
				return ledger.ErrShrinkStrandsOpenLoan
			}
		}

		rebaselined, err := item.Rebaseline(newTotal)
		if err != nil {
			return err
		}

		if item.AvailableCopies+newTotal-item.TotalCopies < 0 {
			e.warnShrinkClamped(ctx, item, newTotal)
		}

		if err = uow.UpdateItem(ctx, rebaselined); err != nil {
			return err
		}

		revised = rebaselined

		return nil
	})
	if err != nil {
		return ledger.Item{}, err
	}

	return revised, nil
}

// DeleteItem removes an item from the catalog. It is rejected with ledger.ErrItemHasOpenLoans
// while any copy of the item is on loan.
func (e *Engine) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	ctx, obs := e.startOperation(ctx, operationDeleteItem, map[string]string{spanAttrItemID: itemID.String()})

	err := e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		if _, err := uow.LockItem(ctx, itemID); err != nil {
			return err
		}

		openLoans, err := uow.CountOpenLoans(ctx, itemID)
		if err != nil {
			return err
		}

		if openLoans > 0 {
			return ledger.ErrItemHasOpenLoans
		}

		return uow.DeleteItem(ctx, itemID, e.clock())
	})
	if err != nil {
		err = errors.Join(ledger.ErrDeleteFailed, err)
		obs.finish(ctx, err, logAttrItemID, itemID.String())
		return err
	}

	obs.finish(ctx, nil, logAttrItemID, itemID.String())

	return nil
}

// RegisterBorrower adds a borrower.
func (e *Engine) RegisterBorrower(ctx context.Context, name, contact string) (ledger.Borrower, error) {
	ctx, obs := e.startOperation(ctx, operationRegisterBorrower, nil)

	borrower, err := e.registerBorrower(ctx, name, contact)
	if err != nil {
		err = errors.Join(ledger.ErrRegisterBorrowerFailed, err)
		obs.finish(ctx, err)
		return ledger.Borrower{}, err
	}

	obs.finish(ctx, nil, logAttrBorrowerID, borrower.ID.String())

	return borrower, nil
}

func (e *Engine) registerBorrower(ctx context.Context, name, contact string) (ledger.Borrower, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ledger.Borrower{}, err
	}

	borrower, err := ledger.BuildBorrower(id, name, contact, e.clock())
	if err != nil {
		return ledger.Borrower{}, err
	}

	err = e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return uow.InsertBorrower(ctx, borrower)
	})
	if err != nil {
		return ledger.Borrower{}, err
	}

	return borrower, nil
}

// IssueCopy lends one copy of an item to a borrower.
//
// The item is locked for the whole unit, so concurrent issues of the last copy are serialized:
// exactly one wins, the others fail with ledger.ErrOutOfStock and write nothing.
// A zero issuedOn means today; dueOn is optional.
func (e *Engine) IssueCopy(
	ctx context.Context,
	borrowerID uuid.UUID,
	itemID uuid.UUID,
	issuedOn time.Time,
	dueOn *time.Time,
) (ledger.Loan, error) {

	ctx, obs := e.startOperation(ctx, operationIssueCopy, map[string]string{
		spanAttrItemID:     itemID.String(),
		spanAttrBorrowerID: borrowerID.String(),
	})

	loan, available, err := e.issueCopy(ctx, borrowerID, itemID, issuedOn, dueOn)
	if err != nil {
		err = errors.Join(ledger.ErrIssueFailed, err)
		obs.finish(ctx, err, logAttrItemID, itemID.String(), logAttrBorrowerID, borrowerID.String())
		return ledger.Loan{}, err
	}

	obs.addSpanAttribute(spanAttrLoanID, loan.ID.String())
	obs.finish(ctx, nil,
		logAttrLoanID, loan.ID.String(),
		logAttrItemID, itemID.String(),
		logAttrBorrowerID, borrowerID.String(),
		logAttrAvailableCopies, available)
	obs.recordAvailableCopies(ctx, available)

	return loan, nil
}

func (e *Engine) issueCopy(
	ctx context.Context,
	borrowerID uuid.UUID,
	itemID uuid.UUID,
	issuedOn time.Time,
	dueOn *time.Time,
) (ledger.Loan, int, error) {

	if issuedOn.IsZero() {
		issuedOn = e.clock()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return ledger.Loan{}, 0, err
	}

	loan, err := ledger.BuildLoan(id, borrowerID, itemID, issuedOn, dueOn)
	if err != nil {
		return ledger.Loan{}, 0, err
	}

	var available int

	err = e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		exists, err := uow.BorrowerExists(ctx, borrowerID)
		if err != nil {
			return err
		}

		if !exists {
			return ledger.ErrBorrowerNotFound
		}

		item, err := uow.LockItem(ctx, itemID)
		if err != nil {
			return err
		}

		if !item.HasAvailableCopy() {
			return ledger.ErrOutOfStock
		}

		if err = uow.InsertLoan(ctx, loan); err != nil {
			return err
		}

		decremented, err := uow.DecrementAvailable(ctx, itemID)
		if err != nil {
			return err
		}

		if !decremented {
			return ledger.ErrOutOfStock
		}

		available = item.AvailableCopies - 1

		return nil
	})
	if err != nil {
		return ledger.Loan{}, 0, err
	}

	return loan, available, nil
}

// ReturnCopy closes an open loan and puts the copy back into circulation.
//
// Returning a closed loan fails with ledger.ErrAlreadyReturned and changes nothing.
// The available counter is clamped at the total; a clamped return is logged and counted.
// A zero returnedOn means today.
func (e *Engine) ReturnCopy(ctx context.Context, loanID uuid.UUID, returnedOn time.Time) (ledger.Loan, error) {
	ctx, obs := e.startOperation(ctx, operationReturnCopy, map[string]string{spanAttrLoanID: loanID.String()})

	loan, available, err := e.returnCopy(ctx, loanID, returnedOn)
	if err != nil {
		err = errors.Join(ledger.ErrReturnFailed, err)
		obs.finish(ctx, err, logAttrLoanID, loanID.String())
		return ledger.Loan{}, err
	}

	obs.addSpanAttribute(spanAttrItemID, loan.ItemID.String())
	obs.finish(ctx, nil,
		logAttrLoanID, loan.ID.String(),
		logAttrItemID, loan.ItemID.String(),
		logAttrAvailableCopies, available)
	obs.recordAvailableCopies(ctx, available)

	return loan, nil
}

func (e *Engine) returnCopy(ctx context.Context, loanID uuid.UUID, returnedOn time.Time) (ledger.Loan, int, error) {
	if returnedOn.IsZero() {
		returnedOn = e.clock()
	}

	var closed ledger.Loan
	var available int

	err := e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		loan, err := uow.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}

		if _, err = loan.Close(returnedOn); err != nil {
			return err
		}

		item, err := uow.LockItem(ctx, loan.ItemID)
		if err != nil {
			return err
		}

		if closed, err = uow.CloseOpenLoan(ctx, loanID, ledger.ToDate(returnedOn)); err != nil {
			return err
		}

		incremented, err := uow.IncrementAvailable(ctx, loan.ItemID)
		if err != nil {
			return err
		}

		available = item.AvailableCopies
		if incremented {
			available++
		} else {
			e.warnReturnClamped(ctx, loan, item)
		}

		return nil
	})
	if err != nil {
		return ledger.Loan{}, 0, err
	}

	return closed, available, nil
}

// CheckItemConsistency reports the counters of an item against its open loans,
// read under the item lock so that the snapshot is consistent.
func (e *Engine) CheckItemConsistency(ctx context.Context, itemID uuid.UUID) (ledger.ConsistencyReport, error) {
	ctx, obs := e.startOperation(ctx, operationCheckConsistency, map[string]string{spanAttrItemID: itemID.String()})

	var report ledger.ConsistencyReport

	err := e.runUnit(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		item, err := uow.LockItem(ctx, itemID)
		if err != nil {
			return err
		}

		openLoans, err := uow.CountOpenLoans(ctx, itemID)
		if err != nil {
			return err
		}

		report = ledger.BuildConsistencyReport(item, openLoans)

		return nil
	})
	if err != nil {
		obs.finish(ctx, err, logAttrItemID, itemID.String())
		return ledger.ConsistencyReport{}, err
	}

	if !report.WithinBounds {
		e.logError(ctx, logMsgInvariantViolated, ledger.ErrInvariantViolated,
			logAttrItemID, itemID.String(),
			logAttrTotalCopies, report.TotalCopies,
			logAttrAvailableCopies, report.AvailableCopies)
	}

	obs.finish(ctx, nil,
		logAttrItemID, itemID.String(),
		logAttrOpenLoans, report.OpenLoans,
		logAttrBalanced, report.Balanced)

	return report, nil
}

// runUnit runs fn as one atomic unit on the store.
//
// A caller that is already gone gets ctx.Err() and nothing runs. Once started, the unit is
// detached from the caller's cancellation and runs to commit or abort, bounded by the unit timeout.
func (e *Engine) runUnit(ctx context.Context, fn ledger.UnitOfWorkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unitCtx := context.WithoutCancel(ctx)

	if e.unitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(unitCtx, e.unitTimeout)
		defer cancel()
	}

	return e.store.RunInUnitOfWork(unitCtx, fn)
}
