package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	// MetricOperationDuration tracks engine operation duration (OpenTelemetry-compatible).
	MetricOperationDuration = "ledger_operation_duration_seconds"
	// MetricOperationsTotal counts engine operations by outcome.
	MetricOperationsTotal = "ledger_operations_total"
	// MetricAvailableCopies records the available counter of the item an operation touched.
	MetricAvailableCopies = "ledger_available_copies"
	// MetricReturnClamped counts returns that found the available counter already at the total.
	MetricReturnClamped = "ledger_return_clamped_total"
	// MetricShrinkClamped counts total adjustments that clamped the available counter at zero.
	MetricShrinkClamped = "ledger_shrink_clamped_total"

	// StatusSuccess indicates the operation committed.
	StatusSuccess = "success"
	// StatusRejected indicates an expected business outcome: validation, not found, conflict, or out of stock.
	StatusRejected = "rejected"
	// StatusError indicates a store or infrastructure failure.
	StatusError = "error"
)

const (
	operationCreateItem           = "create_item"
	operationAdjustItemTotal      = "adjust_item_total"
	operationReviseItem           = "revise_item"
	operationDeleteItem           = "delete_item"
	operationRegisterBorrower     = "register_borrower"
	operationIssueCopy            = "issue_copy"
	operationReturnCopy           = "return_copy"
	operationCheckConsistency     = "check_item_consistency"
	operationGetItem              = "get_item"
	operationListItems            = "list_items"
	operationListAvailableItems   = "list_available_items"
	operationListBorrowers        = "list_borrowers"
	operationGetLoan              = "get_loan"
	operationListOpenLoans        = "list_open_loans"
	operationListLoans            = "list_loans"
	operationListOpenLoansForItem = "list_open_loans_for_item"

	spanNamePrefix     = "ledger."
	spanAttrOperation  = "operation"
	spanAttrItemID     = "item_id"
	spanAttrLoanID     = "loan_id"
	spanAttrBorrowerID = "borrower_id"
	spanAttrStatus     = "status"
	spanAttrDurationMS = "duration_ms"
	spanAttrError      = "error"

	labelOperation = "operation"
	labelStatus    = "status"

	logMsgOperation         = "lending operation: "
	logMsgOperationRejected = "lending operation rejected: "
	logMsgOperationFailed   = "lending operation failed: "
	logMsgReturnClamped     = "return clamped at total copies"
	logMsgShrinkClamped     = "shrink clamped available copies at zero"
	logMsgInvariantViolated = "copy counter invariant violated"

	logAttrError           = "error"
	logAttrDurationMS      = "duration_ms"
	logAttrItemID          = "item_id"
	logAttrLoanID          = "loan_id"
	logAttrBorrowerID      = "borrower_id"
	logAttrTotalCopies     = "total_copies"
	logAttrAvailableCopies = "available_copies"
	logAttrNewTotal        = "new_total"
	logAttrOpenLoans       = "open_loans"
	logAttrBalanced        = "balanced"
)

// ClassifyStatus maps an operation error to StatusSuccess, StatusRejected, or StatusError.
func ClassifyStatus(err error) string {
	switch {
	case err == nil:
		return StatusSuccess

	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrOutOfStock):
		return StatusRejected

	default:
		return StatusError
	}
}

// operationObserver carries the span and the start time of one engine operation.
type operationObserver struct {
	e         *Engine
	operation string
	span      ledger.SpanContext
	start     time.Time
}

// startOperation starts the span of an operation and its timer.
func (e *Engine) startOperation(
	ctx context.Context,
	operation string,
	attrs map[string]string,
) (context.Context, *operationObserver) {

	spanAttrs := map[string]string{spanAttrOperation: operation}
	for key, value := range attrs {
		spanAttrs[key] = value
	}

	var span ledger.SpanContext
	if e.tracingCollector != nil {
		ctx, span = e.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, spanAttrs)
	}

	return ctx, &operationObserver{
		e:         e,
		operation: operation,
		span:      span,
		start:     time.Now(),
	}
}

// addSpanAttribute adds an attribute that is only known after the unit committed.
func (o *operationObserver) addSpanAttribute(key, value string) {
	if o.span != nil {
		o.span.AddAttribute(key, value)
	}
}

// finish records duration and outcome of the operation and logs it according to its status.
func (o *operationObserver) finish(ctx context.Context, err error, args ...any) {
	duration := time.Since(o.start)
	status := ClassifyStatus(err)

	o.e.recordOperationMetrics(ctx, o.operation, status, duration)
	o.finishSpan(status, duration, err)

	args = append(args, logAttrDurationMS, toMilliseconds(duration))

	switch status {
	case StatusSuccess:
		o.e.logInfo(ctx, logMsgOperation+o.operation, args...)

	case StatusRejected:
		o.e.logInfo(ctx, logMsgOperationRejected+o.operation, append(args, logAttrError, err.Error())...)

	default:
		o.e.logError(ctx, logMsgOperationFailed+o.operation, err, args...)
	}
}

func (o *operationObserver) finishSpan(status string, duration time.Duration, err error) {
	if o.e.tracingCollector == nil || o.span == nil {
		return
	}

	attrs := map[string]string{
		spanAttrStatus:     status,
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	}

	if err != nil {
		attrs[spanAttrError] = err.Error()
	}

	o.span.SetStatus(status)
	o.e.tracingCollector.FinishSpan(o.span, status, attrs)
}

// recordAvailableCopies records the available counter after the operation committed.
func (o *operationObserver) recordAvailableCopies(ctx context.Context, available int) {
	o.e.recordValue(ctx, MetricAvailableCopies, float64(available), map[string]string{labelOperation: o.operation})
}

// warnReturnClamped reports a return that found all copies already available.
// This happens after a clamped shrink, when more loans are open than copies are on loan.
func (e *Engine) warnReturnClamped(ctx context.Context, loan ledger.Loan, item ledger.Item) {
	e.logWarn(ctx, logMsgReturnClamped,
		logAttrLoanID, loan.ID.String(),
		logAttrItemID, item.ID.String(),
		logAttrTotalCopies, item.TotalCopies,
		logAttrAvailableCopies, item.AvailableCopies)

	e.incrementCounter(ctx, MetricReturnClamped, map[string]string{labelOperation: operationReturnCopy})
}

// warnShrinkClamped reports a total adjustment below the number of copies on loan.
func (e *Engine) warnShrinkClamped(ctx context.Context, item ledger.Item, newTotal int) {
	e.logWarn(ctx, logMsgShrinkClamped,
		logAttrItemID, item.ID.String(),
		logAttrTotalCopies, item.TotalCopies,
		logAttrAvailableCopies, item.AvailableCopies,
		logAttrNewTotal, newTotal)

	e.incrementCounter(ctx, MetricShrinkClamped, map[string]string{labelOperation: operationAdjustItemTotal})
}

func (e *Engine) recordOperationMetrics(ctx context.Context, operation, status string, duration time.Duration) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelOperation: operation,
		labelStatus:    status,
	}

	// Use context-aware methods if available
	if contextualCollector, ok := e.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, MetricOperationDuration, duration, labels)
		contextualCollector.IncrementCounterContext(ctx, MetricOperationsTotal, labels)
		return
	}

	e.metricsCollector.RecordDuration(MetricOperationDuration, duration, labels)
	e.metricsCollector.IncrementCounter(MetricOperationsTotal, labels)
}

func (e *Engine) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := e.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metric, value, labels)
		return
	}

	e.metricsCollector.RecordValue(metric, value, labels)
}

func (e *Engine) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := e.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
		return
	}

	e.metricsCollector.IncrementCounter(metric, labels)
}

// logInfo logs at info level, preferring the contextual logger for trace correlation.
func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.InfoContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	if e.contextualLogger != nil {
		e.contextualLogger.WarnContext(ctx, msg, args...)
	} else if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	} else if e.logger != nil {
		e.logger.Error(msg, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
