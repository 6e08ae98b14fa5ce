package postgresengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	// MetricQueryDuration tracks the duration of single SQL statements.
	MetricQueryDuration = "ledger_store_query_duration_seconds"
	// MetricUnitOfWorkDuration tracks the duration of whole transactions.
	MetricUnitOfWorkDuration = "ledger_store_unit_of_work_duration_seconds"
	// MetricDatabaseErrors counts failed statements and transactions.
	MetricDatabaseErrors = "ledger_store_database_errors_total"

	statusSuccess   = "success"
	statusError     = "error"
	statusCommitted = "committed"
	statusAborted   = "aborted"

	errorTypeBeginTx = "begin_tx"
	errorTypeCommit  = "commit"
	errorTypeQuery   = "query"

	operationUnitOfWork = "unit_of_work"
	spanNameUnitOfWork  = "ledger.store.unit_of_work"

	spanAttrOperation  = "operation"
	spanAttrDurationMS = "duration_ms"
	spanAttrError      = "error"

	labelAction    = "action"
	labelStatus    = "status"
	labelErrorType = "error_type"

	actionInsertItem           = "insert_item"
	actionLockItem             = "lock_item"
	actionUpdateItem           = "update_item"
	actionDecrementAvailable   = "decrement_available"
	actionIncrementAvailable   = "increment_available"
	actionDeleteItem           = "delete_item"
	actionBorrowerExists       = "borrower_exists"
	actionInsertBorrower       = "insert_borrower"
	actionInsertLoan           = "insert_loan"
	actionLockLoan             = "lock_loan"
	actionCloseLoan            = "close_loan"
	actionCountOpenLoans       = "count_open_loans"
	actionGetItem              = "get_item"
	actionListItems            = "list_items"
	actionListAvailableItems   = "list_available_items"
	actionListBorrowers        = "list_borrowers"
	actionGetLoan              = "get_loan"
	actionListOpenLoans        = "list_open_loans"
	actionListLoans            = "list_loans"
	actionListOpenLoansForItem = "list_open_loans_for_item"

	logMsgBuildQueryFailed   = "failed to build query"
	logMsgDBQueryFailed      = "database query execution failed"
	logMsgCloseRowsFailed    = "failed to close database rows"
	logMsgScanRowFailed      = "failed to scan database row"
	logMsgRowsAffectedFailed = "failed to get rows affected count"
	logMsgBeginTxFailed      = "failed to begin transaction"
	logMsgCommitFailed       = "failed to commit transaction"
	logMsgRollbackFailed     = "failed to roll back transaction"
	logMsgConstraintViolated = "constraint violation"
	logMsgCreateSchemaFailed = "failed to create schema"
	logMsgTruncateFailed     = "failed to truncate tables"
	logMsgSchemaCreated      = "ledger schema created"
	logMsgSQLExecuted        = "executed sql for: "
	logMsgUnitFinished       = "unit of work "

	logAttrError      = "error"
	logAttrQuery      = "query"
	logAttrAction     = "action"
	logAttrDurationMS = "duration_ms"
)

// logQueryWithDuration logs SQL queries with execution time at debug level if the logger is configured.
func (s *Store) logQueryWithDuration(ctx context.Context, sqlQuery, action string, duration time.Duration) {
	s.logDebug(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
}

func (s *Store) logDebug(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.InfoContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, args ...any) {
	if s.contextualLogger != nil {
		s.contextualLogger.WarnContext(ctx, msg, args...)
	} else if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// logError logs error information at the error level if the logger is configured.
func (s *Store) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	} else if s.logger != nil {
		s.logger.Error(msg, allArgs...)
	}
}

func (s *Store) recordQueryDuration(ctx context.Context, action string, duration time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	s.recordDuration(ctx, MetricQueryDuration, duration, map[string]string{labelAction: action, labelStatus: status})
}

func (s *Store) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if s.metricsCollector == nil {
		return
	}

	// Use context-aware method if available
	if contextualCollector, ok := s.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	s.metricsCollector.RecordDuration(metric, duration, labels)
}

// recordErrorMetrics records error metrics if the metrics collector is configured.
func (s *Store) recordErrorMetrics(ctx context.Context, action, errorType string) {
	if s.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		labelAction:    action,
		labelErrorType: errorType,
	}

	if contextualCollector, ok := s.metricsCollector.(ledger.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, MetricDatabaseErrors, labels)
		return
	}

	s.metricsCollector.IncrementCounter(MetricDatabaseErrors, labels)
}

// startTraceSpan starts a tracing span if the tracing collector is configured.
func (s *Store) startTraceSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, ledger.SpanContext) {
	if s.tracingCollector != nil {
		return s.tracingCollector.StartSpan(ctx, name, attrs)
	}

	return ctx, nil
}

// finishUnit records the outcome of a unit of work in logs, metrics, and its span.
func (s *Store) finishUnit(ctx context.Context, span ledger.SpanContext, status string, duration time.Duration, err error) {
	args := []any{logAttrDurationMS, toMilliseconds(duration)}
	if err != nil {
		args = append(args, logAttrError, err.Error())
	}

	s.logDebug(ctx, logMsgUnitFinished+status, args...)
	s.recordDuration(ctx, MetricUnitOfWorkDuration, duration, map[string]string{labelStatus: status})

	if s.tracingCollector == nil || span == nil {
		return
	}

	attrs := map[string]string{spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration))}
	if err != nil {
		attrs[spanAttrError] = err.Error()
	}

	span.SetStatus(status)
	s.tracingCollector.FinishSpan(span, status, attrs)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
