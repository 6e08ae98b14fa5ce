package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
	"github.com/AntonStoeckl/lending-ledger-go/ledger/postgresengine/internal/adapters"
)

// query builds and runs a statement that returns rows.
func (s *Store) query(
	ctx context.Context,
	db adapters.DBQuerier,
	action string,
	stmt sqlBuilder,
) (adapters.DBRows, error) {

	sqlQuery, args, err := s.buildQuery(ctx, action, stmt)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, queryErr := db.Query(ctx, sqlQuery, args...)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, sqlQuery, action, duration)
	s.recordQueryDuration(ctx, action, duration, queryErr)

	if queryErr != nil {
		return nil, s.queryFailed(ctx, action, sqlQuery, queryErr)
	}

	return rows, nil
}

// exec builds and runs a statement and returns the number of affected rows.
func (s *Store) exec(
	ctx context.Context,
	db adapters.DBQuerier,
	action string,
	stmt sqlBuilder,
) (int64, error) {

	sqlQuery, args, err := s.buildQuery(ctx, action, stmt)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	result, execErr := db.Exec(ctx, sqlQuery, args...)
	duration := time.Since(start)
	s.logQueryWithDuration(ctx, sqlQuery, action, duration)
	s.recordQueryDuration(ctx, action, duration, execErr)

	if execErr != nil {
		return 0, s.queryFailed(ctx, action, sqlQuery, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		s.logError(ctx, logMsgRowsAffectedFailed, rowsAffectedErr, logAttrAction, action)
		return 0, errors.Join(ledger.ErrQueryFailed, rowsAffectedErr)
	}

	return rowsAffected, nil
}

func (s *Store) buildQuery(ctx context.Context, action string, stmt sqlBuilder) (string, []any, error) {
	sqlQuery, args, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		s.logError(ctx, logMsgBuildQueryFailed, toSQLErr, logAttrAction, action)
		return "", nil, errors.Join(ledger.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, args, nil
}

// queryFailed maps constraint violations to ledger errors and wraps everything else in ledger.ErrQueryFailed.
func (s *Store) queryFailed(ctx context.Context, action, sqlQuery string, err error) error {
	if classified := classifyDriverError(err); classified != nil {
		s.logDebug(ctx, logMsgConstraintViolated, logAttrAction, action, logAttrError, err.Error())
		return classified
	}

	s.logError(ctx, logMsgDBQueryFailed, err, logAttrAction, action, logAttrQuery, sqlQuery)
	s.recordErrorMetrics(ctx, action, errorTypeQuery)

	return errors.Join(ledger.ErrQueryFailed, err)
}

// queryAll runs stmt and scans every row with scan.
func queryAll[T any](
	ctx context.Context,
	s *Store,
	db adapters.DBQuerier,
	action string,
	stmt sqlBuilder,
	scan func(adapters.DBRows) (T, error),
) ([]T, error) {

	rows, err := s.query(ctx, db, action, stmt)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(ctx, rows)

	result := make([]T, 0)

	for rows.Next() {
		value, scanErr := scan(rows)
		if scanErr != nil {
			s.logError(ctx, logMsgScanRowFailed, scanErr, logAttrAction, action)
			return nil, errors.Join(ledger.ErrScanningDBRowFailed, scanErr)
		}

		result = append(result, value)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, s.queryFailed(ctx, action, "", rowsErr)
	}

	return result, nil
}

// closeRows safely closes database rows and logs any errors.
func (s *Store) closeRows(ctx context.Context, rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		s.logWarn(ctx, logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

func scanItem(rows adapters.DBRows) (ledger.Item, error) {
	var item ledger.Item

	err := rows.Scan(&item.ID, &item.Title, &item.Author, &item.Code, &item.TotalCopies, &item.AvailableCopies, &item.CreatedAt)
	item.CreatedAt = item.CreatedAt.UTC()

	return item, err
}

func scanBorrower(rows adapters.DBRows) (ledger.Borrower, error) {
	var borrower ledger.Borrower

	err := rows.Scan(&borrower.ID, &borrower.Name, &borrower.Contact, &borrower.CreatedAt)
	borrower.CreatedAt = borrower.CreatedAt.UTC()

	return borrower, err
}

func scanLoan(rows adapters.DBRows) (ledger.Loan, error) {
	var (
		id, borrowerID, itemID uuid.UUID
		issuedOn               time.Time
		dueOn, returnedOn      *time.Time
	)

	if err := rows.Scan(&id, &borrowerID, &itemID, &issuedOn, &dueOn, &returnedOn); err != nil {
		return ledger.Loan{}, err
	}

	return ledger.RestoreLoan(id, borrowerID, itemID, ledger.ToDate(issuedOn), toDatePtr(dueOn), toDatePtr(returnedOn)), nil
}

func scanLoanView(rows adapters.DBRows) (ledger.LoanView, error) {
	var view ledger.LoanView

	err := rows.Scan(
		&view.LoanID,
		&view.BorrowerID,
		&view.BorrowerName,
		&view.ItemID,
		&view.ItemTitle,
		&view.IssuedOn,
		&view.DueOn,
		&view.ReturnedOn,
	)
	if err != nil {
		return ledger.LoanView{}, err
	}

	view.IssuedOn = ledger.ToDate(view.IssuedOn)
	view.DueOn = toDatePtr(view.DueOn)
	view.ReturnedOn = toDatePtr(view.ReturnedOn)

	return view, nil
}

func scanCount(rows adapters.DBRows) (int, error) {
	var count int64
	err := rows.Scan(&count)

	return int(count), err
}

func scanOne(rows adapters.DBRows) (int, error) {
	var one int
	err := rows.Scan(&one)

	return one, err
}

func toDatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	d := ledger.ToDate(*t)

	return &d
}
