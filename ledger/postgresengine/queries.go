package postgresengine

import (
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	dialectPostgres = "postgres"

	tableItems     = "items"
	tableBorrowers = "borrowers"
	tableLoans     = "loans"

	colID              = "id"
	colTitle           = "title"
	colAuthor          = "author"
	colCode            = "code"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colCreatedAt       = "created_at"
	colDeletedAt       = "deleted_at"
	colSequenceNumber  = "sequence_number"
	colName            = "name"
	colContact         = "contact"
	colBorrowerID      = "borrower_id"
	colItemID          = "item_id"
	colIssuedOn        = "issued_on"
	colDueOn           = "due_on"
	colReturnedOn      = "returned_on"

	aliasLoans     = "l"
	aliasBorrowers = "b"
	aliasItems     = "i"
)

// sqlBuilder is implemented by all goqu datasets.
type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

var (
	itemColumns     = []any{colID, colTitle, colAuthor, colCode, colTotalCopies, colAvailableCopies, colCreatedAt}
	borrowerColumns = []any{colID, colName, colContact, colCreatedAt}
	loanColumns     = []any{colID, colBorrowerID, colItemID, colIssuedOn, colDueOn, colReturnedOn}
)

func builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

func liveItem(itemID uuid.UUID) exp.Expression {
	return goqu.And(goqu.C(colID).Eq(itemID), goqu.C(colDeletedAt).IsNull())
}

func insertItemQuery(item ledger.Item) sqlBuilder {
	return builder().
		Insert(tableItems).
		Rows(goqu.Record{
			colID:              item.ID,
			colTitle:           item.Title,
			colAuthor:          item.Author,
			colCode:            item.Code,
			colTotalCopies:     item.TotalCopies,
			colAvailableCopies: item.AvailableCopies,
			colCreatedAt:       item.CreatedAt,
		}).
		Prepared(true)
}

func selectItemQuery(itemID uuid.UUID, forUpdate bool) sqlBuilder {
	stmt := builder().
		From(tableItems).
		Select(itemColumns...).
		Where(liveItem(itemID)).
		Prepared(true)

	if forUpdate {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	return stmt
}

func listItemsQuery(availableOnly bool) sqlBuilder {
	stmt := builder().
		From(tableItems).
		Select(itemColumns...).
		Where(goqu.C(colDeletedAt).IsNull()).
		Prepared(true)

	if availableOnly {
		return stmt.
			Where(goqu.C(colAvailableCopies).Gt(0)).
			Order(goqu.C(colTitle).Asc(), goqu.C(colSequenceNumber).Asc())
	}

	return stmt.Order(goqu.C(colSequenceNumber).Desc())
}

func updateItemQuery(item ledger.Item) sqlBuilder {
	return builder().
		Update(tableItems).
		Set(goqu.Record{
			colTitle:           item.Title,
			colAuthor:          item.Author,
			colCode:            item.Code,
			colTotalCopies:     item.TotalCopies,
			colAvailableCopies: item.AvailableCopies,
		}).
		Where(liveItem(item.ID)).
		Prepared(true)
}

// decrementAvailableQuery only matches while a copy is available.
func decrementAvailableQuery(itemID uuid.UUID) sqlBuilder {
	return builder().
		Update(tableItems).
		Set(goqu.Record{colAvailableCopies: goqu.L("? - 1", goqu.C(colAvailableCopies))}).
		Where(liveItem(itemID), goqu.C(colAvailableCopies).Gt(0)).
		Prepared(true)
}

// incrementAvailableQuery only matches below the total, so the counter is clamped at total_copies.
func incrementAvailableQuery(itemID uuid.UUID) sqlBuilder {
	return builder().
		Update(tableItems).
		Set(goqu.Record{colAvailableCopies: goqu.L("? + 1", goqu.C(colAvailableCopies))}).
		Where(liveItem(itemID), goqu.C(colAvailableCopies).Lt(goqu.C(colTotalCopies))).
		Prepared(true)
}

func deleteItemQuery(itemID uuid.UUID, deletedAt time.Time) sqlBuilder {
	return builder().
		Update(tableItems).
		Set(goqu.Record{colDeletedAt: deletedAt}).
		Where(liveItem(itemID)).
		Prepared(true)
}

func insertBorrowerQuery(borrower ledger.Borrower) sqlBuilder {
	return builder().
		Insert(tableBorrowers).
		Rows(goqu.Record{
			colID:        borrower.ID,
			colName:      borrower.Name,
			colContact:   borrower.Contact,
			colCreatedAt: borrower.CreatedAt,
		}).
		Prepared(true)
}

func borrowerExistsQuery(borrowerID uuid.UUID) sqlBuilder {
	return builder().
		From(tableBorrowers).
		Select(goqu.L("1")).
		Where(goqu.C(colID).Eq(borrowerID)).
		Limit(1).
		Prepared(true)
}

func listBorrowersQuery() sqlBuilder {
	return builder().
		From(tableBorrowers).
		Select(borrowerColumns...).
		Order(goqu.C(colName).Asc(), goqu.C(colID).Asc()).
		Prepared(true)
}

func insertLoanQuery(loan ledger.Loan) sqlBuilder {
	return builder().
		Insert(tableLoans).
		Rows(goqu.Record{
			colID:         loan.ID,
			colBorrowerID: loan.BorrowerID,
			colItemID:     loan.ItemID,
			colIssuedOn:   loan.IssuedOn,
			colDueOn:      nullableDate(loan.DueOn),
			colReturnedOn: nullableDate(loan.ReturnedOnPtr()),
		}).
		Prepared(true)
}

func selectLoanQuery(loanID uuid.UUID, forUpdate bool) sqlBuilder {
	stmt := builder().
		From(tableLoans).
		Select(loanColumns...).
		Where(goqu.C(colID).Eq(loanID)).
		Prepared(true)

	if forUpdate {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	return stmt
}

// closeOpenLoanQuery only matches an open loan and returns the closed row.
func closeOpenLoanQuery(loanID uuid.UUID, returnedOn time.Time) sqlBuilder {
	return builder().
		Update(tableLoans).
		Set(goqu.Record{colReturnedOn: returnedOn}).
		Where(goqu.C(colID).Eq(loanID), goqu.C(colReturnedOn).IsNull()).
		Returning(loanColumns...).
		Prepared(true)
}

func countOpenLoansQuery(itemID uuid.UUID) sqlBuilder {
	return builder().
		From(tableLoans).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(colItemID).Eq(itemID), goqu.C(colReturnedOn).IsNull()).
		Prepared(true)
}

func listOpenLoansForItemQuery(itemID uuid.UUID) sqlBuilder {
	return builder().
		From(tableLoans).
		Select(loanColumns...).
		Where(goqu.C(colItemID).Eq(itemID), goqu.C(colReturnedOn).IsNull()).
		Order(goqu.C(colSequenceNumber).Asc()).
		Prepared(true)
}

// listLoanViewsQuery joins loans with borrower name and item title. Deleted items keep their title in the history.
func listLoanViewsQuery(openOnly bool) sqlBuilder {
	stmt := builder().
		From(goqu.T(tableLoans).As(aliasLoans)).
		Join(goqu.T(tableBorrowers).As(aliasBorrowers), goqu.On(qualified(aliasBorrowers, colID).Eq(qualified(aliasLoans, colBorrowerID)))).
		Join(goqu.T(tableItems).As(aliasItems), goqu.On(qualified(aliasItems, colID).Eq(qualified(aliasLoans, colItemID)))).
		Select(
			qualified(aliasLoans, colID),
			qualified(aliasLoans, colBorrowerID),
			qualified(aliasBorrowers, colName),
			qualified(aliasLoans, colItemID),
			qualified(aliasItems, colTitle),
			qualified(aliasLoans, colIssuedOn),
			qualified(aliasLoans, colDueOn),
			qualified(aliasLoans, colReturnedOn),
		).
		Order(qualified(aliasLoans, colSequenceNumber).Desc()).
		Prepared(true)

	if openOnly {
		stmt = stmt.Where(qualified(aliasLoans, colReturnedOn).IsNull())
	}

	return stmt
}

func qualified(alias, column string) exp.IdentifierExpression {
	return goqu.I(alias + "." + column)
}

// nullableDate maps an absent date to SQL NULL.
func nullableDate(d *time.Time) any {
	if d == nil {
		return nil
	}

	return *d
}
