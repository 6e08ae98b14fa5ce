package ledger

import (
	"time"

	"github.com/google/uuid"
)

// LoanState is the lifecycle state of a Loan.
type LoanState int

const (
	// LoanOpen means the copy is with the borrower.
	LoanOpen LoanState = iota + 1

	// LoanClosed means the copy came back. It is terminal.
	LoanClosed
)

// String returns the name of the state.
func (s LoanState) String() string {
	switch s {
	case LoanOpen:
		return "open"
	case LoanClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Loan records one copy of an Item leaving circulation to a Borrower.
// IssuedOn, DueOn and the return date are calendar dates (UTC midnight).
type Loan struct {
	ID         uuid.UUID
	BorrowerID uuid.UUID
	ItemID     uuid.UUID
	IssuedOn   time.Time
	DueOn      *time.Time
	returnedOn *time.Time
}

// BuildLoan validates the dates and returns a new open Loan.
func BuildLoan(id, borrowerID, itemID uuid.UUID, issuedOn time.Time, dueOn *time.Time) (Loan, error) {
	issuedOn = ToDate(issuedOn)

	var due *time.Time
	if dueOn != nil {
		d := ToDate(*dueOn)
		if d.Before(issuedOn) {
			return Loan{}, ErrDueBeforeIssue
		}
		due = &d
	}

	return Loan{
		ID:         id,
		BorrowerID: borrowerID,
		ItemID:     itemID,
		IssuedOn:   issuedOn,
		DueOn:      due,
	}, nil
}

// RestoreLoan rebuilds a Loan from persisted fields without validation.
func RestoreLoan(id, borrowerID, itemID uuid.UUID, issuedOn time.Time, dueOn, returnedOn *time.Time) Loan {
	return Loan{
		ID:         id,
		BorrowerID: borrowerID,
		ItemID:     itemID,
		IssuedOn:   issuedOn,
		DueOn:      dueOn,
		returnedOn: returnedOn,
	}
}

// State returns LoanClosed once a return date is recorded, LoanOpen otherwise.
func (l Loan) State() LoanState {
	if l.returnedOn != nil {
		return LoanClosed
	}

	return LoanOpen
}

// IsOpen reports whether the copy is still with the borrower.
func (l Loan) IsOpen() bool {
	return l.State() == LoanOpen
}

// ReturnedOn returns the return date and true for a closed Loan.
func (l Loan) ReturnedOn() (time.Time, bool) {
	if l.returnedOn == nil {
		return time.Time{}, false
	}

	return *l.returnedOn, true
}

// ReturnedOnPtr returns the return date or nil, for persistence and serialization.
func (l Loan) ReturnedOnPtr() *time.Time {
	return l.returnedOn
}

// Close performs the single legal transition OPEN -> CLOSED.
func (l Loan) Close(returnedOn time.Time) (Loan, error) {
	if !l.IsOpen() {
		return Loan{}, ErrAlreadyReturned
	}

	returnedOn = ToDate(returnedOn)
	if returnedOn.Before(l.IssuedOn) {
		return Loan{}, ErrReturnBeforeIssue
	}

	l.returnedOn = &returnedOn

	return l, nil
}

// LoanView is a Loan joined with the borrower name and the item title.
type LoanView struct {
	LoanID       uuid.UUID  `json:"loan_id"`
	BorrowerID   uuid.UUID  `json:"borrower_id"`
	BorrowerName string     `json:"borrower_name"`
	ItemID       uuid.UUID  `json:"item_id"`
	ItemTitle    string     `json:"item_title"`
	IssuedOn     time.Time  `json:"issued_on"`
	DueOn        *time.Time `json:"due_on"`
	ReturnedOn   *time.Time `json:"returned_on"`
}

// IsOpen reports whether the viewed loan is still open.
func (v LoanView) IsOpen() bool {
	return v.ReturnedOn == nil
}

// ToDate returns the calendar date of t (in t's location) as UTC midnight.
func ToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
