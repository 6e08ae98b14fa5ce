package helper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

// Lending is the part of the engine the fixtures need.
type Lending interface {
	CreateItem(ctx context.Context, details ledger.ItemDetails, totalCopies int) (ledger.Item, error)
	RegisterBorrower(ctx context.Context, name, contact string) (ledger.Borrower, error)
	IssueCopy(ctx context.Context, borrowerID, itemID uuid.UUID, issuedOn time.Time, dueOn *time.Time) (ledger.Loan, error)
	ReturnCopy(ctx context.Context, loanID uuid.UUID, returnedOn time.Time) (ledger.Loan, error)
}

// FakeClock is the fixed point in time fixtures are built around.
var FakeClock = time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)

// FixedClock returns a clock option value that always returns FakeClock.
func FixedClock() time.Time {
	return FakeClock
}

func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return id
}

func FixtureItemDetails() ledger.ItemDetails {
	return ledger.ItemDetails{
		Title:  "Learning Domain-Driven Design",
		Author: "Vlad Khononov",
		Code:   "",
	}
}

func FixtureItemDetailsWithCode(code string) ledger.ItemDetails {
	details := FixtureItemDetails()
	details.Code = code

	return details
}

func GivenItemWasCreated(t testing.TB, ctx context.Context, lending Lending, totalCopies int) ledger.Item {
	item, err := lending.CreateItem(ctx, FixtureItemDetails(), totalCopies)
	require.NoError(t, err, "error in arranging test data")

	return item
}

func GivenItemWithTitleWasCreated(t testing.TB, ctx context.Context, lending Lending, title string, totalCopies int) ledger.Item {
	details := FixtureItemDetails()
	details.Title = title

	item, err := lending.CreateItem(ctx, details, totalCopies)
	require.NoError(t, err, "error in arranging test data")

	return item
}

func GivenBorrowerWasRegistered(t testing.TB, ctx context.Context, lending Lending, name string) ledger.Borrower {
	borrower, err := lending.RegisterBorrower(ctx, name, name+"@example.com")
	require.NoError(t, err, "error in arranging test data")

	return borrower
}

func GivenCopyWasIssued(t testing.TB, ctx context.Context, lending Lending, borrowerID, itemID uuid.UUID) ledger.Loan {
	dueOn := FakeClock.AddDate(0, 0, 14)

	loan, err := lending.IssueCopy(ctx, borrowerID, itemID, FakeClock, &dueOn)
	require.NoError(t, err, "error in arranging test data")

	return loan
}

func GivenCopyWasReturned(t testing.TB, ctx context.Context, lending Lending, loanID uuid.UUID) ledger.Loan {
	loan, err := lending.ReturnCopy(ctx, loanID, FakeClock.AddDate(0, 0, 7))
	require.NoError(t, err, "error in arranging test data")

	return loan
}
