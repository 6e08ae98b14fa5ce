package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func Test_BuildLoan_TruncatesDatesAndStartsOpen(t *testing.T) {
	// setup
	issuedAt := time.Date(2024, time.March, 4, 17, 30, 0, 0, time.UTC)
	dueAt := time.Date(2024, time.March, 18, 9, 0, 0, 0, time.UTC)

	// act
	loan, err := BuildLoan(uuid.New(), uuid.New(), uuid.New(), issuedAt, &dueAt)

	// assert
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 4), loan.IssuedOn)
	require.NotNil(t, loan.DueOn)
	assert.Equal(t, date(2024, time.March, 18), *loan.DueOn)
	assert.Equal(t, LoanOpen, loan.State())
	assert.True(t, loan.IsOpen())

	_, returned := loan.ReturnedOn()
	assert.False(t, returned)
}

func Test_BuildLoan_WithoutDueDate(t *testing.T) {
	loan, err := BuildLoan(uuid.New(), uuid.New(), uuid.New(), date(2024, time.March, 4), nil)

	require.NoError(t, err)
	assert.Nil(t, loan.DueOn)
}

func Test_BuildLoan_RejectsDueBeforeIssue(t *testing.T) {
	due := date(2024, time.March, 3)

	_, err := BuildLoan(uuid.New(), uuid.New(), uuid.New(), date(2024, time.March, 4), &due)

	assert.ErrorIs(t, err, ErrDueBeforeIssue)
	assert.ErrorIs(t, err, ErrValidation)
}

func Test_Loan_Close_IsTerminal(t *testing.T) {
	// setup
	loan, err := BuildLoan(uuid.New(), uuid.New(), uuid.New(), date(2024, time.March, 4), nil)
	require.NoError(t, err)

	// act
	closed, closeErr := loan.Close(date(2024, time.March, 10))
	_, secondCloseErr := closed.Close(date(2024, time.March, 11))

	// assert
	require.NoError(t, closeErr)
	assert.Equal(t, LoanClosed, closed.State())
	returnedOn, ok := closed.ReturnedOn()
	assert.True(t, ok)
	assert.Equal(t, date(2024, time.March, 10), returnedOn)

	assert.ErrorIs(t, secondCloseErr, ErrAlreadyReturned)
	assert.ErrorIs(t, secondCloseErr, ErrConflict)

	assert.True(t, loan.IsOpen(), "closing must not mutate the original value")
}

func Test_Loan_Close_SameDayReturn(t *testing.T) {
	loan, err := BuildLoan(uuid.New(), uuid.New(), uuid.New(), date(2024, time.March, 4), nil)
	require.NoError(t, err)

	closed, err := loan.Close(time.Date(2024, time.March, 4, 23, 59, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
}

func Test_Loan_Close_RejectsReturnBeforeIssue(t *testing.T) {
	loan, err := BuildLoan(uuid.New(), uuid.New(), uuid.New(), date(2024, time.March, 4), nil)
	require.NoError(t, err)

	_, err = loan.Close(date(2024, time.March, 1))

	assert.ErrorIs(t, err, ErrReturnBeforeIssue)
	assert.ErrorIs(t, err, ErrValidation)
}

func Test_LoanState_String(t *testing.T) {
	assert.Equal(t, "open", LoanOpen.String())
	assert.Equal(t, "closed", LoanClosed.String())
	assert.Equal(t, "unknown", LoanState(0).String())
}

func Test_ToDate_KeepsCalendarDayOfLocation(t *testing.T) {
	berlin := time.FixedZone("CET", 60*60)

	assert.Equal(t, date(2024, time.March, 4), ToDate(time.Date(2024, time.March, 4, 0, 30, 0, 0, berlin)))
}

func Test_GetConsistencyLevel_DefaultsToStrong(t *testing.T) {
	assert.Equal(t, StrongConsistency, GetConsistencyLevel(t.Context()))
	assert.Equal(t, EventualConsistency, GetConsistencyLevel(WithEventualConsistency(t.Context())))
	assert.Equal(t, StrongConsistency, GetConsistencyLevel(WithStrongConsistency(WithEventualConsistency(t.Context()))))
}
