package postgresengine

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

func Test_ClassifySQLState(t *testing.T) {
	testCases := []struct {
		name       string
		code       string
		constraint string
		expected   error
	}{
		{"duplicate live code", sqlStateUniqueViolation, indexItemsLiveCode, ledger.ErrDuplicateCode},
		{"other unique violation", sqlStateUniqueViolation, "items_pkey", ledger.ErrConflict},
		{"unknown reference", sqlStateForeignKeyViolation, "loans_item_id_fkey", ledger.ErrReferenceViolation},
		{"available above total", sqlStateCheckViolation, constraintAvailableWithinTotal, ledger.ErrInvariantViolated},
		{"available below zero", sqlStateCheckViolation, constraintAvailableNotNegative, ledger.ErrInvariantViolated},
		{"other check", sqlStateCheckViolation, "items_title_not_empty", ledger.ErrValidation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classifySQLState(tc.code, tc.constraint), tc.expected)
		})
	}
}

func Test_ClassifySQLState_IgnoresOtherStates(t *testing.T) {
	assert.NoError(t, classifySQLState("40001", ""))
}

func Test_ClassifyDriverError_UnwrapsBothDrivers(t *testing.T) {
	pgxErr := errors.Join(errors.New("wrapped"), &pgconn.PgError{Code: sqlStateUniqueViolation, ConstraintName: indexItemsLiveCode})
	pqErr := &pq.Error{Code: sqlStateForeignKeyViolation, Constraint: "loans_borrower_id_fkey"}

	assert.ErrorIs(t, classifyDriverError(pgxErr), ledger.ErrDuplicateCode)
	assert.ErrorIs(t, classifyDriverError(pqErr), ledger.ErrReferenceViolation)
	assert.NoError(t, classifyDriverError(errors.New("connection reset")))
}
