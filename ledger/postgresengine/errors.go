package postgresengine

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateCheckViolation      = "23514"
)

// classifyDriverError maps constraint violations reported by pgx or lib/pq to ledger errors.
// It returns nil for every other error.
func classifyDriverError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code, pgErr.ConstraintName)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code), pqErr.Constraint)
	}

	return nil
}

func classifySQLState(code, constraint string) error {
	switch code {
	case sqlStateUniqueViolation:
		if constraint == indexItemsLiveCode {
			return ledger.ErrDuplicateCode
		}

		return fmt.Errorf("%w: %s", ledger.ErrConflict, constraint)

	case sqlStateForeignKeyViolation:
		return ledger.ErrReferenceViolation

	case sqlStateCheckViolation:
		if constraint == constraintAvailableWithinTotal || constraint == constraintAvailableNotNegative {
			return ledger.ErrInvariantViolated
		}

		return fmt.Errorf("%w: %s", ledger.ErrValidation, constraint)

	default:
		return nil
	}
}
