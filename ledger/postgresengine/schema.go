package postgresengine

import (
	"context"
	"errors"

	"github.com/AntonStoeckl/lending-ledger-go/ledger"
)

const (
	indexItemsLiveCode             = "items_live_code_key"
	constraintAvailableWithinTotal = "items_available_within_total"
	constraintAvailableNotNegative = "items_available_not_negative"
)

// schemaStatements create the ledger tables. The CHECK constraints mirror the copy counter bounds,
// so a broken unit is rejected by the database as well.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id               uuid PRIMARY KEY,
		sequence_number  bigint GENERATED ALWAYS AS IDENTITY,
		title            text NOT NULL CONSTRAINT items_title_not_empty CHECK (title <> ''),
		author           text NOT NULL DEFAULT '',
		code             text NOT NULL DEFAULT '',
		total_copies     integer NOT NULL CONSTRAINT items_total_not_negative CHECK (total_copies >= 0),
		available_copies integer NOT NULL CONSTRAINT ` + constraintAvailableNotNegative + ` CHECK (available_copies >= 0),
		created_at       timestamptz NOT NULL,
		deleted_at       timestamptz NULL,
		CONSTRAINT ` + constraintAvailableWithinTotal + ` CHECK (available_copies <= total_copies)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + indexItemsLiveCode + ` ON items (code) WHERE code <> '' AND deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS borrowers (
		id         uuid PRIMARY KEY,
		name       text NOT NULL CONSTRAINT borrowers_name_not_empty CHECK (name <> ''),
		contact    text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS borrowers_name_idx ON borrowers (name)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id              uuid PRIMARY KEY,
		sequence_number bigint GENERATED ALWAYS AS IDENTITY,
		borrower_id     uuid NOT NULL REFERENCES borrowers (id),
		item_id         uuid NOT NULL REFERENCES items (id),
		issued_on       date NOT NULL,
		due_on          date NULL CONSTRAINT loans_due_not_before_issue CHECK (due_on >= issued_on),
		returned_on     date NULL CONSTRAINT loans_return_not_before_issue CHECK (returned_on >= issued_on)
	)`,
	`CREATE INDEX IF NOT EXISTS loans_open_by_item_idx ON loans (item_id, sequence_number) WHERE returned_on IS NULL`,
	`CREATE INDEX IF NOT EXISTS loans_sequence_idx ON loans (sequence_number)`,
}

// CreateSchema creates the tables and indexes if they do not exist yet.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := s.db.Exec(ctx, statement); err != nil {
			s.logError(ctx, logMsgCreateSchemaFailed, err)
			return errors.Join(ledger.ErrQueryFailed, err)
		}
	}

	s.logInfo(ctx, logMsgSchemaCreated)

	return nil
}

// TruncateAll removes all ledger rows. Intended for test setups.
func (s *Store) TruncateAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE TABLE loans, borrowers, items RESTART IDENTITY`); err != nil {
		s.logError(ctx, logMsgTruncateFailed, err)
		return errors.Join(ledger.ErrQueryFailed, err)
	}

	return nil
}
