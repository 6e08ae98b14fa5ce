package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Borrower is someone copies can be issued to. The lending engine only needs its identity.
type Borrower struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
}

// BuildBorrower validates the input and returns a new Borrower.
func BuildBorrower(id uuid.UUID, name, contact string, createdAt time.Time) (Borrower, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Borrower{}, ErrEmptyBorrowerName
	}

	return Borrower{
		ID:        id,
		Name:      name,
		Contact:   strings.TrimSpace(contact),
		CreatedAt: createdAt,
	}, nil
}
