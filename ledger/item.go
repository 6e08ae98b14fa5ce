package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item is a catalog entry with a number of fungible copies.
//
// AvailableCopies is owned by the lending engine; catalog edits never set it directly.
type Item struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Code            string    `json:"code"` // optional external code (ISBN), unique among live items when non-empty
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
}

// ItemDetails holds the descriptive fields of an Item that catalog edits may change.
type ItemDetails struct {
	Title  string
	Author string
	Code   string
}

// BuildItem validates the input and returns a new Item with all copies available.
func BuildItem(id uuid.UUID, details ItemDetails, totalCopies int, createdAt time.Time) (Item, error) {
	details = details.normalized()

	if err := details.validate(); err != nil {
		return Item{}, err
	}

	if totalCopies < 0 {
		return Item{}, ErrNegativeTotalCopies
	}

	return Item{
		ID:              id,
		Title:           details.Title,
		Author:          details.Author,
		Code:            details.Code,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		CreatedAt:       createdAt,
	}, nil
}

// OnLoan returns the number of copies currently out of circulation.
func (i Item) OnLoan() int {
	return i.TotalCopies - i.AvailableCopies
}

// HasAvailableCopy reports whether a copy can be issued.
func (i Item) HasAvailableCopy() bool {
	return i.AvailableCopies > 0
}

// CheckBounds reports whether 0 <= AvailableCopies <= TotalCopies holds.
func (i Item) CheckBounds() bool {
	return i.AvailableCopies >= 0 && i.AvailableCopies <= i.TotalCopies
}

// Rebaseline returns the Item with a new total, moving the available counter by the same delta.
// The available counter is clamped at zero when the total shrinks below the number of copies
// on loan; in that case the open loans stay untouched and OnLoan no longer matches them until
// enough copies come back.
func (i Item) Rebaseline(newTotal int) (Item, error) {
	if newTotal < 0 {
		return Item{}, ErrNegativeTotalCopies
	}

	i.AvailableCopies = max(0, i.AvailableCopies+newTotal-i.TotalCopies)
	i.TotalCopies = newTotal

	return i, nil
}

// WithDetails returns the Item with replaced descriptive fields.
func (i Item) WithDetails(details ItemDetails) (Item, error) {
	details = details.normalized()

	if err := details.validate(); err != nil {
		return Item{}, err
	}

	i.Title = details.Title
	i.Author = details.Author
	i.Code = details.Code

	return i, nil
}

// Details returns the descriptive fields of the Item.
func (i Item) Details() ItemDetails {
	return ItemDetails{Title: i.Title, Author: i.Author, Code: i.Code}
}

func (d ItemDetails) normalized() ItemDetails {
	return ItemDetails{
		Title:  strings.TrimSpace(d.Title),
		Author: strings.TrimSpace(d.Author),
		Code:   strings.TrimSpace(d.Code),
	}
}

func (d ItemDetails) validate() error {
	if d.Title == "" {
		return ErrEmptyTitle
	}

	return nil
}
