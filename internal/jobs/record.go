// Package jobs defines the persisted reminder record, the recurrence
// catalog and the storage contract shared by the scheduler, recovery and
// the fire handler.
package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID is returned when an id is already taken.
	ErrDuplicateID = errors.New("duplicate job id")
	// ErrRecurrenceUnknown is returned for a recurrence with no period.
	ErrRecurrenceUnknown = errors.New("unknown recurrence")
	// ErrDeliveryFailure wraps notifier errors.
	ErrDeliveryFailure = errors.New("delivery failed")
)

// Record is one persisted reminder. ID is the identity.
type Record struct {
	ID         string     `json:"id" yaml:"id"`
	OwnerChat  int64      `json:"owner_chat" yaml:"owner_chat"`
	OwnerUser  int64      `json:"owner_user" yaml:"owner_user"`
	Payload    string     `json:"payload" yaml:"payload"`
	Recurrence Recurrence `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`
	NextFireAt time.Time  `json:"next_fire_at" yaml:"next_fire_at"`
}

// IsRecurring reports whether the record repeats.
func (r Record) IsRecurring() bool {
	return r.Recurrence.IsRecurring()
}

// Store is durable CRUD over records. Every call is atomic on its own.
type Store interface {
	// Create inserts r. ErrDuplicateID if r.ID exists.
	Create(ctx context.Context, r Record) (string, error)
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// ListByOwner returns the chat's records in insertion order.
	ListByOwner(ctx context.Context, chat int64) ([]Record, error)
	// ListAll returns every record in no particular order.
	ListAll(ctx context.Context) ([]Record, error)
	// UpdateNextFire replaces NextFireAt. ErrNotFound if absent.
	UpdateNextFire(ctx context.Context, id string, at time.Time) error
	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
