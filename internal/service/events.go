package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle event raised by a mutation.
type EventType string

const (
	EventAdding        EventType = "adding"
	EventAdded         EventType = "added"
	EventUpdating      EventType = "updating"
	EventUpdated       EventType = "updated"
	EventDeleting      EventType = "deleting"
	EventDeleted       EventType = "deleted"
	EventValuesSet     EventType = "values_set"
	EventValuesRemoved EventType = "values_removed"
)

// IsPre reports whether e is raised before the repository is touched.
func (e EventType) IsPre() bool {
	return e == EventAdding || e == EventUpdating || e == EventDeleting
}

// ErrVetoed is returned when a Vetoer rejects a pending change.
var ErrVetoed = errors.New("change vetoed")

// Change records one mutation. The pre-event and post-event of the same
// mutation share an ID.
type Change struct {
	ID       string     `json:"id"`
	Event    EventType  `json:"event"`
	SeriesID string     `json:"series_id"`
	Time     time.Time  `json:"time"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Count    int        `json:"count,omitempty"`
}

func newChange(event EventType, seriesID string) Change {
	return Change{
		ID:       uuid.NewString(),
		Event:    event,
		SeriesID: seriesID,
		Time:     time.Now().UTC(),
	}
}

// as returns the same change re-labelled as event.
func (c Change) as(event EventType) Change {
	c.Event = event
	c.Time = time.Now().UTC()
	return c
}

func (c Change) withRange(from, to time.Time) Change {
	c.From, c.To = &from, &to
	return c
}

// EventHandler receives every pre- and post-event. Errors are logged and
// never undo the mutation.
type EventHandler interface {
	HandleEvent(ctx context.Context, change Change) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, change Change) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Vetoer is implemented by handlers that may reject a pending change. Veto
// is consulted for pre-events only; a non-nil error aborts the mutation.
type Vetoer interface {
	Veto(ctx context.Context, change Change) error
}
