package history

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of recorded event.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop"
	EventLaunchFailed EventType = "launch_failed"
	EventExited       EventType = "exited" // found dead by a liveness check
	EventDecision     EventType = "decision"
)

// Event is one append-only audit entry. Service events fill Service and PID;
// decision events fill Label and Source.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Message    string    `json:"message,omitempty"`
	Label      string    `json:"label,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers each event to every sink.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
