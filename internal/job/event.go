package job

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDestroyed
	EventFailed
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDestroyed:
		return "destroyed"
	case EventFailed:
		return "failed"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after an operation completes, outside of
// every registry and slot lock.
type Event struct {
	Type     EventType
	Handle   Handle
	JobID    uuid.UUID
	Op       string
	Method   string
	Err      error
	Duration time.Duration
	At       time.Time
}

// Observer receives lifecycle events. Events for different handles may be
// delivered concurrently.
type Observer interface {
	OnJobEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnJobEvent(e Event) { f(e) }
