package rpc

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/simple-imageflow/internal/job"
	"github.com/tendant/simple-imageflow/pkg/schema"
)

// Publisher is the part of the bus the event publisher needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// EventPublisher forwards registry lifecycle events to the events subject.
// Message events are not published; they only feed metrics.
type EventPublisher struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

func NewEventPublisher(pub Publisher, prefix string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{pub: pub, subject: EventsSubject(prefix), logger: logger}
}

// OnJobEvent implements job.Observer.
func (p *EventPublisher) OnJobEvent(e job.Event) {
	evt, ok := toJobEvent(e)
	if !ok {
		return
	}
	if err := p.pub.PublishJSON(p.subject, evt); err != nil {
		p.logger.Warn("publish job event failed", "subject", p.subject, "type", evt.Type, "handle", evt.Handle, "err", err)
	}
}

func toJobEvent(e job.Event) (schema.JobEvent, bool) {
	var typ schema.JobEventType
	switch e.Type {
	case job.EventCreated:
		typ = schema.JobCreated
	case job.EventDestroyed:
		typ = schema.JobDestroyed
	case job.EventFailed:
		typ = schema.JobFailed
	default:
		return schema.JobEvent{}, false
	}

	evt := schema.JobEvent{
		Type:       typ,
		Handle:     uint64(e.Handle),
		Op:         e.Op,
		Method:     e.Method,
		DurationMs: e.Duration.Milliseconds(),
		HappenedAt: e.At.UnixMilli(),
	}
	if e.JobID != uuid.Nil {
		evt.JobID = e.JobID.String()
	}
	if e.Err != nil {
		evt.Code = job.Code(e.Err)
		evt.Error = e.Err.Error()
	}
	return evt, true
}
