package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"offerflow/workflow"
)

// Notifier delivers one event to its recipient. Implementations may be
// called concurrently and must tolerate redelivery of the same event id.
type Notifier interface {
	Deliver(ctx context.Context, ev workflow.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev workflow.Event) error

func (f NotifierFunc) Deliver(ctx context.Context, ev workflow.Event) error {
	return f(ctx, ev)
}

// Fanout delivers to every sink and fails if any sink fails. A retry
// redelivers to all sinks; sinks rely on the event id for idempotency.
type Fanout []Notifier

func (f Fanout) Deliver(ctx context.Context, ev workflow.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to a logger. Used when no transport sink is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Deliver(ctx context.Context, ev workflow.Event) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("notify: %s -> %s request=%s offer=%s id=%s", ev.Type, ev.RecipientID, ev.RequestID, ev.OfferID, ev.ID)
	return nil
}

// envelope is the wire shape shared by the broker and websocket sinks.
type envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	RecipientID string          `json:"recipient_id"`
	RequestID   string          `json:"request_id"`
	OfferID     string          `json:"offer_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func encodeEvent(ev workflow.Event) ([]byte, error) {
	b, err := json.Marshal(envelope{
		ID:          ev.ID,
		Type:        string(ev.Type),
		RecipientID: ev.RecipientID,
		RequestID:   ev.RequestID,
		OfferID:     ev.OfferID,
		Payload:     ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: encode event %s: %w", ev.ID, err)
	}
	return b, nil
}
