package workflow

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventOfferSubmitted    EventType = "offer.submitted"
	EventOfferUpdated      EventType = "offer.updated"
	EventOfferWithdrawn    EventType = "offer.withdrawn"
	EventOfferAccepted     EventType = "offer.accepted"
	EventOfferRejected     EventType = "offer.rejected"
	EventRequestCancelled  EventType = "request.cancelled"
	EventEngagementCreated EventType = "engagement.created"
)

// Event is a notification addressed to one recipient. ID is stable across
// redeliveries so recipients can dedupe.
type Event struct {
	ID          string
	Type        EventType
	RecipientID string
	RequestID   string
	OfferID     string
	Payload     json.RawMessage
	OccurredAt  time.Time
}

// Clone returns a copy whose payload is not shared with e.
func (e Event) Clone() Event {
	out := e
	out.Payload = cloneRaw(e.Payload)
	return out
}

// EventPayload marshals a flat payload map. Values are plain scalars so
// marshalling cannot fail in practice.
func EventPayload(fields map[string]any) json.RawMessage {
	b, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return b
}
