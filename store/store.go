package store

import (
	"context"

	"offerflow/workflow"
)

// Update is one version-checked write against a request aggregate. Request
// carries the full new state; ExpectedVersion is the version the caller
// loaded. Offers, Engagement and Events are written in the same unit.
type Update struct {
	Request         workflow.Request
	ExpectedVersion int64
	Offers          []workflow.Offer
	Engagement      *workflow.Engagement
	Events          []workflow.Event
}

// Store is the persistence boundary for requests, offers, engagements and
// the notification outbox. Implementations return workflow sentinel errors.
type Store interface {
	CreateRequest(ctx context.Context, req workflow.Request) (workflow.Request, error)
	GetRequest(ctx context.Context, id string) (workflow.Request, error)
	ListOpenByKind(ctx context.Context, kind workflow.Kind) ([]workflow.Request, error)
	ListByRequester(ctx context.Context, requesterID string) ([]workflow.Request, error)

	// CreateOffer inserts offer and applies parent in one unit. It fails with
	// ErrDuplicateOffer when the provider already holds a non-withdrawn offer
	// on the request and ErrConflict when the parent version moved.
	CreateOffer(ctx context.Context, offer workflow.Offer, parent Update) (workflow.Offer, error)
	GetOffer(ctx context.Context, id string) (workflow.Offer, error)
	ListOffersForRequest(ctx context.Context, requestID string) ([]workflow.Offer, error)
	ListOffersByProvider(ctx context.Context, providerID string) ([]workflow.Offer, error)

	UpdateRequestWithVersionCheck(ctx context.Context, u Update) (workflow.Request, error)
	GetEngagementByRequest(ctx context.Context, requestID string) (workflow.Engagement, error)

	PendingEvents(ctx context.Context, limit int) ([]workflow.Event, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkDead(ctx context.Context, eventID string, reason string) error
}

const (
	OutboxPending   = "pending"
	OutboxProcessed = "processed"
	OutboxDead      = "dead"
)
