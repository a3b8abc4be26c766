package acceptance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"offerflow/store"
	"offerflow/workflow"
)

// Waker is poked after every commit that wrote outbox events.
type Waker interface {
	Wake()
}

// Coordinator owns every write to requests and offers. Each operation loads
// the request first, validates against the state machine, and commits one
// version-checked update; a concurrent writer makes it fail with
// workflow.ErrConflict. Conflicts are never retried here.
type Coordinator struct {
	store       store.Store
	waker       Waker
	idGenerator func() string
	now         func() time.Time
}

func NewCoordinator(s store.Store) *Coordinator {
	return &Coordinator{
		store:       s,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (c *Coordinator) WithIDGenerator(gen func() string) *Coordinator {
	c.idGenerator = gen
	return c
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) WithWaker(w Waker) *Coordinator {
	c.waker = w
	return c
}

type CreateRequestParams struct {
	TenantID    string
	RequesterID string
	Kind        workflow.Kind
	Title       string
	Criteria    json.RawMessage
	BudgetMin   int64
	BudgetMax   int64
	Currency    string
}

func (c *Coordinator) CreateRequest(ctx context.Context, params CreateRequestParams) (workflow.Request, error) {
	if strings.TrimSpace(params.RequesterID) == "" {
		return workflow.Request{}, workflow.Invalid("requester_id", "required")
	}
	if !params.Kind.Valid() {
		return workflow.Request{}, workflow.Invalid("kind", fmt.Sprintf("unknown kind %q", params.Kind))
	}
	if len(params.Title) > 200 {
		return workflow.Request{}, workflow.Invalid("title", "longer than 200 characters")
	}
	if params.BudgetMin < 0 || params.BudgetMax < params.BudgetMin {
		return workflow.Request{}, workflow.Invalid("budget", "expected 0 <= min <= max")
	}
	if err := validatePayload("criteria", params.Criteria); err != nil {
		return workflow.Request{}, err
	}
	currency, err := normalizeCurrency(params.Currency)
	if err != nil {
		return workflow.Request{}, err
	}

	req := workflow.Request{
		ID:          c.idGenerator(),
		TenantID:    params.TenantID,
		RequesterID: params.RequesterID,
		Kind:        params.Kind,
		Title:       strings.TrimSpace(params.Title),
		Criteria:    params.Criteria,
		BudgetMin:   params.BudgetMin,
		BudgetMax:   params.BudgetMax,
		Currency:    currency,
		Status:      workflow.RequestOpen,
		Version:     1,
		CreatedAt:   c.now(),
	}
	created, err := c.store.CreateRequest(ctx, req)
	if err != nil {
		return workflow.Request{}, fmt.Errorf("acceptance: create request: %w", err)
	}
	return created, nil
}

type SubmitOfferParams struct {
	RequestID  string
	ProviderID string
	Price      int64
	Currency   string
	Terms      json.RawMessage
}

// SubmitOffer records a pending offer. The first offer moves an open request
// to negotiating; every valid submission bumps the offer counter.
func (c *Coordinator) SubmitOffer(ctx context.Context, params SubmitOfferParams) (workflow.Offer, error) {
	if strings.TrimSpace(params.ProviderID) == "" {
		return workflow.Offer{}, workflow.Invalid("provider_id", "required")
	}
	if params.Price <= 0 {
		return workflow.Offer{}, workflow.Invalid("price", "must be positive")
	}
	if err := validatePayload("terms", params.Terms); err != nil {
		return workflow.Offer{}, err
	}

	req, err := c.store.GetRequest(ctx, params.RequestID)
	if err != nil {
		return workflow.Offer{}, fmt.Errorf("acceptance: load request: %w", err)
	}
	if req.RequesterID == params.ProviderID {
		return workflow.Offer{}, fmt.Errorf("acceptance: requester cannot offer on own request: %w", workflow.ErrForbidden)
	}
	if !req.Status.Live() {
		return workflow.Offer{}, fmt.Errorf("acceptance: request %s is %s: %w", req.ID, req.Status, workflow.ErrInvalidState)
	}
	currency, err := offerCurrency(req, params.Currency)
	if err != nil {
		return workflow.Offer{}, err
	}

	now := c.now()
	next := req.Clone()
	next.OfferCount++
	if next.Status == workflow.RequestOpen {
		if next, err = workflow.TransitionRequest(next, workflow.RequestNegotiating, now); err != nil {
			return workflow.Offer{}, err
		}
	}

	offer := workflow.Offer{
		ID:          c.idGenerator(),
		RequestID:   req.ID,
		ProviderID:  params.ProviderID,
		Price:       params.Price,
		Currency:    currency,
		Terms:       params.Terms,
		Status:      workflow.OfferPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	update := store.Update{
		Request:         next,
		ExpectedVersion: req.Version,
		Events:          []workflow.Event{c.offerEvent(workflow.EventOfferSubmitted, req.RequesterID, offer, now)},
	}

	created, err := c.store.CreateOffer(ctx, offer, update)
	if err != nil {
		return workflow.Offer{}, fmt.Errorf("acceptance: submit offer: %w", err)
	}
	c.wake()
	return created, nil
}

type EditOfferParams struct {
	OfferID    string
	ProviderID string
	Price      int64
	Terms      json.RawMessage
}

// EditOffer changes price or terms of a pending offer on a live request. Nil
// terms keep the current terms.
func (c *Coordinator) EditOffer(ctx context.Context, params EditOfferParams) (workflow.Offer, error) {
	if params.Price <= 0 {
		return workflow.Offer{}, workflow.Invalid("price", "must be positive")
	}
	if err := validatePayload("terms", params.Terms); err != nil {
		return workflow.Offer{}, err
	}

	req, offer, err := c.loadOwnedOffer(ctx, params.OfferID, params.ProviderID)
	if err != nil {
		return workflow.Offer{}, err
	}

	now := c.now()
	edited := offer.Clone()
	edited.Price = params.Price
	if params.Terms != nil {
		edited.Terms = params.Terms
	}
	edited.UpdatedAt = now

	update := store.Update{
		Request:         req,
		ExpectedVersion: req.Version,
		Offers:          []workflow.Offer{edited},
		Events:          []workflow.Event{c.offerEvent(workflow.EventOfferUpdated, req.RequesterID, edited, now)},
	}
	if _, err := c.store.UpdateRequestWithVersionCheck(ctx, update); err != nil {
		return workflow.Offer{}, fmt.Errorf("acceptance: edit offer: %w", err)
	}
	c.wake()
	return edited, nil
}

// WithdrawOffer retracts a pending offer. The provider may submit again
// afterwards.
func (c *Coordinator) WithdrawOffer(ctx context.Context, offerID, providerID string) (workflow.Offer, error) {
	req, offer, err := c.loadOwnedOffer(ctx, offerID, providerID)
	if err != nil {
		return workflow.Offer{}, err
	}

	now := c.now()
	withdrawn, err := workflow.TransitionOffer(offer, workflow.OfferWithdrawn, now)
	if err != nil {
		return workflow.Offer{}, err
	}
	update := store.Update{
		Request:         req,
		ExpectedVersion: req.Version,
		Offers:          []workflow.Offer{withdrawn},
		Events:          []workflow.Event{c.offerEvent(workflow.EventOfferWithdrawn, req.RequesterID, withdrawn, now)},
	}
	if _, err := c.store.UpdateRequestWithVersionCheck(ctx, update); err != nil {
		return workflow.Offer{}, fmt.Errorf("acceptance: withdraw offer: %w", err)
	}
	c.wake()
	return withdrawn, nil
}

// loadOwnedOffer resolves the offer's request, then re-reads the offer so
// that both reads are covered by the request version the caller commits
// against.
func (c *Coordinator) loadOwnedOffer(ctx context.Context, offerID, providerID string) (workflow.Request, workflow.Offer, error) {
	probe, err := c.store.GetOffer(ctx, offerID)
	if err != nil {
		return workflow.Request{}, workflow.Offer{}, fmt.Errorf("acceptance: load offer: %w", err)
	}
	if probe.ProviderID != providerID {
		return workflow.Request{}, workflow.Offer{}, fmt.Errorf("acceptance: offer %s belongs to another provider: %w", offerID, workflow.ErrForbidden)
	}
	req, err := c.store.GetRequest(ctx, probe.RequestID)
	if err != nil {
		return workflow.Request{}, workflow.Offer{}, fmt.Errorf("acceptance: load request: %w", err)
	}
	offer, err := c.store.GetOffer(ctx, offerID)
	if err != nil {
		return workflow.Request{}, workflow.Offer{}, fmt.Errorf("acceptance: load offer: %w", err)
	}
	if !req.Status.Live() {
		return workflow.Request{}, workflow.Offer{}, fmt.Errorf("acceptance: request %s is %s: %w", req.ID, req.Status, workflow.ErrInvalidState)
	}
	if offer.Status != workflow.OfferPending {
		return workflow.Request{}, workflow.Offer{}, fmt.Errorf("acceptance: offer %s is %s: %w", offer.ID, offer.Status, workflow.ErrInvalidState)
	}
	return req, offer, nil
}

func (c *Coordinator) wake() {
	if c.waker != nil {
		c.waker.Wake()
	}
}

func (c *Coordinator) offerEvent(t workflow.EventType, recipient string, offer workflow.Offer, at time.Time) workflow.Event {
	return workflow.Event{
		ID:          c.idGenerator(),
		Type:        t,
		RecipientID: recipient,
		RequestID:   offer.RequestID,
		OfferID:     offer.ID,
		Payload: workflow.EventPayload(map[string]any{
			"request_id":  offer.RequestID,
			"offer_id":    offer.ID,
			"provider_id": offer.ProviderID,
			"price":       offer.Price,
			"currency":    offer.Currency,
			"status":      offer.Status,
		}),
		OccurredAt: at,
	}
}

func validatePayload(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if !json.Valid(raw) {
		return workflow.Invalid(field, "not valid JSON")
	}
	return nil
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", nil
	}
	if len(code) != 3 {
		return "", workflow.Invalid("currency", "expected a 3-letter code")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", workflow.Invalid("currency", "expected a 3-letter code")
		}
	}
	return code, nil
}

func offerCurrency(req workflow.Request, requested string) (string, error) {
	currency, err := normalizeCurrency(requested)
	if err != nil {
		return "", err
	}
	switch {
	case currency == "":
		return req.Currency, nil
	case req.Currency != "" && currency != req.Currency:
		return "", workflow.Invalid("currency", fmt.Sprintf("request is priced in %s", req.Currency))
	default:
		return currency, nil
	}
}

