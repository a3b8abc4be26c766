package acceptance

import (
	"context"
	"fmt"
	"time"

	"offerflow/store"
	"offerflow/workflow"
)

// Accept closes the request in favour of offerID. In one unit the target
// offer becomes accepted, every other pending offer rejected, the request
// accepted and an engagement is recorded. A stale version yields
// workflow.ErrConflict and nothing is written.
func (c *Coordinator) Accept(ctx context.Context, requestID, offerID, actorID string) (workflow.Engagement, error) {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return workflow.Engagement{}, fmt.Errorf("acceptance: load request: %w", err)
	}
	offers, err := c.store.ListOffersForRequest(ctx, requestID)
	if err != nil {
		return workflow.Engagement{}, fmt.Errorf("acceptance: load offers: %w", err)
	}

	if req.RequesterID != actorID {
		return workflow.Engagement{}, fmt.Errorf("acceptance: only the requester may accept: %w", workflow.ErrForbidden)
	}
	if !req.Status.Live() {
		return workflow.Engagement{}, fmt.Errorf("acceptance: request %s is %s: %w", req.ID, req.Status, workflow.ErrInvalidState)
	}

	var target *workflow.Offer
	for i := range offers {
		if offers[i].ID == offerID {
			target = &offers[i]
			break
		}
	}
	if target == nil {
		return workflow.Engagement{}, fmt.Errorf("acceptance: offer %s not on request %s: %w", offerID, requestID, workflow.ErrNotFound)
	}
	if target.Status != workflow.OfferPending {
		return workflow.Engagement{}, fmt.Errorf("acceptance: offer %s is %s: %w", offerID, target.Status, workflow.ErrInvalidState)
	}

	now := c.now()
	closed, err := workflow.TransitionRequest(req, workflow.RequestAccepted, now)
	if err != nil {
		return workflow.Engagement{}, err
	}
	closed.AcceptedOfferID = &target.ID

	winner, err := workflow.TransitionOffer(*target, workflow.OfferAccepted, now)
	if err != nil {
		return workflow.Engagement{}, err
	}
	changed := []workflow.Offer{winner}
	events := []workflow.Event{c.offerEvent(workflow.EventOfferAccepted, winner.ProviderID, winner, now)}

	for _, o := range offers {
		if o.ID == winner.ID || o.Status != workflow.OfferPending {
			continue
		}
		loser, err := workflow.TransitionOffer(o, workflow.OfferRejected, now)
		if err != nil {
			return workflow.Engagement{}, err
		}
		changed = append(changed, loser)
		events = append(events, c.offerEvent(workflow.EventOfferRejected, loser.ProviderID, loser, now))
	}

	engagement := workflow.Engagement{
		ID:          c.idGenerator(),
		RequestID:   req.ID,
		OfferID:     winner.ID,
		RequesterID: req.RequesterID,
		ProviderID:  winner.ProviderID,
		Amount:      winner.Price,
		Currency:    winner.Currency,
		CreatedAt:   now,
	}
	events = append(events, c.engagementEvent(engagement, now))

	update := store.Update{
		Request:         closed,
		ExpectedVersion: req.Version,
		Offers:          changed,
		Engagement:      &engagement,
		Events:          events,
	}
	if _, err := c.store.UpdateRequestWithVersionCheck(ctx, update); err != nil {
		return workflow.Engagement{}, fmt.Errorf("acceptance: commit accept: %w", err)
	}
	c.wake()
	return engagement, nil
}

type CancelParams struct {
	RequestID string
	ActorID   string
	Reason    string
}

// Cancel closes a live request without a winner; pending offers are
// withdrawn in the same unit.
func (c *Coordinator) Cancel(ctx context.Context, params CancelParams) error {
	req, err := c.store.GetRequest(ctx, params.RequestID)
	if err != nil {
		return fmt.Errorf("acceptance: load request: %w", err)
	}
	offers, err := c.store.ListOffersForRequest(ctx, params.RequestID)
	if err != nil {
		return fmt.Errorf("acceptance: load offers: %w", err)
	}

	if req.RequesterID != params.ActorID {
		return fmt.Errorf("acceptance: only the requester may cancel: %w", workflow.ErrForbidden)
	}
	if len(params.Reason) > 500 {
		return workflow.Invalid("reason", "longer than 500 characters")
	}
	if !req.Status.Live() {
		return fmt.Errorf("acceptance: request %s is %s: %w", req.ID, req.Status, workflow.ErrInvalidState)
	}

	now := c.now()
	closed, err := workflow.TransitionRequest(req, workflow.RequestCancelled, now)
	if err != nil {
		return err
	}
	if params.Reason != "" {
		reason := params.Reason
		closed.CancelReason = &reason
	}

	var (
		changed []workflow.Offer
		events  []workflow.Event
	)
	for _, o := range offers {
		if o.Status != workflow.OfferPending {
			continue
		}
		withdrawn, err := workflow.TransitionOffer(o, workflow.OfferWithdrawn, now)
		if err != nil {
			return err
		}
		changed = append(changed, withdrawn)
		events = append(events, c.cancelEvent(closed, withdrawn, now))
	}

	update := store.Update{
		Request:         closed,
		ExpectedVersion: req.Version,
		Offers:          changed,
		Events:          events,
	}
	if _, err := c.store.UpdateRequestWithVersionCheck(ctx, update); err != nil {
		return fmt.Errorf("acceptance: commit cancel: %w", err)
	}
	if len(events) > 0 {
		c.wake()
	}
	return nil
}

func (c *Coordinator) engagementEvent(e workflow.Engagement, at time.Time) workflow.Event {
	return workflow.Event{
		ID:          c.idGenerator(),
		Type:        workflow.EventEngagementCreated,
		RecipientID: e.RequesterID,
		RequestID:   e.RequestID,
		OfferID:     e.OfferID,
		Payload: workflow.EventPayload(map[string]any{
			"engagement_id": e.ID,
			"request_id":    e.RequestID,
			"offer_id":      e.OfferID,
			"provider_id":   e.ProviderID,
			"amount":        e.Amount,
			"currency":      e.Currency,
		}),
		OccurredAt: at,
	}
}

func (c *Coordinator) cancelEvent(req workflow.Request, offer workflow.Offer, at time.Time) workflow.Event {
	fields := map[string]any{
		"request_id": req.ID,
		"offer_id":   offer.ID,
	}
	if req.CancelReason != nil {
		fields["reason"] = *req.CancelReason
	}
	return workflow.Event{
		ID:          c.idGenerator(),
		Type:        workflow.EventRequestCancelled,
		RecipientID: offer.ProviderID,
		RequestID:   req.ID,
		OfferID:     offer.ID,
		Payload:     workflow.EventPayload(fields),
		OccurredAt:  at,
	}
}
