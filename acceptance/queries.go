package acceptance

import (
	"context"
	"fmt"

	"offerflow/workflow"
)

func (c *Coordinator) GetRequest(ctx context.Context, id string) (workflow.Request, error) {
	req, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return workflow.Request{}, fmt.Errorf("acceptance: get request: %w", err)
	}
	return req, nil
}

func (c *Coordinator) ListOffers(ctx context.Context, requestID string) ([]workflow.Offer, error) {
	if _, err := c.store.GetRequest(ctx, requestID); err != nil {
		return nil, fmt.Errorf("acceptance: get request: %w", err)
	}
	offers, err := c.store.ListOffersForRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("acceptance: list offers: %w", err)
	}
	return offers, nil
}

func (c *Coordinator) ListOpenByKind(ctx context.Context, kind workflow.Kind) ([]workflow.Request, error) {
	if !kind.Valid() {
		return nil, workflow.Invalid("kind", fmt.Sprintf("unknown kind %q", kind))
	}
	list, err := c.store.ListOpenByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("acceptance: list open: %w", err)
	}
	return list, nil
}

func (c *Coordinator) ListByRequester(ctx context.Context, requesterID string) ([]workflow.Request, error) {
	list, err := c.store.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("acceptance: list by requester: %w", err)
	}
	return list, nil
}

func (c *Coordinator) ListOffersByProvider(ctx context.Context, providerID string) ([]workflow.Offer, error) {
	list, err := c.store.ListOffersByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("acceptance: list by provider: %w", err)
	}
	return list, nil
}

func (c *Coordinator) GetEngagement(ctx context.Context, requestID string) (workflow.Engagement, error) {
	eng, err := c.store.GetEngagementByRequest(ctx, requestID)
	if err != nil {
		return workflow.Engagement{}, fmt.Errorf("acceptance: get engagement: %w", err)
	}
	return eng, nil
}
