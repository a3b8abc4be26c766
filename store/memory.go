package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"offerflow/workflow"
)

type outboxEntry struct {
	event  workflow.Event
	status string
	reason string
}

// Memory is an in-process Store. Every write runs under one mutex so the
// version compare and the multi-row apply are a single step.
type Memory struct {
	mu          sync.RWMutex
	requests    map[string]workflow.Request
	offers      map[string]workflow.Offer
	offerOrder  map[string][]string
	engagements map[string]workflow.Engagement
	outbox      []*outboxEntry
	outboxIndex map[string]*outboxEntry
}

func NewMemory() *Memory {
	return &Memory{
		requests:    make(map[string]workflow.Request),
		offers:      make(map[string]workflow.Offer),
		offerOrder:  make(map[string][]string),
		engagements: make(map[string]workflow.Engagement),
		outboxIndex: make(map[string]*outboxEntry),
	}
}

func (m *Memory) CreateRequest(ctx context.Context, req workflow.Request) (workflow.Request, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Request{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.ID]; ok {
		return workflow.Request{}, fmt.Errorf("store: request %s already exists", req.ID)
	}
	if req.Version == 0 {
		req.Version = 1
	}
	m.requests[req.ID] = req.Clone()
	return req.Clone(), nil
}

func (m *Memory) GetRequest(ctx context.Context, id string) (workflow.Request, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Request{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return workflow.Request{}, workflow.ErrNotFound
	}
	return req.Clone(), nil
}

func (m *Memory) ListOpenByKind(ctx context.Context, kind workflow.Kind) ([]workflow.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []workflow.Request{}
	for _, req := range m.requests {
		if req.Kind == kind && req.Status.Live() {
			list = append(list, req.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (m *Memory) ListByRequester(ctx context.Context, requesterID string) ([]workflow.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []workflow.Request{}
	for _, req := range m.requests {
		if req.RequesterID == requesterID {
			list = append(list, req.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (m *Memory) CreateOffer(ctx context.Context, offer workflow.Offer, parent Update) (workflow.Offer, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Offer{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if offer.RequestID != parent.Request.ID {
		return workflow.Offer{}, fmt.Errorf("store: offer %s does not belong to request %s", offer.ID, parent.Request.ID)
	}
	if err := m.checkVersion(parent); err != nil {
		return workflow.Offer{}, err
	}
	if _, ok := m.offers[offer.ID]; ok {
		return workflow.Offer{}, fmt.Errorf("store: offer %s already exists", offer.ID)
	}
	for _, id := range m.offerOrder[offer.RequestID] {
		existing := m.offers[id]
		if existing.ProviderID == offer.ProviderID && existing.Status != workflow.OfferWithdrawn {
			return workflow.Offer{}, workflow.ErrDuplicateOffer
		}
	}

	m.offers[offer.ID] = offer.Clone()
	m.offerOrder[offer.RequestID] = append(m.offerOrder[offer.RequestID], offer.ID)
	m.apply(parent)
	return offer.Clone(), nil
}

func (m *Memory) GetOffer(ctx context.Context, id string) (workflow.Offer, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Offer{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	offer, ok := m.offers[id]
	if !ok {
		return workflow.Offer{}, workflow.ErrNotFound
	}
	return offer.Clone(), nil
}

func (m *Memory) ListOffersForRequest(ctx context.Context, requestID string) ([]workflow.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.offerOrder[requestID]
	list := make([]workflow.Offer, 0, len(ids))
	for _, id := range ids {
		list = append(list, m.offers[id].Clone())
	}
	return list, nil
}

func (m *Memory) ListOffersByProvider(ctx context.Context, providerID string) ([]workflow.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []workflow.Offer{}
	for _, offer := range m.offers {
		if offer.ProviderID == providerID {
			list = append(list, offer.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].SubmittedAt.After(list[j].SubmittedAt)
	})
	return list, nil
}

func (m *Memory) UpdateRequestWithVersionCheck(ctx context.Context, u Update) (workflow.Request, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Request{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersion(u); err != nil {
		return workflow.Request{}, err
	}
	for _, offer := range u.Offers {
		stored, ok := m.offers[offer.ID]
		if !ok || stored.RequestID != u.Request.ID {
			return workflow.Request{}, workflow.ErrNotFound
		}
	}
	if u.Engagement != nil {
		if _, ok := m.engagements[u.Engagement.RequestID]; ok {
			return workflow.Request{}, workflow.ErrConflict
		}
	}
	return m.apply(u), nil
}

func (m *Memory) GetEngagementByRequest(ctx context.Context, requestID string) (workflow.Engagement, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Engagement{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	eng, ok := m.engagements[requestID]
	if !ok {
		return workflow.Engagement{}, workflow.ErrNotFound
	}
	return eng, nil
}

func (m *Memory) PendingEvents(ctx context.Context, limit int) ([]workflow.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []workflow.Event{}
	for _, entry := range m.outbox {
		if entry.status != OutboxPending {
			continue
		}
		list = append(list, entry.event.Clone())
		if limit > 0 && len(list) == limit {
			break
		}
	}
	return list, nil
}

func (m *Memory) MarkDelivered(ctx context.Context, eventID string) error {
	return m.mark(ctx, eventID, OutboxProcessed, "")
}

func (m *Memory) MarkDead(ctx context.Context, eventID string, reason string) error {
	return m.mark(ctx, eventID, OutboxDead, reason)
}

// OutboxStatus reports the delivery status of an event.
func (m *Memory) OutboxStatus(eventID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.outboxIndex[eventID]
	if !ok {
		return "", false
	}
	return entry.status, true
}

func (m *Memory) mark(ctx context.Context, eventID, status, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.outboxIndex[eventID]
	if !ok {
		return workflow.ErrNotFound
	}
	entry.status = status
	entry.reason = reason
	return nil
}

func (m *Memory) checkVersion(u Update) error {
	stored, ok := m.requests[u.Request.ID]
	if !ok {
		return workflow.ErrNotFound
	}
	if stored.Version != u.ExpectedVersion {
		return workflow.ErrConflict
	}
	return nil
}

// apply writes u assuming checkVersion passed. Caller holds m.mu.
func (m *Memory) apply(u Update) workflow.Request {
	req := u.Request.Clone()
	req.Version = u.ExpectedVersion + 1
	m.requests[req.ID] = req

	for _, offer := range u.Offers {
		m.offers[offer.ID] = offer.Clone()
	}
	if u.Engagement != nil {
		m.engagements[u.Engagement.RequestID] = *u.Engagement
	}
	for _, ev := range u.Events {
		entry := &outboxEntry{event: ev.Clone(), status: OutboxPending}
		m.outbox = append(m.outbox, entry)
		m.outboxIndex[ev.ID] = entry
	}
	return req.Clone()
}
