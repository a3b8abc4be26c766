package acceptance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"offerflow/store"
	"offerflow/workflow"
)

var fixedNow = time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)

type fakeWaker struct {
	calls atomic.Int32
}

func (f *fakeWaker) Wake() { f.calls.Add(1) }

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

func newCoordinator(s store.Store) (*Coordinator, *fakeWaker) {
	w := &fakeWaker{}
	c := NewCoordinator(s).
		WithClock(func() time.Time { return fixedNow }).
		WithIDGenerator(sequentialIDs("id")).
		WithWaker(w)
	return c, w
}

func mustRequest(t *testing.T, c *Coordinator, requester string) workflow.Request {
	t.Helper()
	req, err := c.CreateRequest(context.Background(), CreateRequestParams{
		TenantID:    "fleet-1",
		RequesterID: requester,
		Kind:        workflow.KindFreightHaul,
		Title:       "Reefer load Lyon to Milan",
		Criteria:    []byte(`{"pallets":18,"temp_c":4}`),
		BudgetMin:   80,
		BudgetMax:   150,
		Currency:    "eur",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func mustOffer(t *testing.T, c *Coordinator, requestID, provider string, price int64) workflow.Offer {
	t.Helper()
	offer, err := c.SubmitOffer(context.Background(), SubmitOfferParams{
		RequestID:  requestID,
		ProviderID: provider,
		Price:      price,
	})
	if err != nil {
		t.Fatalf("submit offer for %s: %v", provider, err)
	}
	return offer
}

func TestAccept_ScenarioCheapestWins(t *testing.T) {
	s := store.NewMemory()
	c, w := newCoordinator(s)
	ctx := context.Background()

	r1 := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, r1.ID, "provider-a", 100)
	b := mustOffer(t, c, r1.ID, "provider-b", 120)

	eng, err := c.Accept(ctx, r1.ID, a.ID, "requester-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if eng.Amount != 100 || eng.OfferID != a.ID || eng.ProviderID != "provider-a" || eng.RequestID != r1.ID {
		t.Fatalf("unexpected engagement: %+v", eng)
	}

	got, _ := s.GetRequest(ctx, r1.ID)
	if got.Status != workflow.RequestAccepted {
		t.Fatalf("expected request accepted, got %s", got.Status)
	}
	if got.AcceptedOfferID == nil || *got.AcceptedOfferID != a.ID {
		t.Fatalf("expected acceptedOfferId %s, got %v", a.ID, got.AcceptedOfferID)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(fixedNow) {
		t.Fatalf("expected closedAt stamped, got %v", got.ClosedAt)
	}
	if got.Version != 4 {
		t.Fatalf("expected version 4 after two offers and accept, got %d", got.Version)
	}

	offerA, _ := s.GetOffer(ctx, a.ID)
	offerB, _ := s.GetOffer(ctx, b.ID)
	if offerA.Status != workflow.OfferAccepted || offerB.Status != workflow.OfferRejected {
		t.Fatalf("expected A accepted and B rejected, got %s/%s", offerA.Status, offerB.Status)
	}
	if offerB.RespondedAt == nil || !offerB.RespondedAt.Equal(fixedNow) {
		t.Fatalf("expected respondedAt on rejected sibling, got %v", offerB.RespondedAt)
	}

	stored, err := s.GetEngagementByRequest(ctx, r1.ID)
	if err != nil || stored.ID != eng.ID {
		t.Fatalf("expected persisted engagement %s, got %+v (%v)", eng.ID, stored, err)
	}

	events, _ := s.PendingEvents(ctx, 0)
	byType := map[workflow.EventType][]string{}
	for _, ev := range events {
		byType[ev.Type] = append(byType[ev.Type], ev.RecipientID)
	}
	if len(byType[workflow.EventOfferAccepted]) != 1 || byType[workflow.EventOfferAccepted][0] != "provider-a" {
		t.Fatalf("expected acceptance event for provider-a, got %v", byType)
	}
	if len(byType[workflow.EventOfferRejected]) != 1 || byType[workflow.EventOfferRejected][0] != "provider-b" {
		t.Fatalf("expected rejection event for provider-b, got %v", byType)
	}
	if len(byType[workflow.EventEngagementCreated]) != 1 || byType[workflow.EventEngagementCreated][0] != "requester-1" {
		t.Fatalf("expected engagement event for requester, got %v", byType)
	}
	if w.calls.Load() != 3 {
		t.Fatalf("expected relay woken after each commit, got %d", w.calls.Load())
	}
}

func TestCancel_ScenarioThenSubmitFails(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	r2 := mustRequest(t, c, "requester-1")
	if err := c.Cancel(ctx, CancelParams{RequestID: r2.ID, ActorID: "requester-1", Reason: "load rebooked"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got, _ := s.GetRequest(ctx, r2.ID)
	if got.Status != workflow.RequestCancelled || got.CancelReason == nil || *got.CancelReason != "load rebooked" {
		t.Fatalf("expected cancelled with reason, got %+v", got)
	}

	_, err := c.SubmitOffer(ctx, SubmitOfferParams{RequestID: r2.ID, ProviderID: "provider-a", Price: 90})
	if !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSubmitOffer_DuplicateProviderRejected(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	mustOffer(t, c, req.ID, "provider-a", 100)

	_, err := c.SubmitOffer(ctx, SubmitOfferParams{RequestID: req.ID, ProviderID: "provider-a", Price: 95})
	if !errors.Is(err, workflow.ErrDuplicateOffer) {
		t.Fatalf("expected ErrDuplicateOffer, got %v", err)
	}
	got, _ := s.GetRequest(ctx, req.ID)
	if got.OfferCount != 1 {
		t.Fatalf("expected offer count 1, got %d", got.OfferCount)
	}
}

func TestSubmitOffer_FirstOfferStartsNegotiation(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	if req.Status != workflow.RequestOpen || req.Currency != "EUR" {
		t.Fatalf("expected open EUR request, got %s %s", req.Status, req.Currency)
	}
	offer := mustOffer(t, c, req.ID, "provider-a", 100)
	if offer.Currency != "EUR" || offer.Status != workflow.OfferPending {
		t.Fatalf("expected pending EUR offer, got %+v", offer)
	}
	got, _ := s.GetRequest(ctx, req.ID)
	if got.Status != workflow.RequestNegotiating || got.OfferCount != 1 || got.Version != 2 {
		t.Fatalf("expected negotiating v2 with 1 offer, got %s v%d count %d", got.Status, got.Version, got.OfferCount)
	}
}

func TestSubmitOffer_Validation(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()
	req := mustRequest(t, c, "requester-1")

	cases := []struct {
		name   string
		params SubmitOfferParams
		want   error
	}{
		{"zero price", SubmitOfferParams{RequestID: req.ID, ProviderID: "p", Price: 0}, workflow.ErrValidation},
		{"missing provider", SubmitOfferParams{RequestID: req.ID, Price: 10}, workflow.ErrValidation},
		{"bad terms", SubmitOfferParams{RequestID: req.ID, ProviderID: "p", Price: 10, Terms: []byte(`{`)}, workflow.ErrValidation},
		{"currency mismatch", SubmitOfferParams{RequestID: req.ID, ProviderID: "p", Price: 10, Currency: "USD"}, workflow.ErrValidation},
		{"unknown request", SubmitOfferParams{RequestID: "nope", ProviderID: "p", Price: 10}, workflow.ErrNotFound},
		{"own request", SubmitOfferParams{RequestID: req.ID, ProviderID: "requester-1", Price: 10}, workflow.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.SubmitOffer(ctx, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	got, _ := s.GetRequest(ctx, req.ID)
	if got.Version != 1 {
		t.Fatalf("expected failed submissions to leave version 1, got %d", got.Version)
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	c, _ := newCoordinator(store.NewMemory())
	ctx := context.Background()

	bad := []CreateRequestParams{
		{Kind: workflow.KindTender},
		{RequesterID: "r", Kind: "limo_ride"},
		{RequesterID: "r", Kind: workflow.KindTender, BudgetMin: 10, BudgetMax: 5},
		{RequesterID: "r", Kind: workflow.KindTender, Criteria: []byte(`nope`)},
		{RequesterID: "r", Kind: workflow.KindTender, Currency: "EURO"},
	}
	for i, p := range bad {
		if _, err := c.CreateRequest(ctx, p); !errors.Is(err, workflow.ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestAccept_RejectsInvalidCalls(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	other := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)
	foreign := mustOffer(t, c, other.ID, "provider-z", 90)

	if _, err := c.Accept(ctx, req.ID, a.ID, "provider-a"); !errors.Is(err, workflow.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-requester, got %v", err)
	}
	if _, err := c.Accept(ctx, req.ID, foreign.ID, "requester-1"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for offer on another request, got %v", err)
	}
	if _, err := c.Accept(ctx, "missing", a.ID, "requester-1"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown request, got %v", err)
	}

	if _, err := c.WithdrawOffer(ctx, a.ID, "provider-a"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := c.Accept(ctx, req.ID, a.ID, "requester-1"); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for withdrawn offer, got %v", err)
	}

	got, _ := s.GetRequest(ctx, req.ID)
	if got.Status != workflow.RequestNegotiating {
		t.Fatalf("expected request still negotiating, got %s", got.Status)
	}
}

func TestAccept_LeavesWithdrawnSiblingsAlone(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)
	b := mustOffer(t, c, req.ID, "provider-b", 110)
	d := mustOffer(t, c, req.ID, "provider-d", 130)
	if _, err := c.WithdrawOffer(ctx, b.ID, "provider-b"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if _, err := c.Accept(ctx, req.ID, a.ID, "requester-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	ob, _ := s.GetOffer(ctx, b.ID)
	od, _ := s.GetOffer(ctx, d.ID)
	if ob.Status != workflow.OfferWithdrawn {
		t.Fatalf("expected withdrawn sibling to stay withdrawn, got %s", ob.Status)
	}
	if od.Status != workflow.OfferRejected {
		t.Fatalf("expected pending sibling rejected, got %s", od.Status)
	}
}

func TestCancel_AfterAcceptIsInvalidState(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)
	if _, err := c.Accept(ctx, req.ID, a.ID, "requester-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	before, _ := s.GetRequest(ctx, req.ID)
	pendingBefore, _ := s.PendingEvents(ctx, 0)

	err := c.Cancel(ctx, CancelParams{RequestID: req.ID, ActorID: "requester-1"})
	if !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	after, _ := s.GetRequest(ctx, req.ID)
	if after.Status != workflow.RequestAccepted || after.Version != before.Version {
		t.Fatalf("expected state unchanged, got %s v%d", after.Status, after.Version)
	}
	if oa, _ := s.GetOffer(ctx, a.ID); oa.Status != workflow.OfferAccepted {
		t.Fatalf("expected offer still accepted, got %s", oa.Status)
	}
	if pendingAfter, _ := s.PendingEvents(ctx, 0); len(pendingAfter) != len(pendingBefore) {
		t.Fatalf("expected no new events, got %d -> %d", len(pendingBefore), len(pendingAfter))
	}

	// a second accept on the closed request fails the same way
	if _, err := c.Accept(ctx, req.ID, a.ID, "requester-1"); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancel_WithdrawsPendingOffers(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)
	b := mustOffer(t, c, req.ID, "provider-b", 120)

	if err := c.Cancel(ctx, CancelParams{RequestID: req.ID, ActorID: "provider-a"}); !errors.Is(err, workflow.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := c.Cancel(ctx, CancelParams{RequestID: req.ID, ActorID: "requester-1"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for _, id := range []string{a.ID, b.ID} {
		o, _ := s.GetOffer(ctx, id)
		if o.Status != workflow.OfferWithdrawn {
			t.Fatalf("expected %s withdrawn, got %s", id, o.Status)
		}
	}
	if _, err := s.GetEngagementByRequest(ctx, req.ID); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected no engagement after cancel, got %v", err)
	}
	events, _ := s.PendingEvents(ctx, 0)
	var cancelled int
	for _, ev := range events {
		if ev.Type == workflow.EventRequestCancelled {
			cancelled++
		}
	}
	if cancelled != 2 {
		t.Fatalf("expected a cancellation event per affected provider, got %d", cancelled)
	}
}

func TestEditOffer(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)

	edited, err := c.EditOffer(ctx, EditOfferParams{OfferID: a.ID, ProviderID: "provider-a", Price: 90, Terms: []byte(`{"eta_hours":6}`)})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if edited.Price != 90 || string(edited.Terms) != `{"eta_hours":6}` {
		t.Fatalf("unexpected edit result: %+v", edited)
	}
	got, _ := s.GetRequest(ctx, req.ID)
	if got.Version != 3 {
		t.Fatalf("expected edit to bump version to 3, got %d", got.Version)
	}

	if _, err := c.EditOffer(ctx, EditOfferParams{OfferID: a.ID, ProviderID: "provider-x", Price: 80}); !errors.Is(err, workflow.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := c.Accept(ctx, req.ID, a.ID, "requester-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := c.EditOffer(ctx, EditOfferParams{OfferID: a.ID, ProviderID: "provider-a", Price: 80}); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after accept, got %v", err)
	}
	if _, err := c.WithdrawOffer(ctx, a.ID, "provider-a"); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for withdraw after accept, got %v", err)
	}
}

func TestWithdrawOffer_AllowsResubmission(t *testing.T) {
	s := store.NewMemory()
	c, _ := newCoordinator(s)
	ctx := context.Background()

	req := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)
	if _, err := c.WithdrawOffer(ctx, a.ID, "provider-a"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	again := mustOffer(t, c, req.ID, "provider-a", 95)

	offers, _ := c.ListOffers(ctx, req.ID)
	if len(offers) != 2 || offers[1].ID != again.ID {
		t.Fatalf("expected both offers listed, got %+v", offers)
	}
	got, _ := s.GetRequest(ctx, req.ID)
	if got.OfferCount != 2 {
		t.Fatalf("expected counter to count every valid submission, got %d", got.OfferCount)
	}
}

// gatedStore holds every caller of ListOffersForRequest until all expected
// callers have loaded, so concurrent operations read the same version.
type gatedStore struct {
	store.Store
	arrive sync.WaitGroup
}

func newGatedStore(inner store.Store, callers int) *gatedStore {
	g := &gatedStore{Store: inner}
	g.arrive.Add(callers)
	return g
}

func (g *gatedStore) ListOffersForRequest(ctx context.Context, requestID string) ([]workflow.Offer, error) {
	offers, err := g.Store.ListOffersForRequest(ctx, requestID)
	g.arrive.Done()
	g.arrive.Wait()
	return offers, err
}

func TestAccept_ConcurrentFirstCommitterWins(t *testing.T) {
	mem := store.NewMemory()
	setup, _ := newCoordinator(mem)
	req := mustRequest(t, setup, "requester-1")
	a := mustOffer(t, setup, req.ID, "provider-a", 100)
	b := mustOffer(t, setup, req.ID, "provider-b", 120)

	gated := newGatedStore(mem, 2)
	c := NewCoordinator(gated).WithClock(func() time.Time { return fixedNow })

	type result struct {
		eng workflow.Engagement
		err error
	}
	results := make(chan result, 2)
	for _, offerID := range []string{a.ID, b.ID} {
		go func(id string) {
			eng, err := c.Accept(context.Background(), req.ID, id, "requester-1")
			results <- result{eng, err}
		}(offerID)
	}

	var wins, conflicts int
	var winner string
	for i := 0; i < 2; i++ {
		r := <-results
		switch {
		case r.err == nil:
			wins++
			winner = r.eng.OfferID
		case errors.Is(r.err, workflow.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", wins, conflicts)
	}

	eng, err := mem.GetEngagementByRequest(context.Background(), req.ID)
	if err != nil || eng.OfferID != winner {
		t.Fatalf("expected single engagement for %s, got %+v (%v)", winner, eng, err)
	}
	offers, _ := mem.ListOffersForRequest(context.Background(), req.ID)
	var accepted int
	for _, o := range offers {
		if o.Status == workflow.OfferAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted offer, got %d", accepted)
	}

	// the loser re-reads and finds the request closed
	loser := a.ID
	if winner == a.ID {
		loser = b.ID
	}
	if _, err := setup.Accept(context.Background(), req.ID, loser, "requester-1"); !errors.Is(err, workflow.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on re-read, got %v", err)
	}
}

func TestAccept_RacesCancel(t *testing.T) {
	mem := store.NewMemory()
	setup, _ := newCoordinator(mem)
	req := mustRequest(t, setup, "requester-1")
	a := mustOffer(t, setup, req.ID, "provider-a", 100)

	gated := newGatedStore(mem, 2)
	c := NewCoordinator(gated).WithClock(func() time.Time { return fixedNow })

	errs := make(chan error, 2)
	go func() {
		_, err := c.Accept(context.Background(), req.ID, a.ID, "requester-1")
		errs <- err
	}()
	go func() {
		errs <- c.Cancel(context.Background(), CancelParams{RequestID: req.ID, ActorID: "requester-1"})
	}()

	var ok, conflict int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, workflow.ErrConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", ok, conflict)
	}

	got, _ := mem.GetRequest(context.Background(), req.ID)
	_, engErr := mem.GetEngagementByRequest(context.Background(), req.ID)
	switch got.Status {
	case workflow.RequestAccepted:
		if engErr != nil {
			t.Fatalf("expected engagement for accepted request, got %v", engErr)
		}
	case workflow.RequestCancelled:
		if !errors.Is(engErr, workflow.ErrNotFound) {
			t.Fatalf("expected no engagement for cancelled request, got %v", engErr)
		}
	default:
		t.Fatalf("expected terminal request, got %s", got.Status)
	}
}

func TestAccept_ManyConcurrentCallersOneWinner(t *testing.T) {
	mem := store.NewMemory()
	setup, _ := newCoordinator(mem)
	req := mustRequest(t, setup, "requester-1")

	var offers []workflow.Offer
	for i := 0; i < 16; i++ {
		offers = append(offers, mustOffer(t, setup, req.ID, fmt.Sprintf("provider-%02d", i), int64(100+i)))
	}

	c := NewCoordinator(mem)
	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, o := range offers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.Accept(context.Background(), req.ID, id, "requester-1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, workflow.ErrConflict), errors.Is(err, workflow.ErrInvalidState):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(o.ID)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful accept, got %d", wins.Load())
	}
	final, _ := mem.ListOffersForRequest(context.Background(), req.ID)
	var accepted, rejected int
	for _, o := range final {
		switch o.Status {
		case workflow.OfferAccepted:
			accepted++
		case workflow.OfferRejected:
			rejected++
		}
	}
	if accepted != 1 || rejected != len(offers)-1 {
		t.Fatalf("expected 1 accepted and %d rejected, got %d/%d", len(offers)-1, accepted, rejected)
	}
}

// conflictStore reports a stale version on every write and counts attempts.
type conflictStore struct {
	store.Store
	updates atomic.Int32
}

func (c *conflictStore) UpdateRequestWithVersionCheck(ctx context.Context, u store.Update) (workflow.Request, error) {
	c.updates.Add(1)
	return workflow.Request{}, workflow.ErrConflict
}

func TestAccept_ConflictIsNotRetried(t *testing.T) {
	mem := store.NewMemory()
	setup, _ := newCoordinator(mem)
	req := mustRequest(t, setup, "requester-1")
	a := mustOffer(t, setup, req.ID, "provider-a", 100)

	cs := &conflictStore{Store: mem}
	w := &fakeWaker{}
	c := NewCoordinator(cs).WithWaker(w)

	_, err := c.Accept(context.Background(), req.ID, a.ID, "requester-1")
	if !errors.Is(err, workflow.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if cs.updates.Load() != 1 {
		t.Fatalf("expected a single commit attempt, got %d", cs.updates.Load())
	}
	if w.calls.Load() != 0 {
		t.Fatalf("expected no relay wake on failed commit")
	}
}
