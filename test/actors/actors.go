package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"offerflow/acceptance"
	"offerflow/workflow"
)

// Listing is a request the actors compete over.
type Listing struct {
	RequestID   string
	RequesterID string
}

// Board is the shared set of requests actors pick from.
type Board struct {
	mu       sync.Mutex
	listings []Listing
}

func (b *Board) Add(l Listing) {
	b.mu.Lock()
	b.listings = append(b.listings, l)
	b.mu.Unlock()
}

func (b *Board) Pick() (Listing, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.listings) == 0 {
		return Listing{}, false
	}
	return b.listings[rand.Intn(len(b.listings))], true
}

// Stats counts outcomes across all actors.
type Stats struct {
	Submitted atomic.Int64
	Accepted  atomic.Int64
	Cancelled atomic.Int64
	Conflicts atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("submitted=%d accepted=%d cancelled=%d conflicts=%d rejected=%d transient=%d",
		s.Submitted.Load(), s.Accepted.Load(), s.Cancelled.Load(), s.Conflicts.Load(), s.Rejected.Load(), s.Transient.Load())
}

// record classifies err. Workflow rejections are expected under contention;
// anything else (killed backends, timeouts) is counted as transient.
func (s *Stats) record(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, workflow.ErrConflict):
		s.Conflicts.Add(1)
	case errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, workflow.ErrDuplicateOffer),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, workflow.ErrForbidden):
		s.Rejected.Add(1)
	case errors.Is(err, workflow.ErrValidation):
		return fmt.Errorf("actor sent invalid input: %w", err)
	default:
		s.Transient.Add(1)
	}
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func jitter(base, spread int) time.Duration {
	return time.Duration(base+rand.Intn(spread)) * time.Millisecond
}

// Creator keeps posting new requests so the board never runs dry.
func Creator(ctx context.Context, c *acceptance.Coordinator, board *Board, requesterID string, stats *Stats, stop <-chan struct{}) error {
	kinds := []workflow.Kind{workflow.KindTender, workflow.KindRentalNeed, workflow.KindTrackingInstall, workflow.KindFreightHaul, workflow.KindServiceCallout}
	for !stopped(ctx, stop) {
		req, err := c.CreateRequest(ctx, acceptance.CreateRequestParams{
			TenantID:    "stress",
			RequesterID: requesterID,
			Kind:        kinds[rand.Intn(len(kinds))],
			Title:       "stress request",
			BudgetMax:   1000,
			Currency:    "EUR",
		})
		if err == nil {
			board.Add(Listing{RequestID: req.ID, RequesterID: requesterID})
		} else if err := stats.record(ctx, err); err != nil {
			return err
		}
		time.Sleep(jitter(150, 150))
	}
	return nil
}

// Submitter offers on random requests, then sometimes edits or withdraws.
func Submitter(ctx context.Context, c *acceptance.Coordinator, board *Board, providerID string, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		l, ok := board.Pick()
		if !ok {
			time.Sleep(jitter(10, 10))
			continue
		}
		offer, err := c.SubmitOffer(ctx, acceptance.SubmitOfferParams{
			RequestID:  l.RequestID,
			ProviderID: providerID,
			Price:      int64(50 + rand.Intn(500)),
		})
		if err != nil {
			if err := stats.record(ctx, err); err != nil {
				return err
			}
			time.Sleep(jitter(5, 15))
			continue
		}
		stats.Submitted.Add(1)

		switch rand.Intn(6) {
		case 0:
			_, err = c.WithdrawOffer(ctx, offer.ID, providerID)
		case 1:
			_, err = c.EditOffer(ctx, acceptance.EditOfferParams{OfferID: offer.ID, ProviderID: providerID, Price: offer.Price - 1 + int64(rand.Intn(3))})
		}
		if err := stats.record(ctx, err); err != nil {
			return err
		}
		time.Sleep(jitter(5, 20))
	}
	return nil
}

// Accepter picks a pending offer on a random request and accepts it, racing
// other accepters on the same request.
func Accepter(ctx context.Context, c *acceptance.Coordinator, board *Board, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		l, ok := board.Pick()
		if !ok {
			time.Sleep(jitter(10, 10))
			continue
		}
		offers, err := c.ListOffers(ctx, l.RequestID)
		if err != nil {
			if err := stats.record(ctx, err); err != nil {
				return err
			}
			continue
		}
		var pending []workflow.Offer
		for _, o := range offers {
			if o.Status == workflow.OfferPending {
				pending = append(pending, o)
			}
		}
		if len(pending) < 2 {
			time.Sleep(jitter(10, 20))
			continue
		}
		target := pending[rand.Intn(len(pending))]
		_, err = c.Accept(ctx, l.RequestID, target.ID, l.RequesterID)
		if err == nil {
			stats.Accepted.Add(1)
		} else if err := stats.record(ctx, err); err != nil {
			return err
		}
		time.Sleep(jitter(20, 40))
	}
	return nil
}

// Canceller occasionally cancels a random request.
func Canceller(ctx context.Context, c *acceptance.Coordinator, board *Board, stats *Stats, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		time.Sleep(jitter(100, 200))
		l, ok := board.Pick()
		if !ok {
			continue
		}
		err := c.Cancel(ctx, acceptance.CancelParams{RequestID: l.RequestID, ActorID: l.RequesterID, Reason: "stress cancel"})
		if err == nil {
			stats.Cancelled.Add(1)
		} else if err := stats.record(ctx, err); err != nil {
			return err
		}
	}
	return nil
}
