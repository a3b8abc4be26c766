package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"offerflow/workflow"
)

// OutboxSource is the outbox side of the store.
type OutboxSource interface {
	PendingEvents(ctx context.Context, limit int) ([]workflow.Event, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkDead(ctx context.Context, eventID string, reason string) error
}

// Relay moves committed outbox events into the dispatcher. An event stays
// pending in the outbox until the dispatcher settles it, so a crash between
// commit and delivery only delays it.
type Relay struct {
	source     OutboxSource
	dispatcher *Dispatcher
	interval   time.Duration
	batch      int
	logger     *log.Logger
	wake       chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewRelay(source OutboxSource, dispatcher *Dispatcher, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	r := &Relay{
		source:     source,
		dispatcher: dispatcher,
		interval:   interval,
		batch:      batch,
		logger:     log.New(io.Discard, "", 0),
		wake:       make(chan struct{}, 1),
		inflight:   make(map[string]struct{}),
	}
	dispatcher.OnSettled(r.settle)
	return r
}

func (r *Relay) WithLogger(logger *log.Logger) *Relay {
	r.logger = logger
	return r
}

// Wake asks the relay to poll now. It never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.pump(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// pump enqueues up to batch events that are not already in flight. In-flight
// events are still pending in the outbox, so the fetch is widened by their
// count to keep events retrying in backoff from filling the batch.
func (r *Relay) pump(ctx context.Context) {
	events, err := r.source.PendingEvents(ctx, r.batch+r.InFlight())
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Printf("relay: list pending: %v", err)
		}
		return
	}
	for _, ev := range events {
		if !r.claim(ev.ID) {
			continue
		}
		if err := r.dispatcher.Notify(ev); err != nil {
			r.release(ev.ID)
			if errors.Is(err, ErrQueueFull) {
				return
			}
			r.logger.Printf("relay: enqueue %s: %v", ev.ID, err)
		}
	}
}

func (r *Relay) settle(ctx context.Context, ev workflow.Event, err error) {
	defer r.release(ev.ID)

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch {
	case err == nil:
		if markErr := r.source.MarkDelivered(markCtx, ev.ID); markErr != nil {
			r.logger.Printf("relay: mark delivered %s: %v", ev.ID, markErr)
		}
	case errors.Is(err, ErrDeliveryFailure):
		if markErr := r.source.MarkDead(markCtx, ev.ID, err.Error()); markErr != nil {
			r.logger.Printf("relay: mark dead %s: %v", ev.ID, markErr)
		}
	default:
		// interrupted by shutdown; leave pending for the next run
	}
}

func (r *Relay) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Relay) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

// InFlight reports how many events are queued or being delivered.
func (r *Relay) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}
