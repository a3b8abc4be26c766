package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"offerflow/workflow"
)

var (
	ErrQueueFull       = errors.New("notify: dispatch queue full")
	ErrDeliveryFailure = errors.New("notify: delivery failed")
)

// DeliveryError is reported once an event exhausted its attempts.
type DeliveryError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: event %s undeliverable after %d attempts: %v", e.EventID, e.Attempts, e.Err)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailure
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type Options struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	DeadLetters     DeadLetterSink
	Deduper         Deduper
	Logger          *log.Logger
}

// SettleFunc observes the final outcome of an event: nil on delivery (or a
// dedupe hit), a *DeliveryError once dead-lettered, or the context error
// when shutdown interrupted it.
type SettleFunc func(ctx context.Context, ev workflow.Event, err error)

// Dispatcher runs a bounded queue drained by a worker pool. Notify never
// blocks; delivery failures never leave the dispatcher.
type Dispatcher struct {
	notifier    Notifier
	queue       chan workflow.Event
	workers     int
	maxAttempts int
	initial     time.Duration
	maxInterval time.Duration
	dead        DeadLetterSink
	dedupe      Deduper
	logger      *log.Logger
	settle      SettleFunc
}

func NewDispatcher(n Notifier, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.DeadLetters == nil {
		opts.DeadLetters = NewMemoryDeadLetters()
	}
	if opts.Deduper == nil {
		opts.Deduper = NewMemoryDeduper(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		notifier:    n,
		queue:       make(chan workflow.Event, opts.QueueSize),
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		initial:     opts.InitialInterval,
		maxInterval: opts.MaxInterval,
		dead:        opts.DeadLetters,
		dedupe:      opts.Deduper,
		logger:      opts.Logger,
	}
}

// OnSettled registers the settle hook. Call before Run.
func (d *Dispatcher) OnSettled(fn SettleFunc) {
	d.settle = fn
}

// Notify enqueues ev without blocking.
func (d *Dispatcher) Notify(ev workflow.Event) error {
	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev := <-d.queue:
					d.process(gctx, ev)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) process(ctx context.Context, ev workflow.Event) {
	err := d.deliver(ctx, ev)
	if d.settle != nil {
		d.settle(ctx, ev, err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev workflow.Event) error {
	seen, err := d.dedupe.Seen(ctx, ev.ID)
	if err != nil {
		d.logger.Printf("dispatcher: dedupe lookup %s: %v", ev.ID, err)
	}
	if seen {
		return nil
	}

	attempts := 0
	op := func() error {
		attempts++
		return d.notifier.Deliver(ctx, ev)
	}
	onRetry := func(err error, wait time.Duration) {
		d.logger.Printf("dispatcher: %s to %s attempt %d failed: %v (retry in %s)", ev.Type, ev.RecipientID, attempts, err, wait)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.maxAttempts-1)), ctx), onRetry)
	if err == nil {
		if markErr := d.dedupe.Mark(ctx, ev.ID); markErr != nil {
			d.logger.Printf("dispatcher: dedupe mark %s: %v", ev.ID, markErr)
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	derr := &DeliveryError{EventID: ev.ID, Attempts: attempts, Err: err}
	if buryErr := d.dead.Bury(context.WithoutCancel(ctx), ev, derr); buryErr != nil {
		d.logger.Printf("dispatcher: dead-letter %s: %v", ev.ID, buryErr)
	}
	d.logger.Printf("dispatcher: %v", derr)
	return derr
}

func (d *Dispatcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initial
	b.MaxInterval = d.maxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
