package acceptance

import (
	"context"
	"errors"
	"testing"
	"time"

	"offerflow/notify"
	"offerflow/store"
	"offerflow/workflow"
)

func TestAccept_CommitsWhenNotificationsFail(t *testing.T) {
	mem := store.NewMemory()
	dead := notify.NewMemoryDeadLetters()
	broken := notify.NotifierFunc(func(ctx context.Context, ev workflow.Event) error {
		return errors.New("push gateway down")
	})
	d := notify.NewDispatcher(broken, notify.Options{
		Workers:         2,
		QueueSize:       16,
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		DeadLetters:     dead,
	})
	relay := notify.NewRelay(mem, d, 10*time.Millisecond, 32)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = d.Run(ctx); done <- struct{}{} }()
	go func() { _ = relay.Run(ctx); done <- struct{}{} }()
	defer func() {
		cancel()
		<-done
		<-done
	}()

	c := NewCoordinator(mem).WithWaker(relay)
	req := mustRequest(t, c, "requester-1")
	a := mustOffer(t, c, req.ID, "provider-a", 100)
	mustOffer(t, c, req.ID, "provider-b", 120)

	eng, err := c.Accept(context.Background(), req.ID, a.ID, "requester-1")
	if err != nil {
		t.Fatalf("expected accept to succeed despite failing sink, got %v", err)
	}

	got, _ := mem.GetRequest(context.Background(), req.ID)
	if got.Status != workflow.RequestAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
	if stored, err := mem.GetEngagementByRequest(context.Background(), req.ID); err != nil || stored.ID != eng.ID {
		t.Fatalf("expected engagement to stay committed, got %+v (%v)", stored, err)
	}

	// two submissions, one acceptance, one rejection and the engagement notice
	deadline := time.Now().Add(5 * time.Second)
	for len(dead.List()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("expected all events dead-lettered, got %d", len(dead.List()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, letter := range dead.List() {
		status, ok := mem.OutboxStatus(letter.Event.ID)
		for ok && status == store.OutboxPending && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
			status, ok = mem.OutboxStatus(letter.Event.ID)
		}
		if status != store.OutboxDead {
			t.Fatalf("expected outbox entry %s dead, got %q", letter.Event.ID, status)
		}
	}
}
