package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition_RequestTable(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestOpen, RequestNegotiating, true},
		{RequestOpen, RequestAccepted, true},
		{RequestOpen, RequestCancelled, true},
		{RequestNegotiating, RequestAccepted, true},
		{RequestNegotiating, RequestCancelled, true},
		{RequestNegotiating, RequestOpen, false},
		{RequestAccepted, RequestCancelled, false},
		{RequestAccepted, RequestNegotiating, false},
		{RequestCancelled, RequestOpen, false},
		{RequestCancelled, RequestAccepted, false},
		{RequestOpen, RequestOpen, false},
	}
	for _, tc := range cases {
		if got := CanTransition(EntityRequest, string(tc.from), string(tc.to)); got != tc.want {
			t.Errorf("request %s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestCanTransition_OfferTable(t *testing.T) {
	for _, to := range []OfferStatus{OfferAccepted, OfferRejected, OfferWithdrawn} {
		if !CanTransition(EntityOffer, string(OfferPending), string(to)) {
			t.Errorf("expected pending -> %s to be allowed", to)
		}
	}
	for _, from := range []OfferStatus{OfferAccepted, OfferRejected, OfferWithdrawn} {
		for _, to := range []OfferStatus{OfferPending, OfferAccepted, OfferRejected, OfferWithdrawn} {
			if CanTransition(EntityOffer, string(from), string(to)) {
				t.Errorf("expected terminal %s -> %s to be refused", from, to)
			}
		}
	}
	if CanTransition(EntityKind("booking"), "pending", "accepted") {
		t.Errorf("expected unknown entity kind to be refused")
	}
}

func TestTransitionRequest_StampsClosedAt(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Request{ID: "r1", Status: RequestNegotiating}

	next, err := TransitionRequest(r, RequestAccepted, at)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if next.Status != RequestAccepted {
		t.Fatalf("expected accepted, got %s", next.Status)
	}
	if next.ClosedAt == nil || !next.ClosedAt.Equal(at) {
		t.Fatalf("expected closedAt %v, got %v", at, next.ClosedAt)
	}
	if r.Status != RequestNegotiating || r.ClosedAt != nil {
		t.Fatalf("expected input request untouched, got %+v", r)
	}

	moved, err := TransitionRequest(Request{Status: RequestOpen}, RequestNegotiating, at)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if moved.ClosedAt != nil {
		t.Fatalf("expected negotiating to leave closedAt nil")
	}
}

func TestTransitionRequest_TerminalFails(t *testing.T) {
	_, err := TransitionRequest(Request{Status: RequestCancelled}, RequestAccepted, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != "cancelled" || te.To != "accepted" {
		t.Fatalf("expected transition error details, got %v", err)
	}
}

func TestTransitionOffer(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	o := Offer{ID: "o1", Status: OfferPending, Terms: []byte(`{"eta":"2h"}`)}

	rejected, err := TransitionOffer(o, OfferRejected, at)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rejected.RespondedAt == nil || !rejected.RespondedAt.Equal(at) {
		t.Fatalf("expected respondedAt set, got %v", rejected.RespondedAt)
	}
	rejected.Terms[0] = 'x'
	if o.Terms[0] != '{' {
		t.Fatalf("expected terms to be copied")
	}

	if _, err := TransitionOffer(rejected, OfferAccepted, at); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestValidationError_Is(t *testing.T) {
	err := Invalid("price", "must be positive")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no ErrNotFound match")
	}
}

func TestKindValid(t *testing.T) {
	if !KindFreightHaul.Valid() {
		t.Errorf("expected freight_haul to be valid")
	}
	if Kind("taxi_ride").Valid() {
		t.Errorf("expected unknown kind to be invalid")
	}
}
