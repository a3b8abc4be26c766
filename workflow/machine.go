package workflow

import "time"

type EntityKind string

const (
	EntityRequest EntityKind = "request"
	EntityOffer   EntityKind = "offer"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestOpen:        {RequestNegotiating, RequestAccepted, RequestCancelled},
	RequestNegotiating: {RequestAccepted, RequestCancelled},
}

var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferPending: {OfferAccepted, OfferRejected, OfferWithdrawn},
}

// CanTransition reports whether the edge from -> to exists for the entity kind.
// Terminal states have no outgoing edges.
func CanTransition(kind EntityKind, from, to string) bool {
	switch kind {
	case EntityRequest:
		for _, next := range requestTransitions[RequestStatus(from)] {
			if string(next) == to {
				return true
			}
		}
	case EntityOffer:
		for _, next := range offerTransitions[OfferStatus(from)] {
			if string(next) == to {
				return true
			}
		}
	}
	return false
}

// IsTerminal reports whether a request status has no outgoing edges.
func (s RequestStatus) IsTerminal() bool {
	return len(requestTransitions[s]) == 0
}

func (s OfferStatus) IsTerminal() bool {
	return len(offerTransitions[s]) == 0
}

// TransitionRequest returns r moved to the target status. Closing states stamp
// ClosedAt with at.
func TransitionRequest(r Request, to RequestStatus, at time.Time) (Request, error) {
	if !CanTransition(EntityRequest, string(r.Status), string(to)) {
		return r, &TransitionError{Entity: EntityRequest, From: string(r.Status), To: string(to)}
	}
	out := r.Clone()
	out.Status = to
	if to == RequestAccepted || to == RequestCancelled {
		closed := at
		out.ClosedAt = &closed
	}
	return out, nil
}

// TransitionOffer returns o moved to the target status with RespondedAt set.
func TransitionOffer(o Offer, to OfferStatus, at time.Time) (Offer, error) {
	if !CanTransition(EntityOffer, string(o.Status), string(to)) {
		return o, &TransitionError{Entity: EntityOffer, From: string(o.Status), To: string(to)}
	}
	out := o.Clone()
	out.Status = to
	responded := at
	out.RespondedAt = &responded
	out.UpdatedAt = at
	return out, nil
}
