package workflow

import (
	"encoding/json"
	"time"
)

// Kind tags which marketplace a request belongs to. The engine treats every
// kind the same; only the criteria payload differs.
type Kind string

const (
	KindTender          Kind = "tender"
	KindRentalNeed      Kind = "rental_need"
	KindTrackingInstall Kind = "tracking_install"
	KindFreightHaul     Kind = "freight_haul"
	KindServiceCallout  Kind = "service_callout"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTender, KindRentalNeed, KindTrackingInstall, KindFreightHaul, KindServiceCallout:
		return true
	default:
		return false
	}
}

type RequestStatus string

const (
	RequestOpen        RequestStatus = "open"
	RequestNegotiating RequestStatus = "negotiating"
	RequestAccepted    RequestStatus = "accepted"
	RequestCancelled   RequestStatus = "cancelled"
)

// Live reports whether offers may still be submitted, edited or accepted.
func (s RequestStatus) Live() bool {
	return s == RequestOpen || s == RequestNegotiating
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// Request is a posted need awaiting competing offers.
type Request struct {
	ID              string
	TenantID        string
	RequesterID     string
	Kind            Kind
	Title           string
	Criteria        json.RawMessage
	BudgetMin       int64
	BudgetMax       int64
	Currency        string
	Status          RequestStatus
	OfferCount      int
	AcceptedOfferID *string
	CancelReason    *string
	Version         int64
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

// Offer is a provider's competing response to a Request.
type Offer struct {
	ID          string
	RequestID   string
	ProviderID  string
	Price       int64
	Currency    string
	Terms       json.RawMessage
	Status      OfferStatus
	SubmittedAt time.Time
	UpdatedAt   time.Time
	RespondedAt *time.Time
}

// Engagement is the immutable record created once an offer is accepted.
type Engagement struct {
	ID          string
	RequestID   string
	OfferID     string
	RequesterID string
	ProviderID  string
	Amount      int64
	Currency    string
	CreatedAt   time.Time
}

// Clone returns a copy that shares no mutable state with r.
func (r Request) Clone() Request {
	out := r
	out.Criteria = cloneRaw(r.Criteria)
	if r.AcceptedOfferID != nil {
		v := *r.AcceptedOfferID
		out.AcceptedOfferID = &v
	}
	if r.CancelReason != nil {
		v := *r.CancelReason
		out.CancelReason = &v
	}
	if r.ClosedAt != nil {
		v := *r.ClosedAt
		out.ClosedAt = &v
	}
	return out
}

func (o Offer) Clone() Offer {
	out := o
	out.Terms = cloneRaw(o.Terms)
	if o.RespondedAt != nil {
		v := *o.RespondedAt
		out.RespondedAt = &v
	}
	return out
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
