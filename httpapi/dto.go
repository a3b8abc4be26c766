package httpapi

import (
	"encoding/json"
	"time"

	"offerflow/workflow"
)

type createRequestBody struct {
	Kind      workflow.Kind   `json:"kind"`
	Title     string          `json:"title"`
	Criteria  json.RawMessage `json:"criteria"`
	BudgetMin int64           `json:"budget_min"`
	BudgetMax int64           `json:"budget_max"`
	Currency  string          `json:"currency"`
}

type submitOfferBody struct {
	Price    int64           `json:"price"`
	Currency string          `json:"currency"`
	Terms    json.RawMessage `json:"terms"`
}

type editOfferBody struct {
	Price int64           `json:"price"`
	Terms json.RawMessage `json:"terms"`
}

type acceptBody struct {
	OfferID string `json:"offer_id"`
}

type cancelBody struct {
	Reason string `json:"reason"`
}

type requestResponse struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id,omitempty"`
	RequesterID     string          `json:"requester_id"`
	Kind            workflow.Kind   `json:"kind"`
	Title           string          `json:"title"`
	Criteria        json.RawMessage `json:"criteria,omitempty"`
	BudgetMin       int64           `json:"budget_min"`
	BudgetMax       int64           `json:"budget_max"`
	Currency        string          `json:"currency,omitempty"`
	Status          string          `json:"status"`
	OfferCount      int             `json:"offer_count"`
	AcceptedOfferID *string         `json:"accepted_offer_id,omitempty"`
	CancelReason    *string         `json:"cancel_reason,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
}

type offerResponse struct {
	ID          string          `json:"id"`
	RequestID   string          `json:"request_id"`
	ProviderID  string          `json:"provider_id"`
	Price       int64           `json:"price"`
	Currency    string          `json:"currency,omitempty"`
	Terms       json.RawMessage `json:"terms,omitempty"`
	Status      string          `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
}

type engagementResponse struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	OfferID     string    `json:"offer_id"`
	RequesterID string    `json:"requester_id"`
	ProviderID  string    `json:"provider_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRequestResponse(r workflow.Request) requestResponse {
	return requestResponse{
		ID:              r.ID,
		TenantID:        r.TenantID,
		RequesterID:     r.RequesterID,
		Kind:            r.Kind,
		Title:           r.Title,
		Criteria:        r.Criteria,
		BudgetMin:       r.BudgetMin,
		BudgetMax:       r.BudgetMax,
		Currency:        r.Currency,
		Status:          string(r.Status),
		OfferCount:      r.OfferCount,
		AcceptedOfferID: r.AcceptedOfferID,
		CancelReason:    r.CancelReason,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		ClosedAt:        r.ClosedAt,
	}
}

func toRequestList(list []workflow.Request) []requestResponse {
	out := make([]requestResponse, 0, len(list))
	for _, r := range list {
		out = append(out, toRequestResponse(r))
	}
	return out
}

func toOfferResponse(o workflow.Offer) offerResponse {
	return offerResponse{
		ID:          o.ID,
		RequestID:   o.RequestID,
		ProviderID:  o.ProviderID,
		Price:       o.Price,
		Currency:    o.Currency,
		Terms:       o.Terms,
		Status:      string(o.Status),
		SubmittedAt: o.SubmittedAt,
		UpdatedAt:   o.UpdatedAt,
		RespondedAt: o.RespondedAt,
	}
}

func toOfferList(list []workflow.Offer) []offerResponse {
	out := make([]offerResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOfferResponse(o))
	}
	return out
}

func toEngagementResponse(e workflow.Engagement) engagementResponse {
	return engagementResponse{
		ID:          e.ID,
		RequestID:   e.RequestID,
		OfferID:     e.OfferID,
		RequesterID: e.RequesterID,
		ProviderID:  e.ProviderID,
		Amount:      e.Amount,
		Currency:    e.Currency,
		CreatedAt:   e.CreatedAt,
	}
}
