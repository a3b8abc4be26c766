package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"offerflow/acceptance"
	"offerflow/identity"
	"offerflow/workflow"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	p, _ := identity.PrincipalFrom(r.Context())
	req, err := s.coordinator.CreateRequest(r.Context(), acceptance.CreateRequestParams{
		TenantID:    p.TenantID,
		RequesterID: p.ActorID,
		Kind:        body.Kind,
		Title:       body.Title,
		Criteria:    body.Criteria,
		BudgetMin:   body.BudgetMin,
		BudgetMax:   body.BudgetMax,
		Currency:    body.Currency,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusCreated, toRequestResponse(req))
}

// handleListOpen lists live requests of one kind within the caller's tenant.
func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	list, err := s.coordinator.ListOpenByKind(r.Context(), workflow.Kind(r.URL.Query().Get("kind")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tenant := identity.CurrentTenantID(r.Context())
	if tenant != "" {
		filtered := list[:0]
		for _, req := range list {
			if req.TenantID == tenant {
				filtered = append(filtered, req)
			}
		}
		list = filtered
	}
	jsonOK(w, http.StatusOK, toRequestList(list))
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	list, err := s.coordinator.ListByRequester(r.Context(), identity.CurrentActorID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toRequestList(list))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.coordinator.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.coordinator.ListOffers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toOfferList(offers))
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var body submitOfferBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	offer, err := s.coordinator.SubmitOffer(r.Context(), acceptance.SubmitOfferParams{
		RequestID:  chi.URLParam(r, "id"),
		ProviderID: identity.CurrentActorID(r.Context()),
		Price:      body.Price,
		Currency:   body.Currency,
		Terms:      body.Terms,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusCreated, toOfferResponse(offer))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.OfferID == "" {
		s.fail(w, r, workflow.Invalid("offer_id", "required"))
		return
	}
	eng, err := s.coordinator.Accept(r.Context(), chi.URLParam(r, "id"), body.OfferID, identity.CurrentActorID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toEngagementResponse(eng))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	err := s.coordinator.Cancel(r.Context(), acceptance.CancelParams{
		RequestID: id,
		ActorID:   identity.CurrentActorID(r.Context()),
		Reason:    body.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.coordinator.GetRequest(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleGetEngagement(w http.ResponseWriter, r *http.Request) {
	eng, err := s.coordinator.GetEngagement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toEngagementResponse(eng))
}

func (s *Server) handleListMyOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.coordinator.ListOffersByProvider(r.Context(), identity.CurrentActorID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toOfferList(offers))
}

func (s *Server) handleEditOffer(w http.ResponseWriter, r *http.Request) {
	var body editOfferBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	offer, err := s.coordinator.EditOffer(r.Context(), acceptance.EditOfferParams{
		OfferID:    chi.URLParam(r, "id"),
		ProviderID: identity.CurrentActorID(r.Context()),
		Price:      body.Price,
		Terms:      body.Terms,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toOfferResponse(offer))
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.coordinator.WithdrawOffer(r.Context(), chi.URLParam(r, "id"), identity.CurrentActorID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	jsonOK(w, http.StatusOK, toOfferResponse(offer))
}
