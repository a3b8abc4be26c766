package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"offerflow/acceptance"
	"offerflow/identity"
	"offerflow/notify"
	"offerflow/workflow"
)

// Server is the HTTP adapter over the coordinator. It carries no business
// rules; every decision is made by acceptance.Coordinator.
type Server struct {
	coordinator *acceptance.Coordinator
	verifier    *identity.Verifier
	hub         *notify.Hub
	logger      *log.Logger
}

// NewServer wires the adapter. hub may be nil, in which case /ws is not
// mounted.
func NewServer(c *acceptance.Coordinator, v *identity.Verifier, hub *notify.Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{coordinator: c, verifier: v, hub: hub, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonOK(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.hub != nil {
		r.Get("/ws", s.handleSubscribe)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.handleCreateRequest)
			r.Get("/", s.handleListOpen)
			r.Get("/mine", s.handleListMine)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRequest)
				r.Get("/offers", s.handleListOffers)
				r.Post("/offers", s.handleSubmitOffer)
				r.Post("/accept", s.handleAccept)
				r.Post("/cancel", s.handleCancel)
				r.Get("/engagement", s.handleGetEngagement)
			})
		})

		r.Route("/offers", func(r chi.Router) {
			r.Get("/mine", s.handleListMyOffers)
			r.Patch("/{id}", s.handleEditOffer)
			r.Post("/{id}/withdraw", s.handleWithdrawOffer)
		})
	})
	return r
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	p, err := s.verifier.Verify(identity.BearerToken(r))
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	s.hub.Serve(w, r, p.ActorID)
}

func jsonOK(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps the workflow error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, workflow.ErrConflict),
		errors.Is(err, workflow.ErrDuplicateOffer),
		errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Printf("httpapi: %s %s [%s]: %v", r.Method, r.URL.Path, middleware.GetReqID(r.Context()), err)
		jsonError(w, "internal error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

func decode(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return workflow.Invalid("body", err.Error())
	}
	return nil
}
