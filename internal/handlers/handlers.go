// Package handlers is the HTTP edge: request decoding, auth, and the
// mapping from domain errors to status codes. All business rules live in
// the services underneath.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clinicdesk/clinicdesk/internal/availability"
	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/payments"
)

type Handler struct {
	booking      *booking.Service
	availability *availability.Service
	payments     *payments.Service
	logger       *slog.Logger
	jwtSecret    string
	// webhook verification
	stripeWebhookSecret    string
	stripeWebhookTolerance int64
}

type Config struct {
	JWTSecret              string
	StripeWebhookSecret    string
	StripeWebhookTolerance int64
}

func New(bookingSvc *booking.Service, availabilitySvc *availability.Service, paymentsSvc *payments.Service, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{
		booking:                bookingSvc,
		availability:           availabilitySvc,
		payments:               paymentsSvc,
		logger:                 logger,
		jwtSecret:              cfg.JWTSecret,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: cfg.StripeWebhookTolerance,
	}
}

// Routes registers the API surface. Confirm and the appointment list are
// back-office operations; the Stripe webhook authenticates by signature,
// not by token.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/appointments", h.requireAuth(http.HandlerFunc(h.CreateAppointment)))
	mux.Handle("POST /api/v1/appointments/{id}/cancel", h.requireAuth(http.HandlerFunc(h.CancelAppointment)))
	mux.Handle("POST /api/v1/appointments/{id}/confirm", h.requireAuth(h.requireRole(http.HandlerFunc(h.ConfirmAppointment), "admin")))
	mux.Handle("GET /api/v1/appointments", h.requireAuth(h.requireRole(http.HandlerFunc(h.ListAppointments), "admin")))
	mux.Handle("GET /api/v1/appointments/{id}", h.requireAuth(http.HandlerFunc(h.GetAppointment)))
	mux.Handle("GET /api/v1/availability", h.requireAuth(http.HandlerFunc(h.Availability)))
	mux.Handle("POST /api/v1/payments/intent", h.requireAuth(http.HandlerFunc(h.CreatePaymentIntent)))
	mux.HandleFunc("POST /api/v1/payments/webhooks/stripe", h.StripeWebhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeDomainError maps service errors onto the API contract. Anything
// unrecognized is a 500 with a generic body; the detail goes to the log,
// not the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *booking.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: ve.Fields})
	case errors.Is(err, booking.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, errorResponse{Error: booking.ErrSlotTaken.Error()})
	case errors.Is(err, booking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: booking.ErrNotFound.Error()})
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeJSON(w, http.StatusConflict, errorResponse{Error: booking.ErrAlreadyCancelled.Error()})
	case errors.Is(err, payments.ErrAlreadyPaid):
		writeJSON(w, http.StatusConflict, errorResponse{Error: payments.ErrAlreadyPaid.Error()})
	case errors.Is(err, payments.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: payments.ErrNotConfigured.Error()})
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
