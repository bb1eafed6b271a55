package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type createIntentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	intent, err := h.payments.CreateIntent(r.Context(), req.AppointmentID, idemKey)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"intent_id":     intent.IntentID,
		"client_secret": intent.ClientSecret,
		"amount_cents":  intent.AmountCents,
		"currency":      intent.Currency,
	})
}

// StripeWebhook handles Stripe callbacks. No JWT auth; signature
// verification is the auth.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	tolerance := time.Duration(h.stripeWebhookTolerance) * time.Second
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", string(evt.Type),
	)

	switch evt.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		appointmentID := strings.TrimSpace(pi.Metadata["appointment_id"])
		if appointmentID == "" {
			h.logger.Warn("stripe: missing appointment_id metadata on payment intent", "intent_id", pi.ID)
			break
		}
		if err := h.payments.ApplySucceeded(r.Context(), appointmentID, pi.ID); err != nil {
			h.logger.Error("stripe: failed to settle appointment fee",
				"appointment_id", appointmentID,
				"intent_id", pi.ID,
				"err", err,
			)
			http.Error(w, "failed to apply payment", http.StatusInternalServerError)
			return
		}

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		h.logger.Warn("payment failed",
			"intent_id", pi.ID,
			"appointment_id", pi.Metadata["appointment_id"],
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
