// Package payments collects appointment fees through Stripe
// PaymentIntents. The webhook is the source of truth for payment state;
// intent creation only hands the client a secret to complete the charge.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"

	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
)

var (
	ErrAlreadyPaid   = errors.New("appointment fee already paid")
	ErrNotConfigured = errors.New("stripe is not configured")
)

// Appointments is the slice of the appointment store payments needs.
type Appointments interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	MarkPaid(ctx context.Context, id string) (model.Appointment, error)
}

type Config struct {
	SecretKey string
	// Currency is the ISO code fees are charged in.
	Currency string
}

type Service struct {
	appts  Appointments
	cfg    Config
	logger *slog.Logger
}

func NewService(appts Appointments, cfg Config, logger *slog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &Service{appts: appts, cfg: cfg, logger: logger}
}

type Intent struct {
	IntentID     string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// CreateIntent opens a PaymentIntent for the appointment fee. The
// appointment id rides in the intent metadata so the webhook can map the
// charge back. idemKey, when set, is forwarded to Stripe so client
// retries do not double-charge.
func (s *Service) CreateIntent(ctx context.Context, appointmentID, idemKey string) (Intent, error) {
	if strings.TrimSpace(s.cfg.SecretKey) == "" {
		return Intent{}, ErrNotConfigured
	}

	appt, err := s.appts.Get(ctx, appointmentID)
	if err != nil {
		return Intent{}, err
	}
	if appt.Status == model.StatusCancelled {
		return Intent{}, booking.ErrAlreadyCancelled
	}
	if appt.Paid {
		return Intent{}, ErrAlreadyPaid
	}

	// Stripe uses a global API key. Keep usage limited to this call.
	stripe.Key = s.cfg.SecretKey

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(feeCents(appt.Fee)),
		Currency: stripe.String(s.cfg.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"appointment_id": appt.ID,
		},
		Description: stripe.String(fmt.Sprintf("Appointment fee %s %s", appt.Date, appt.ClockTime)),
	}
	if idemKey = strings.TrimSpace(idemKey); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		s.logger.Error("stripe payment intent create failed", "appointment_id", appt.ID, "err", err)
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}

	s.logger.Info("payment intent created",
		"appointment_id", appt.ID,
		"intent_id", pi.ID,
		"amount_cents", pi.Amount,
	)
	return Intent{
		IntentID:     pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// ApplySucceeded marks the appointment paid after Stripe reports the
// intent succeeded. Replays are harmless: MarkPaid is an idempotent flag
// flip.
func (s *Service) ApplySucceeded(ctx context.Context, appointmentID, intentID string) error {
	appt, err := s.appts.MarkPaid(ctx, appointmentID)
	if err != nil {
		return err
	}
	s.logger.Info("appointment fee settled",
		"appointment_id", appt.ID,
		"intent_id", intentID,
	)
	return nil
}

func feeCents(fee float64) int64 {
	return int64(math.Round(fee * 100))
}
