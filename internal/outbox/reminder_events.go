package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// ReminderEvents bridges the reminder scheduler to the outbox. Reminder
// firings sit outside any appointment transaction, so the event row is
// written on its own; a failed write costs one analytics event, not the
// reminder itself.
type ReminderEvents struct {
	repo   *Repository
	logger *slog.Logger
}

func NewReminderEvents(repo *Repository, logger *slog.Logger) *ReminderEvents {
	return &ReminderEvents{repo: repo, logger: logger}
}

func (e *ReminderEvents) ReminderSent(ctx context.Context, appointmentID, label string, firedAt time.Time) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appointmentID,
		"label":          label,
		"fired_at":       firedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		e.logger.Error("reminder event payload build failed", "appointment_id", appointmentID, "err", err)
		return
	}
	if err := e.repo.Insert(ctx, Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     EventReminderSent,
		Payload:       payload,
	}); err != nil {
		e.logger.Error("reminder event write failed", "appointment_id", appointmentID, "err", err)
	}
}
