package inapp

import (
	"context"

	"github.com/clinicdesk/clinicdesk/libs/db"
)

type Sender interface {
	Send(ctx context.Context, to string, from string, subject string, body string) error
}

// StoreSender delivers in-app messages by inserting inbox rows; the portal
// frontends read them back out. Delivery is complete once the row commits.
type StoreSender struct {
	pool *db.Pool
}

func NewStoreSender(pool *db.Pool) *StoreSender {
	return &StoreSender{pool: pool}
}

func (s *StoreSender) Send(ctx context.Context, to string, from string, subject string, body string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (recipient_id, sender_id, subject, body)
		VALUES ($1, $2, $3, $4)
	`, to, from, subject, body)
	return err
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, _ string, _ string, _ string, _ string) error {
	return nil
}
