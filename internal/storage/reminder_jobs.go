package storage

import (
	"context"

	"github.com/clinicdesk/clinicdesk/internal/reminder"
	"github.com/clinicdesk/clinicdesk/libs/db"
)

// ReminderJobRepository persists scheduled reminder jobs so a restart can
// re-register future-dated timers. Rows are a recovery aid, not the source
// of truth for firing; the in-memory registry owns the timers.
type ReminderJobRepository struct {
	pool *db.Pool
}

func NewReminderJobRepository(pool *db.Pool) *ReminderJobRepository {
	return &ReminderJobRepository{pool: pool}
}

func (r *ReminderJobRepository) Save(ctx context.Context, job reminder.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reminder_jobs (id, appointment_id, fire_at, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.AppointmentID, job.FireAt, job.Label)
	return err
}

func (r *ReminderJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reminder_jobs WHERE id = $1`, id)
	return err
}

func (r *ReminderJobRepository) DeleteByAppointment(ctx context.Context, appointmentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reminder_jobs WHERE appointment_id = $1`, appointmentID)
	return err
}

func (r *ReminderJobRepository) ListPending(ctx context.Context) ([]reminder.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, fire_at, label
		FROM reminder_jobs
		ORDER BY fire_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []reminder.Job
	for rows.Next() {
		var j reminder.Job
		if err := rows.Scan(&j.ID, &j.AppointmentID, &j.FireAt, &j.Label); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}
