package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
	"github.com/clinicdesk/clinicdesk/internal/outbox"
	"github.com/clinicdesk/clinicdesk/libs/db"
)

// AppointmentRepository is the persistence side of the slot ledger and the
// appointment state machine. Every state change is a single conditional
// statement, and its outbox event commits in the same transaction.
type AppointmentRepository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outboxRepo: outboxRepo}
}

const appointmentColumns = `id, doctor_id, patient_id, date, clock_time, start_time, fee, reminder_offset_min, status, paid, cancelled_at, created_at`

// Insert reserves the (doctor, date, time) slot and creates the appointment
// in one conditional insert. The partial unique index on non-cancelled rows
// makes the reserve atomic: of two concurrent inserts for the same slot,
// exactly one commits and the other gets booking.ErrSlotTaken. No
// read-then-write check anywhere.
func (r *AppointmentRepository) Insert(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, date, clock_time, start_time, fee, reminder_offset_min, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'booked')
		RETURNING created_at
	`, appt.ID, appt.DoctorID, appt.PatientID, appt.Date, appt.ClockTime, appt.StartTime, appt.Fee, appt.ReminderOffsetMin).Scan(&appt.CreatedAt)
	if err != nil {
		return classifyInsertError(err)
	}
	appt.Status = model.StatusBooked

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"date":           appt.Date,
		"time":           appt.ClockTime,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"fee":            appt.Fee,
	})
	if err != nil {
		return err
	}
	if err := r.outboxRepo.InsertTx(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       payload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Confirm applies booked|confirmed -> confirmed as one conditional update.
func (r *AppointmentRepository) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed'
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING `+appointmentColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, r.classifyMissedUpdate(ctx, tx, id)
		}
		return model.Appointment{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"confirmed_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outboxRepo.InsertTx(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentConfirmed,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// Cancel applies {booked,confirmed} -> cancelled as one conditional update.
// Losing the update race (row already cancelled) is reported as
// booking.ErrAlreadyCancelled, never silently swallowed.
func (r *AppointmentRepository) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = now()
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING `+appointmentColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, r.classifyMissedUpdate(ctx, tx, id)
		}
		return model.Appointment{}, err
	}

	cancelledAt := ""
	if appt.CancelledAt != nil {
		cancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"date":           appt.Date,
		"time":           appt.ClockTime,
		"cancelled_at":   cancelledAt,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outboxRepo.InsertTx(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, err
}

func (r *AppointmentRepository) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// ListBookedByDoctor returns non-cancelled appointments for one doctor on
// one clinic date, used when computing free slots.
func (r *AppointmentRepository) ListBookedByDoctor(ctx context.Context, doctorID, date string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status <> 'cancelled'
		ORDER BY start_time ASC
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) MarkPaid(ctx context.Context, id string) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET paid = true
		WHERE id = $1 AND NOT paid
		RETURNING `+appointmentColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already paid is a no-op so webhook replays don't re-emit the
			// paid event; a missing row is still not found.
			appt, err = scanAppointment(tx.QueryRow(ctx,
				`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
			if errors.Is(err, pgx.ErrNoRows) {
				return model.Appointment{}, booking.ErrNotFound
			}
			if err != nil {
				return model.Appointment{}, err
			}
			return appt, nil
		}
		return model.Appointment{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"fee":            appt.Fee,
		"paid_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outboxRepo.InsertTx(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentPaid,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// classifyMissedUpdate runs after a conditional update matched no row:
// either the appointment doesn't exist or it is already cancelled.
func (r *AppointmentRepository) classifyMissedUpdate(ctx context.Context, tx pgx.Tx, id string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	if err != nil {
		return err
	}
	return booking.ErrAlreadyCancelled
}

func classifyInsertError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique violation on the active-slot index
		return booking.ErrSlotTaken
	case "23503": // foreign key violation
		field := "doctorId"
		if pgErr.ConstraintName == "appointments_patient_id_fkey" {
			field = "patientId"
		}
		return &booking.ValidationError{Fields: map[string]string{field: "unknown reference"}}
	default:
		return err
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.DoctorID,
		&appt.PatientID,
		&appt.Date,
		&appt.ClockTime,
		&appt.StartTime,
		&appt.Fee,
		&appt.ReminderOffsetMin,
		&appt.Status,
		&appt.Paid,
		&appt.CancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}
