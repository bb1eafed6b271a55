// Package reminder schedules future notification firings for booked
// appointments. Timers live in an in-memory registry owned exclusively by
// the Scheduler; persisted job rows exist only so a restart can rebuild
// the registry.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/model"
	"github.com/clinicdesk/clinicdesk/internal/notify"
)

// Offset is one rung of the reminder ladder.
type Offset struct {
	Label string
	Dur   time.Duration
}

// DefaultLadder is used when the booking carries no custom offset.
var DefaultLadder = []Offset{
	{Label: "1 day before", Dur: 24 * time.Hour},
	{Label: "12 hours before", Dur: 12 * time.Hour},
	{Label: "6 hours before", Dur: 6 * time.Hour},
	{Label: "2 hours before", Dur: 2 * time.Hour},
	{Label: "30 minutes before", Dur: 30 * time.Minute},
}

// Job is one pending reminder firing.
type Job struct {
	ID            string
	AppointmentID string
	FireAt        time.Time
	Label         string
}

// Store persists pending jobs for crash recovery.
type Store interface {
	Save(ctx context.Context, job Job) error
	Delete(ctx context.Context, id string) error
	DeleteByAppointment(ctx context.Context, appointmentID string) error
	ListPending(ctx context.Context) ([]Job, error)
}

// Source resolves the appointment and contact records at fire time, never
// at registration time, so a firing always sees current state.
type Source interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	Doctor(ctx context.Context, id string) (model.Doctor, error)
	Patient(ctx context.Context, id string) (model.Patient, error)
}

type Notifier interface {
	SendAll(ctx context.Context, reqs []notify.Request) []notify.Result
}

// Events receives a callback after a reminder fan-out completes; wired to
// the outbox in production, nil-safe otherwise.
type Events interface {
	ReminderSent(ctx context.Context, appointmentID string, label string, firedAt time.Time)
}

type scheduledJob struct {
	job    Job
	timer  *time.Timer
	voided bool
}

// Scheduler maps appointment ids to their pending timers. VoidAll marks
// entries voided under the registry lock before stopping timers, so a
// timer that already fired but has not yet reached its handler body is
// still suppressed.
type Scheduler struct {
	source   Source
	notifier Notifier
	store    Store
	events   Events
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]map[string]*scheduledJob
}

func NewScheduler(source Source, notifier Notifier, store Store, events Events, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		source:   source,
		notifier: notifier,
		store:    store,
		events:   events,
		logger:   logger,
		jobs:     map[string]map[string]*scheduledJob{},
	}
}

// Register computes fire times for the appointment and arms one timer per
// offset still in the future. Past-due offsets are skipped, not fired
// late: booking two hours before the appointment must not trigger a burst
// of stale reminders. Persistence failures are logged and do not block
// timer registration.
func (s *Scheduler) Register(ctx context.Context, appt model.Appointment) {
	now := time.Now()
	for _, off := range offsetsFor(appt) {
		fireAt := appt.StartTime.Add(-off.Dur)
		if !fireAt.After(now) {
			continue
		}
		job := Job{
			ID:            uuid.NewString(),
			AppointmentID: appt.ID,
			FireAt:        fireAt,
			Label:         off.Label,
		}
		if err := s.store.Save(ctx, job); err != nil {
			s.logger.Error("reminder job persist failed", "appointment_id", appt.ID, "err", err)
		}
		s.arm(job)
		s.logger.Info("reminder registered",
			"appointment_id", appt.ID,
			"label", job.Label,
			"fire_at", fireAt.UTC().Format(time.RFC3339),
		)
	}
}

// VoidAll invalidates every pending reminder for the appointment. Safe to
// call when nothing is registered.
func (s *Scheduler) VoidAll(ctx context.Context, appointmentID string) {
	s.mu.Lock()
	for _, entry := range s.jobs[appointmentID] {
		entry.voided = true
		entry.timer.Stop()
	}
	delete(s.jobs, appointmentID)
	s.mu.Unlock()

	if err := s.store.DeleteByAppointment(ctx, appointmentID); err != nil {
		s.logger.Error("reminder job cleanup failed", "appointment_id", appointmentID, "err", err)
	}
}

// Recover sweeps persisted jobs on process start: future-dated jobs for
// still-booked appointments are re-armed, everything else is discarded.
func (s *Scheduler) Recover(ctx context.Context) error {
	jobs, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	recovered := 0
	for _, job := range jobs {
		if !job.FireAt.After(now) {
			_ = s.store.Delete(ctx, job.ID)
			continue
		}
		appt, err := s.source.Get(ctx, job.AppointmentID)
		if err != nil || appt.Status != model.StatusBooked {
			_ = s.store.Delete(ctx, job.ID)
			continue
		}
		s.arm(job)
		recovered++
	}
	s.logger.Info("reminder recovery complete", "recovered", recovered, "swept", len(jobs)-recovered)
	return nil
}

// Shutdown stops all pending timers without touching persisted rows, so
// the next start can recover them.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range s.jobs {
		for _, entry := range entries {
			entry.voided = true
			entry.timer.Stop()
		}
	}
	s.jobs = map[string]map[string]*scheduledJob{}
}

func (s *Scheduler) arm(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.jobs[job.AppointmentID]
	if entries == nil {
		entries = map[string]*scheduledJob{}
		s.jobs[job.AppointmentID] = entries
	}
	entry := &scheduledJob{job: job}
	entry.timer = time.AfterFunc(time.Until(job.FireAt), func() {
		s.fire(job.AppointmentID, job.ID)
	})
	entries[job.ID] = entry
}

func (s *Scheduler) fire(appointmentID, jobID string) {
	s.mu.Lock()
	entry := s.jobs[appointmentID][jobID]
	if entry == nil || entry.voided {
		s.mu.Unlock()
		return
	}
	delete(s.jobs[appointmentID], jobID)
	if len(s.jobs[appointmentID]) == 0 {
		delete(s.jobs, appointmentID)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job := entry.job
	defer func() {
		if err := s.store.Delete(ctx, job.ID); err != nil {
			s.logger.Error("reminder job cleanup failed", "job_id", job.ID, "err", err)
		}
	}()

	appt, err := s.source.Get(ctx, job.AppointmentID)
	if err != nil {
		s.logger.Error("reminder appointment lookup failed", "appointment_id", job.AppointmentID, "err", err)
		return
	}
	// Second guard behind VoidAll: if voiding was lost (e.g. restart before
	// recovery), a non-booked appointment still never gets a reminder.
	if appt.Status != model.StatusBooked {
		s.logger.Info("reminder suppressed", "appointment_id", appt.ID, "status", appt.Status)
		return
	}

	subject := fmt.Sprintf("Reminder: appointment %s", job.Label)
	body := fmt.Sprintf("Your appointment on %s at %s is coming up (%s).", appt.Date, appt.ClockTime, job.Label)

	var reqs []notify.Request
	patient, err := s.source.Patient(ctx, appt.PatientID)
	if err != nil {
		s.logger.Error("reminder patient lookup failed", "patient_id", appt.PatientID, "err", err)
	} else {
		reqs = append(reqs,
			notify.Request{Recipient: patient.Email, Channel: notify.ChannelEmail, Subject: subject, Body: body},
			notify.Request{Recipient: patient.ID, Sender: appt.DoctorID, Channel: notify.ChannelInApp, Subject: subject, Body: body},
		)
	}
	doctor, err := s.source.Doctor(ctx, appt.DoctorID)
	if err != nil {
		s.logger.Error("reminder doctor lookup failed", "doctor_id", appt.DoctorID, "err", err)
	} else {
		reqs = append(reqs,
			notify.Request{Recipient: doctor.Email, Channel: notify.ChannelEmail, Subject: subject, Body: body},
			notify.Request{Recipient: doctor.ID, Sender: appt.PatientID, Channel: notify.ChannelInApp, Subject: subject, Body: body},
		)
	}

	results := s.notifier.SendAll(ctx, reqs)
	delivered := 0
	for _, res := range results {
		if res.Delivered {
			delivered++
		}
	}
	s.logger.Info("reminder dispatched",
		"appointment_id", appt.ID,
		"label", job.Label,
		"delivered", delivered,
		"attempted", len(results),
	)

	if s.events != nil {
		s.events.ReminderSent(ctx, appt.ID, job.Label, time.Now().UTC())
	}
}

func offsetsFor(appt model.Appointment) []Offset {
	if appt.ReminderOffsetMin != nil {
		mins := *appt.ReminderOffsetMin
		return []Offset{{
			Label: fmt.Sprintf("%d minutes before", mins),
			Dur:   time.Duration(mins) * time.Minute,
		}}
	}
	return DefaultLadder
}
