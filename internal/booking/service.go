// Package booking owns the appointment lifecycle: slot reservation,
// state transitions, and the notification side effects of each
// transition. Status is written only here, through single atomic
// statements in the Store.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/model"
	"github.com/clinicdesk/clinicdesk/internal/notify"
)

type Store interface {
	Insert(ctx context.Context, appt *model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	Confirm(ctx context.Context, id string) (model.Appointment, error)
	Cancel(ctx context.Context, id string) (model.Appointment, error)
	List(ctx context.Context, limit int) ([]model.Appointment, error)
}

type Directory interface {
	Doctor(ctx context.Context, id string) (model.Doctor, error)
	Patient(ctx context.Context, id string) (model.Patient, error)
}

type Reminders interface {
	Register(ctx context.Context, appt model.Appointment)
	VoidAll(ctx context.Context, appointmentID string)
}

type Notifier interface {
	SendAll(ctx context.Context, reqs []notify.Request) []notify.Result
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	minReminderOffsetMin = 10
	maxReminderOffsetMin = 1440
)

type Config struct {
	// ClinicTZ is the single clinic-wide timezone all date/time strings
	// resolve against.
	ClinicTZ *time.Location
	// AdminEmail receives booking notifications for the clinic back office.
	AdminEmail string
	// AdminInboxID is the in-app inbox for the back office; empty disables
	// the admin in-app message.
	AdminInboxID string
}

type Service struct {
	store     Store
	directory Directory
	reminders Reminders
	notifier  Notifier
	logger    *slog.Logger
	cfg       Config
}

func NewService(store Store, directory Directory, reminders Reminders, notifier Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.ClinicTZ == nil {
		cfg.ClinicTZ = time.UTC
	}
	return &Service{
		store:     store,
		directory: directory,
		reminders: reminders,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

type CreateInput struct {
	DoctorID          string
	PatientID         string
	Date              string
	Time              string
	Fee               float64
	ReminderOffsetMin *int
}

// Create validates the request, reserves the slot, persists the
// appointment in `booked`, fans out booking notifications, and registers
// reminders. On a slot collision it returns ErrSlotTaken with no side
// effects. Notification outcomes never affect the returned error: once
// the insert commits the booking has succeeded.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Appointment, error) {
	startTime, err := s.validateCreate(in)
	if err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:                uuid.NewString(),
		DoctorID:          in.DoctorID,
		PatientID:         in.PatientID,
		Date:              in.Date,
		ClockTime:         in.Time,
		StartTime:         startTime,
		Fee:               in.Fee,
		ReminderOffsetMin: in.ReminderOffsetMin,
	}
	if err := s.store.Insert(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}

	s.notifyBooked(ctx, appt)
	s.reminders.Register(ctx, appt)
	return appt, nil
}

// Confirm transitions an appointment to confirmed. This is administrative
// acknowledgment only; no notification fan-out.
func (s *Service) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	if uuid.Validate(id) != nil {
		return model.Appointment{}, ErrNotFound
	}
	return s.store.Confirm(ctx, id)
}

// Cancel transitions an appointment to cancelled, voids its pending
// reminders, and fans out cancellation notifications. Cancelling twice
// returns ErrAlreadyCancelled so callers get explicit feedback.
func (s *Service) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	if uuid.Validate(id) != nil {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := s.store.Cancel(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	s.reminders.VoidAll(ctx, appt.ID)
	s.notifyCancelled(ctx, appt)
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	if uuid.Validate(id) != nil {
		return model.Appointment{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) validateCreate(in CreateInput) (time.Time, error) {
	fields := map[string]string{}
	if uuid.Validate(in.PatientID) != nil {
		fields["patientId"] = "must be a valid id"
	}
	if uuid.Validate(in.DoctorID) != nil {
		fields["doctorId"] = "must be a valid id"
	}
	if in.Date == "" {
		fields["date"] = "date is required"
	} else if _, err := time.Parse(dateLayout, in.Date); err != nil {
		fields["date"] = "must be formatted YYYY-MM-DD"
	}
	if in.Time == "" {
		fields["time"] = "time is required"
	} else if _, err := time.Parse(timeLayout, in.Time); err != nil {
		fields["time"] = "must be formatted HH:MM"
	}
	if in.Fee <= 0 {
		fields["fees"] = "must be a positive number"
	}
	if in.ReminderOffsetMin != nil {
		if n := *in.ReminderOffsetMin; n < minReminderOffsetMin || n > maxReminderOffsetMin {
			fields["reminderOffset"] = fmt.Sprintf("must be between %d and %d minutes", minReminderOffsetMin, maxReminderOffsetMin)
		}
	}
	if len(fields) > 0 {
		return time.Time{}, &ValidationError{Fields: fields}
	}

	startTime, err := time.ParseInLocation(dateLayout+" "+timeLayout, in.Date+" "+in.Time, s.cfg.ClinicTZ)
	if err != nil {
		return time.Time{}, &ValidationError{Fields: map[string]string{"date": "invalid date/time"}}
	}
	return startTime, nil
}

// notifyBooked fans out the booking announcement: in-app + email to the
// doctor and clinic admin, SMS + chat to patient and doctor when a phone
// is on file. Each send is independent and best-effort.
func (s *Service) notifyBooked(ctx context.Context, appt model.Appointment) {
	doctor, derr := s.directory.Doctor(ctx, appt.DoctorID)
	patient, perr := s.directory.Patient(ctx, appt.PatientID)
	if derr != nil || perr != nil {
		s.logger.Error("booking contact lookup failed",
			"appointment_id", appt.ID,
			"doctor_err", derr,
			"patient_err", perr,
		)
		return
	}

	when := fmt.Sprintf("on %s at %s", appt.Date, appt.ClockTime)
	var reqs []notify.Request

	reqs = append(reqs,
		notify.Request{
			Recipient: appt.DoctorID,
			Sender:    appt.PatientID,
			Channel:   notify.ChannelInApp,
			Subject:   "New Appointment",
			Body:      fmt.Sprintf("You have a new appointment %s.", when),
		},
		notify.Request{
			Recipient: doctor.Email,
			Channel:   notify.ChannelEmail,
			Subject:   "New Appointment Booked",
			Body:      fmt.Sprintf("Hello Dr. %s, you have a new appointment with %s %s.", doctor.Name, patient.Name, when),
		},
	)
	if s.cfg.AdminEmail != "" {
		reqs = append(reqs, notify.Request{
			Recipient: s.cfg.AdminEmail,
			Channel:   notify.ChannelEmail,
			Subject:   "New Appointment Booked",
			Body:      fmt.Sprintf("New appointment booked: Dr. %s with %s %s.", doctor.Name, patient.Name, when),
		})
	}
	if s.cfg.AdminInboxID != "" {
		reqs = append(reqs, notify.Request{
			Recipient: s.cfg.AdminInboxID,
			Sender:    appt.PatientID,
			Channel:   notify.ChannelInApp,
			Subject:   "New Appointment",
			Body:      fmt.Sprintf("New appointment booked with Dr. %s %s.", doctor.Name, when),
		})
	}
	if patient.Phone != "" {
		text := fmt.Sprintf("Hi %s, your appointment with Dr. %s is booked %s.", patient.Name, doctor.Name, when)
		reqs = append(reqs,
			notify.Request{Recipient: patient.Phone, Channel: notify.ChannelSMS, Body: text},
			notify.Request{Recipient: patient.Phone, Channel: notify.ChannelChat, Body: text},
		)
	}
	if doctor.Phone != "" {
		text := fmt.Sprintf("Dr. %s, you have a new appointment with %s %s.", doctor.Name, patient.Name, when)
		reqs = append(reqs,
			notify.Request{Recipient: doctor.Phone, Channel: notify.ChannelSMS, Body: text},
			notify.Request{Recipient: doctor.Phone, Channel: notify.ChannelChat, Body: text},
		)
	}

	s.notifier.SendAll(ctx, reqs)
}

// notifyCancelled fans out the cancellation: email to both parties
// always, SMS + chat when a phone is on file.
func (s *Service) notifyCancelled(ctx context.Context, appt model.Appointment) {
	doctor, derr := s.directory.Doctor(ctx, appt.DoctorID)
	patient, perr := s.directory.Patient(ctx, appt.PatientID)
	if derr != nil || perr != nil {
		s.logger.Error("cancellation contact lookup failed",
			"appointment_id", appt.ID,
			"doctor_err", derr,
			"patient_err", perr,
		)
		return
	}

	when := fmt.Sprintf("on %s at %s", appt.Date, appt.ClockTime)
	reqs := []notify.Request{
		{
			Recipient: doctor.Email,
			Channel:   notify.ChannelEmail,
			Subject:   "Appointment Cancelled",
			Body:      fmt.Sprintf("Your appointment with %s %s has been cancelled.", patient.Name, when),
		},
		{
			Recipient: patient.Email,
			Channel:   notify.ChannelEmail,
			Subject:   "Appointment Cancelled",
			Body:      fmt.Sprintf("Your appointment with Dr. %s %s has been cancelled.", doctor.Name, when),
		},
	}
	if doctor.Phone != "" {
		text := fmt.Sprintf("Appointment with %s %s has been cancelled.", patient.Name, when)
		reqs = append(reqs,
			notify.Request{Recipient: doctor.Phone, Channel: notify.ChannelSMS, Body: text},
			notify.Request{Recipient: doctor.Phone, Channel: notify.ChannelChat, Body: text},
		)
	}
	if patient.Phone != "" {
		text := fmt.Sprintf("Your appointment with Dr. %s %s is cancelled.", doctor.Name, when)
		reqs = append(reqs,
			notify.Request{Recipient: patient.Phone, Channel: notify.ChannelSMS, Body: text},
			notify.Request{Recipient: patient.Phone, Channel: notify.ChannelChat, Body: text},
		)
	}

	s.notifier.SendAll(ctx, reqs)
}
