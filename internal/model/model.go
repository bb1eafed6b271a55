package model

import "time"

// Appointment statuses. Cancelled is terminal; the record is kept for audit.
const (
	StatusBooked    = "booked"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

type Appointment struct {
	ID        string
	DoctorID  string
	PatientID string
	// Date and ClockTime are the clinic-local slot key, e.g. "2025-07-20"
	// and "10:00". StartTime is the same instant resolved against the
	// clinic timezone, used for reminder arithmetic.
	Date      string
	ClockTime string
	StartTime time.Time
	Fee       float64
	// ReminderOffsetMin, when non-nil, replaces the default reminder
	// ladder with a single offset (minutes before StartTime).
	ReminderOffsetMin *int
	Status            string
	Paid              bool
	CancelledAt       *time.Time
	CreatedAt         time.Time
}

func (a Appointment) SlotTaken() bool {
	return a.Status != StatusCancelled
}

// Doctor and Patient carry only the contact fields the engine needs.
// Profile CRUD is owned by the excluded portal subsystem.
type Doctor struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Speciality string
}

type Patient struct {
	ID    string
	Name  string
	Email string
	Phone string
}
