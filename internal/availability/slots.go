// Package availability computes the open booking slots for a doctor on a
// given day. A slot is a clock time within clinic hours that no
// non-cancelled appointment occupies and that has not already passed.
package availability

import (
	"context"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// BookedLister is the slice of the appointment store availability needs.
type BookedLister interface {
	ListBookedByDoctor(ctx context.Context, doctorID, date string) ([]model.Appointment, error)
}

type Config struct {
	// DayStart and DayEnd bound the bookable window, formatted HH:MM.
	// The window is half-open: DayEnd itself is not a slot.
	DayStart string
	DayEnd   string
	// SlotEvery is the spacing between consecutive slot starts.
	SlotEvery time.Duration
	// ClinicTZ resolves "today" when filtering out past slots.
	ClinicTZ *time.Location
}

func (c Config) withDefaults() Config {
	if c.DayStart == "" {
		c.DayStart = "09:00"
	}
	if c.DayEnd == "" {
		c.DayEnd = "17:00"
	}
	if c.SlotEvery <= 0 {
		c.SlotEvery = 30 * time.Minute
	}
	if c.ClinicTZ == nil {
		c.ClinicTZ = time.UTC
	}
	return c
}

type Service struct {
	store BookedLister
	cfg   Config
	now   func() time.Time
}

func NewService(store BookedLister, cfg Config) *Service {
	return &Service{store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// FreeSlots returns the open slot times for the doctor on the given day,
// in clinic-local HH:MM strings, ascending. Past slots are excluded when
// the day is today; a fully past day returns an empty list.
func (s *Service) FreeSlots(ctx context.Context, doctorID, date string) ([]string, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.cfg.ClinicTZ)
	if err != nil {
		return nil, &booking.ValidationError{Fields: map[string]string{"date": "must be formatted YYYY-MM-DD"}}
	}

	booked, err := s.store.ListBookedByDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(booked))
	for _, appt := range booked {
		taken[appt.ClockTime] = true
	}

	start, err := atClock(day, s.cfg.DayStart, s.cfg.ClinicTZ)
	if err != nil {
		return nil, err
	}
	end, err := atClock(day, s.cfg.DayEnd, s.cfg.ClinicTZ)
	if err != nil {
		return nil, err
	}

	now := s.now()
	free := []string{}
	for t := start; t.Before(end); t = t.Add(s.cfg.SlotEvery) {
		if t.Before(now) {
			continue
		}
		clock := t.Format(timeLayout)
		if taken[clock] {
			continue
		}
		free = append(free, clock)
	}
	return free, nil
}

func atClock(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, clock, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
