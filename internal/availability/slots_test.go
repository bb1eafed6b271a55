package availability

import (
	"context"
	"testing"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
)

type fixedLister struct {
	appts []model.Appointment
}

func (f *fixedLister) ListBookedByDoctor(ctx context.Context, doctorID, date string) ([]model.Appointment, error) {
	return f.appts, nil
}

func newTestService(booked []string, now time.Time) *Service {
	appts := make([]model.Appointment, 0, len(booked))
	for _, clock := range booked {
		appts = append(appts, model.Appointment{ClockTime: clock, Status: model.StatusBooked})
	}
	svc := NewService(&fixedLister{appts: appts}, Config{
		DayStart:  "09:00",
		DayEnd:    "11:00",
		SlotEvery: 30 * time.Minute,
		ClinicTZ:  time.UTC,
	})
	svc.now = func() time.Time { return now }
	return svc
}

func TestFreeSlotsExcludesBooked(t *testing.T) {
	now := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	svc := newTestService([]string{"09:30", "10:30"}, now)

	slots, err := svc.FreeSlots(context.Background(), "doc", "2026-01-28")
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	want := []string{"09:00", "10:00"}
	if len(slots) != len(want) {
		t.Fatalf("slots = %v, want %v", slots, want)
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Fatalf("slots = %v, want %v", slots, want)
		}
	}
}

func TestFreeSlotsSkipsPast(t *testing.T) {
	// Mid-day: 09:00 and 09:30 have passed, 10:00 onward remain.
	now := time.Date(2026, 1, 28, 9, 31, 0, 0, time.UTC)
	svc := newTestService(nil, now)

	slots, err := svc.FreeSlots(context.Background(), "doc", "2026-01-28")
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 2 || slots[0] != "10:00" || slots[1] != "10:30" {
		t.Fatalf("slots = %v, want [10:00 10:30]", slots)
	}
}

func TestFreeSlotsPastDayEmpty(t *testing.T) {
	now := time.Date(2026, 1, 29, 8, 0, 0, 0, time.UTC)
	svc := newTestService(nil, now)

	slots, err := svc.FreeSlots(context.Background(), "doc", "2026-01-28")
	if err != nil {
		t.Fatalf("FreeSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("slots = %v, want none for a fully past day", slots)
	}
}

func TestFreeSlotsBadDate(t *testing.T) {
	svc := newTestService(nil, time.Now())
	if _, err := svc.FreeSlots(context.Background(), "doc", "28-01-2026"); !booking.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}
