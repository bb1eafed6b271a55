package reminder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/model"
	"github.com/clinicdesk/clinicdesk/internal/notify"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[string]Job{}}
}

func (s *memJobStore) Save(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memJobStore) DeleteByAppointment(ctx context.Context, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.AppointmentID == appointmentID {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *memJobStore) ListPending(ctx context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *memJobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fakeSource struct {
	mu       sync.Mutex
	appts    map[string]model.Appointment
	doctors  map[string]model.Doctor
	patients map[string]model.Patient
}

func (f *fakeSource) Get(ctx context.Context, id string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, context.Canceled
	}
	return appt, nil
}

func (f *fakeSource) Doctor(ctx context.Context, id string) (model.Doctor, error) {
	return f.doctors[id], nil
}

func (f *fakeSource) Patient(ctx context.Context, id string) (model.Patient, error) {
	return f.patients[id], nil
}

func (f *fakeSource) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt := f.appts[id]
	appt.Status = status
	f.appts[id] = appt
}

type captureNotifier struct {
	mu    sync.Mutex
	reqs  []notify.Request
	fired chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{fired: make(chan struct{}, 16)}
}

func (n *captureNotifier) SendAll(ctx context.Context, reqs []notify.Request) []notify.Result {
	n.mu.Lock()
	n.reqs = append(n.reqs, reqs...)
	n.mu.Unlock()
	n.fired <- struct{}{}
	results := make([]notify.Result, len(reqs))
	for i, req := range reqs {
		results[i] = notify.Result{Channel: req.Channel, Recipient: req.Recipient, Delivered: true}
	}
	return results
}

func (n *captureNotifier) sent() []notify.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Request, len(n.reqs))
	copy(out, n.reqs)
	return out
}

type captureEvents struct {
	mu     sync.Mutex
	labels []string
}

func (e *captureEvents) ReminderSent(ctx context.Context, appointmentID, label string, firedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.labels = append(e.labels, label)
}

func testAppointment(start time.Time) (model.Appointment, *fakeSource) {
	appt := model.Appointment{
		ID:        uuid.NewString(),
		DoctorID:  uuid.NewString(),
		PatientID: uuid.NewString(),
		Date:      start.Format("2006-01-02"),
		ClockTime: start.Format("15:04"),
		StartTime: start,
		Status:    model.StatusBooked,
	}
	source := &fakeSource{
		appts: map[string]model.Appointment{appt.ID: appt},
		doctors: map[string]model.Doctor{appt.DoctorID: {
			ID: appt.DoctorID, Name: "Rahman", Email: "rahman@clinic.test",
		}},
		patients: map[string]model.Patient{appt.PatientID: {
			ID: appt.PatientID, Name: "Karim", Email: "karim@example.test",
		}},
	}
	return appt, source
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterCustomOffset(t *testing.T) {
	appt, source := testAppointment(time.Now().Add(2 * time.Hour))
	offset := 45
	appt.ReminderOffsetMin = &offset

	store := newMemJobStore()
	sched := NewScheduler(source, newCaptureNotifier(), store, nil, testLogger())
	defer sched.Shutdown()

	sched.Register(context.Background(), appt)

	jobs, _ := store.ListPending(context.Background())
	if len(jobs) != 1 {
		t.Fatalf("stored %d jobs, want 1", len(jobs))
	}
	if jobs[0].Label != "45 minutes before" {
		t.Fatalf("label = %q, want %q", jobs[0].Label, "45 minutes before")
	}
	wantFire := appt.StartTime.Add(-45 * time.Minute)
	if !jobs[0].FireAt.Equal(wantFire) {
		t.Fatalf("fire at %v, want %v", jobs[0].FireAt, wantFire)
	}
}

func TestRegisterSkipsPastOffsets(t *testing.T) {
	// One hour out: every default rung except "30 minutes before" is in
	// the past and must be skipped, not fired late.
	appt, source := testAppointment(time.Now().Add(time.Hour))

	store := newMemJobStore()
	sched := NewScheduler(source, newCaptureNotifier(), store, nil, testLogger())
	defer sched.Shutdown()

	sched.Register(context.Background(), appt)

	jobs, _ := store.ListPending(context.Background())
	if len(jobs) != 1 {
		t.Fatalf("stored %d jobs, want 1", len(jobs))
	}
	if jobs[0].Label != "30 minutes before" {
		t.Fatalf("label = %q, want %q", jobs[0].Label, "30 minutes before")
	}
}

func TestRegisterFullLadder(t *testing.T) {
	appt, source := testAppointment(time.Now().Add(48 * time.Hour))

	store := newMemJobStore()
	sched := NewScheduler(source, newCaptureNotifier(), store, nil, testLogger())
	defer sched.Shutdown()

	sched.Register(context.Background(), appt)

	if got := store.count(); got != len(DefaultLadder) {
		t.Fatalf("stored %d jobs, want %d", got, len(DefaultLadder))
	}
}

func TestFireSendsToBothParties(t *testing.T) {
	// Arm the "1 day before" rung to fire almost immediately.
	appt, source := testAppointment(time.Now().Add(24*time.Hour + 20*time.Millisecond))
	offset := 1440
	appt.ReminderOffsetMin = &offset

	store := newMemJobStore()
	notifier := newCaptureNotifier()
	events := &captureEvents{}
	sched := NewScheduler(source, notifier, store, events, testLogger())
	defer sched.Shutdown()

	sched.Register(context.Background(), appt)

	select {
	case <-notifier.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("reminder never fired")
	}

	reqs := notifier.sent()
	if len(reqs) != 4 {
		t.Fatalf("sent %d requests, want 4 (email + in-app to each party)", len(reqs))
	}
	counts := map[notify.Channel]int{}
	for _, req := range reqs {
		counts[req.Channel]++
	}
	if counts[notify.ChannelEmail] != 2 || counts[notify.ChannelInApp] != 2 {
		t.Fatalf("channel counts = %v, want 2 email + 2 inapp", counts)
	}

	events.mu.Lock()
	labels := append([]string(nil), events.labels...)
	events.mu.Unlock()
	if len(labels) != 1 || labels[0] != "1440 minutes before" {
		t.Fatalf("event labels = %v, want one %q", labels, "1440 minutes before")
	}

	// The fired job must be cleaned up.
	deadline := time.Now().Add(time.Second)
	for store.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job rows remaining: %d", store.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestVoidAllPreventsFiring(t *testing.T) {
	appt, source := testAppointment(time.Now().Add(24*time.Hour + 30*time.Millisecond))
	offset := 1440
	appt.ReminderOffsetMin = &offset

	store := newMemJobStore()
	notifier := newCaptureNotifier()
	sched := NewScheduler(source, notifier, store, nil, testLogger())
	defer sched.Shutdown()

	sched.Register(context.Background(), appt)
	sched.VoidAll(context.Background(), appt.ID)

	select {
	case <-notifier.fired:
		t.Fatal("voided reminder fired")
	case <-time.After(300 * time.Millisecond):
	}
	if store.count() != 0 {
		t.Fatalf("job rows remaining after void: %d", store.count())
	}
}

func TestFireSuppressedWhenNotBooked(t *testing.T) {
	// Voiding can be lost across a restart; the fire-time status check is
	// the second line of defence.
	appt, source := testAppointment(time.Now().Add(24*time.Hour + 30*time.Millisecond))
	offset := 1440
	appt.ReminderOffsetMin = &offset

	store := newMemJobStore()
	notifier := newCaptureNotifier()
	sched := NewScheduler(source, notifier, store, nil, testLogger())
	defer sched.Shutdown()

	sched.Register(context.Background(), appt)
	source.setStatus(appt.ID, model.StatusCancelled)

	select {
	case <-notifier.fired:
		t.Fatal("reminder fired for a cancelled appointment")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRecover(t *testing.T) {
	appt, source := testAppointment(time.Now().Add(48 * time.Hour))
	cancelledID := uuid.NewString()
	source.appts[cancelledID] = model.Appointment{ID: cancelledID, Status: model.StatusCancelled}

	store := newMemJobStore()
	ctx := context.Background()
	_ = store.Save(ctx, Job{ID: uuid.NewString(), AppointmentID: appt.ID, FireAt: time.Now().Add(-time.Hour), Label: "stale"})
	_ = store.Save(ctx, Job{ID: uuid.NewString(), AppointmentID: cancelledID, FireAt: time.Now().Add(time.Hour), Label: "orphaned"})
	keep := Job{ID: uuid.NewString(), AppointmentID: appt.ID, FireAt: time.Now().Add(time.Hour), Label: "live"}
	_ = store.Save(ctx, keep)

	sched := NewScheduler(source, newCaptureNotifier(), store, nil, testLogger())
	defer sched.Shutdown()

	if err := sched.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	jobs, _ := store.ListPending(ctx)
	if len(jobs) != 1 || jobs[0].ID != keep.ID {
		t.Fatalf("surviving jobs = %v, want only %q", jobs, keep.ID)
	}

	sched.mu.Lock()
	armed := len(sched.jobs[appt.ID])
	sched.mu.Unlock()
	if armed != 1 {
		t.Fatalf("armed %d timers after recovery, want 1", armed)
	}
}
