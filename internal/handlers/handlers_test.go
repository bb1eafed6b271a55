package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/availability"
	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
	"github.com/clinicdesk/clinicdesk/internal/notify"
	"github.com/clinicdesk/clinicdesk/internal/payments"
	"github.com/clinicdesk/clinicdesk/libs/auth"
)

const testJWTSecret = "test-secret"

type memStore struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
}

func (s *memStore) Insert(ctx context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.appts {
		if existing.Status != model.StatusCancelled &&
			existing.DoctorID == appt.DoctorID &&
			existing.Date == appt.Date &&
			existing.ClockTime == appt.ClockTime {
			return booking.ErrSlotTaken
		}
	}
	appt.Status = model.StatusBooked
	appt.CreatedAt = time.Now()
	s.appts[appt.ID] = *appt
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, nil
}

func (s *memStore) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	return s.transition(id, model.StatusConfirmed)
}

func (s *memStore) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	return s.transition(id, model.StatusCancelled)
}

func (s *memStore) transition(id, to string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	if appt.Status == model.StatusCancelled {
		return model.Appointment{}, booking.ErrAlreadyCancelled
	}
	appt.Status = to
	if to == model.StatusCancelled {
		now := time.Now()
		appt.CancelledAt = &now
	}
	s.appts[id] = appt
	return appt, nil
}

func (s *memStore) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.appts))
	for _, appt := range s.appts {
		out = append(out, appt)
	}
	return out, nil
}

func (s *memStore) ListBookedByDoctor(ctx context.Context, doctorID, date string) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, appt := range s.appts {
		if appt.DoctorID == doctorID && appt.Date == date && appt.Status != model.StatusCancelled {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (s *memStore) MarkPaid(ctx context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	appt.Paid = true
	s.appts[id] = appt
	return appt, nil
}

type memDirectory struct {
	doctors  map[string]model.Doctor
	patients map[string]model.Patient
}

func (d *memDirectory) Doctor(ctx context.Context, id string) (model.Doctor, error) {
	doc, ok := d.doctors[id]
	if !ok {
		return model.Doctor{}, booking.ErrNotFound
	}
	return doc, nil
}

func (d *memDirectory) Patient(ctx context.Context, id string) (model.Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return model.Patient{}, booking.ErrNotFound
	}
	return p, nil
}

type noopReminders struct{}

func (noopReminders) Register(ctx context.Context, appt model.Appointment) {}
func (noopReminders) VoidAll(ctx context.Context, appointmentID string)    {}

type noopNotifier struct{}

func (noopNotifier) SendAll(ctx context.Context, reqs []notify.Request) []notify.Result {
	results := make([]notify.Result, len(reqs))
	for i, req := range reqs {
		results[i] = notify.Result{Channel: req.Channel, Recipient: req.Recipient, Delivered: true}
	}
	return results
}

type harness struct {
	srv       *httptest.Server
	doctorID  string
	patientID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	doctorID := uuid.NewString()
	patientID := uuid.NewString()
	store := &memStore{appts: map[string]model.Appointment{}}
	dir := &memDirectory{
		doctors:  map[string]model.Doctor{doctorID: {ID: doctorID, Name: "Rahman", Email: "d@clinic.test"}},
		patients: map[string]model.Patient{patientID: {ID: patientID, Name: "Karim", Email: "p@clinic.test"}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bookingSvc := booking.NewService(store, dir, noopReminders{}, noopNotifier{}, logger, booking.Config{ClinicTZ: time.UTC})
	availabilitySvc := availability.NewService(store, availability.Config{ClinicTZ: time.UTC})
	paymentsSvc := payments.NewService(store, payments.Config{SecretKey: ""}, logger)

	h := New(bookingSvc, availabilitySvc, paymentsSvc, logger, Config{JWTSecret: testJWTSecret})
	mux := http.NewServeMux()
	h.Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{srv: srv, doctorID: doctorID, patientID: patientID}
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		Sub:  uuid.NewString(),
		Role: role,
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, testJWTSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path, role string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) createBody() map[string]any {
	return map[string]any{
		"doctor_id":  h.doctorID,
		"patient_id": h.patientID,
		"date":       "2030-07-20",
		"time":       "10:00",
		"fees":       50,
	}
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/v1/appointments", "", h.createBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestConfirmRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	created := decode(t, h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody()))
	id := created["appointment_id"].(string)

	resp := h.do(t, http.MethodPost, "/api/v1/appointments/"+id+"/confirm", "patient", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient confirm status = %d, want 403", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPost, "/api/v1/appointments/"+id+"/confirm", "admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin confirm status = %d, want 200", resp.StatusCode)
	}
	if got := decode(t, resp)["status"]; got != model.StatusConfirmed {
		t.Fatalf("status = %v, want confirmed", got)
	}
}

func TestCreateAppointment(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["status"] != model.StatusBooked {
		t.Fatalf("status = %v, want booked", body["status"])
	}
	if body["appointment_id"] == "" {
		t.Fatal("missing appointment_id")
	}
}

func TestCreateConflict(t *testing.T) {
	h := newHarness(t)
	if resp := h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create status = %d", resp.StatusCode)
	}
	resp := h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody())
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	body := h.createBody()
	body["doctor_id"] = "nope"
	body["fees"] = -1

	resp := h.do(t, http.MethodPost, "/api/v1/appointments", "patient", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	fields, ok := decode(t, resp)["fields"].(map[string]any)
	if !ok {
		t.Fatal("missing fields map in validation response")
	}
	for _, field := range []string{"doctorId", "fees"} {
		if _, ok := fields[field]; !ok {
			t.Errorf("missing field error for %q", field)
		}
	}
}

func TestCancelFlow(t *testing.T) {
	h := newHarness(t)
	created := decode(t, h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody()))
	id := created["appointment_id"].(string)

	resp := h.do(t, http.MethodPost, "/api/v1/appointments/"+id+"/cancel", "patient", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["status"] != model.StatusCancelled || body["cancelled_at"] == "" {
		t.Fatalf("cancel response = %v", body)
	}

	resp = h.do(t, http.MethodPost, "/api/v1/appointments/"+id+"/cancel", "patient", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPost, "/api/v1/appointments/"+uuid.NewString()+"/cancel", "patient", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestListRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	if resp := h.do(t, http.MethodGet, "/api/v1/appointments", "patient", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient list status = %d, want 403", resp.StatusCode)
	}
	resp := h.do(t, http.MethodGet, "/api/v1/appointments", "admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin list status = %d, want 200", resp.StatusCode)
	}
}

func TestAvailability(t *testing.T) {
	h := newHarness(t)
	if resp := h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody()); resp.StatusCode != http.StatusCreated {
		t.Fatal("create failed")
	}

	resp := h.do(t, http.MethodGet, "/api/v1/availability?doctor_id="+h.doctorID+"&date=2030-07-20", "patient", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	slots, ok := decode(t, resp)["slots"].([]any)
	if !ok {
		t.Fatal("missing slots in response")
	}
	for _, s := range slots {
		if s == "10:00" {
			t.Fatal("booked slot 10:00 still listed as free")
		}
	}
}

func TestPaymentIntentUnconfigured(t *testing.T) {
	h := newHarness(t)
	created := decode(t, h.do(t, http.MethodPost, "/api/v1/appointments", "patient", h.createBody()))
	id := created["appointment_id"].(string)

	resp := h.do(t, http.MethodPost, "/api/v1/payments/intent", "patient", map[string]any{"appointment_id": id})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when stripe is not configured", resp.StatusCode)
	}
}

func TestStripeWebhookRejectsUnsigned(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/api/v1/payments/webhooks/stripe", "", map[string]any{})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when webhook secret is not set", resp.StatusCode)
	}
}
