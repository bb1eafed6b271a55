package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
)

type createAppointmentRequest struct {
	DoctorID       string  `json:"doctor_id"`
	PatientID      string  `json:"patient_id"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Fees           float64 `json:"fees"`
	ReminderOffset *int    `json:"reminder_offset_minutes,omitempty"`
}

type appointmentItem struct {
	AppointmentID  string  `json:"appointment_id"`
	DoctorID       string  `json:"doctor_id"`
	PatientID      string  `json:"patient_id"`
	Date           string  `json:"date"`
	Time           string  `json:"time"`
	Fees           float64 `json:"fees"`
	Status         string  `json:"status"`
	Paid           bool    `json:"paid"`
	ReminderOffset *int    `json:"reminder_offset_minutes,omitempty"`
	CancelledAt    string  `json:"cancelled_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func toItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:  appt.ID,
		DoctorID:       appt.DoctorID,
		PatientID:      appt.PatientID,
		Date:           appt.Date,
		Time:           appt.ClockTime,
		Fees:           appt.Fee,
		Status:         appt.Status,
		Paid:           appt.Paid,
		ReminderOffset: appt.ReminderOffsetMin,
		CreatedAt:      appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.booking.Create(r.Context(), booking.CreateInput{
		DoctorID:          strings.TrimSpace(req.DoctorID),
		PatientID:         strings.TrimSpace(req.PatientID),
		Date:              strings.TrimSpace(req.Date),
		Time:              strings.TrimSpace(req.Time),
		Fee:               req.Fees,
		ReminderOffsetMin: req.ReminderOffset,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	appts, err := h.booking.List(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" || date == "" {
		http.Error(w, "doctor_id and date are required", http.StatusBadRequest)
		return
	}

	slots, err := h.availability.FreeSlots(r.Context(), doctorID, date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id": doctorID,
		"date":      date,
		"slots":     slots,
	})
}
