package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/agendaja/agendaja/services/marketplace/internal/booking"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

type AppointmentHandler struct {
	coord  *booking.Coordinator
	logger *slog.Logger
}

func NewAppointmentHandler(coord *booking.Coordinator, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{coord: coord, logger: logger}
}

type createAppointmentRequest struct {
	ServiceID     string `json:"serviceId"`
	ProviderID    string `json:"providerId"`
	ScheduledDate string `json:"scheduledDate"`
	ScheduledTime string `json:"scheduledTime"`
	Address       string `json:"address"`
	Notes         string `json:"notes"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type reviewRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid json body"})
		return
	}

	appt, err := h.coord.CreateAppointment(r.Context(), IdentityFromContext(r.Context()), booking.CreateRequest{
		ServiceID:     strings.TrimSpace(req.ServiceID),
		ProviderID:    strings.TrimSpace(req.ProviderID),
		ScheduledDate: strings.TrimSpace(req.ScheduledDate),
		ScheduledTime: strings.TrimSpace(req.ScheduledTime),
		Address:       strings.TrimSpace(req.Address),
		Notes:         strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid json body"})
		return
	}

	appt, err := h.coord.TransitionStatus(r.Context(), IdentityFromContext(r.Context()), r.PathValue("id"), strings.TrimSpace(req.Status))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.coord.Get(r.Context(), IdentityFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *AppointmentHandler) MyAppointments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.coord.ListForCaller(r.Context(), IdentityFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	writeJSON(w, http.StatusOK, appts)
}

// Availability is public: booking pages show free slots before login.
func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("providerId"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	times, err := h.coord.Availability(r.Context(), providerID, date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if times == nil {
		times = []string{}
	}
	writeJSON(w, http.StatusOK, times)
}

func (h *AppointmentHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "invalid json body"})
		return
	}

	appt, err := h.coord.AttachReview(r.Context(), IdentityFromContext(r.Context()), r.PathValue("id"), req.Rating, strings.TrimSpace(req.Review))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}
