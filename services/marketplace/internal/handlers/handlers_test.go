package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agendaja/agendaja/libs/auth"
	"github.com/agendaja/agendaja/libs/httpx"
	"github.com/agendaja/agendaja/services/marketplace/internal/availability"
	"github.com/agendaja/agendaja/services/marketplace/internal/booking"
	"github.com/agendaja/agendaja/services/marketplace/internal/bus"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
	"github.com/agendaja/agendaja/services/marketplace/internal/storage"
)

const testSecret = "test-secret"

func newRouter(t *testing.T) (*http.ServeMux, *storage.MemoryStore, *booking.Coordinator) {
	t.Helper()

	store := storage.NewMemoryStore()
	store.AddUser(model.User{ID: "client-1", Name: "Ana", Role: model.RoleClient})
	store.AddUser(model.User{ID: "prov-1", Name: "Bruno", Role: model.RoleProvider})
	store.AddService(model.Service{ID: "svc-1", Title: "Limpeza residencial", ProviderID: "prov-1", Price: 120, DurationMinutes: 120})

	logger := slog.Default()
	b := bus.New(logger)
	resolver := availability.NewResolver(store, store)
	coord := booking.NewCoordinator(store, store, resolver, b, logger)

	appointments := NewAppointmentHandler(coord, logger)
	services := NewServiceHandler(store, logger)
	authed := RequireAuth(testSecret, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /api/appointments", httpx.Chain(http.HandlerFunc(appointments.Create), authed))
	mux.Handle("PATCH /api/appointments/{id}/status", httpx.Chain(http.HandlerFunc(appointments.UpdateStatus), authed))
	mux.Handle("GET /api/appointments/my-appointments", httpx.Chain(http.HandlerFunc(appointments.MyAppointments), authed))
	mux.Handle("GET /api/appointments/availability", http.HandlerFunc(appointments.Availability))
	mux.Handle("GET /api/appointments/{id}", httpx.Chain(http.HandlerFunc(appointments.Get), authed))
	mux.Handle("POST /api/appointments/{id}/review", httpx.Chain(http.HandlerFunc(appointments.Review), authed))
	mux.Handle("GET /api/services/{id}", http.HandlerFunc(services.Get))
	mux.Handle("GET /api/services", http.HandlerFunc(services.ListByProvider))
	return mux, store, coord
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.Claims{
		Sub:  userID,
		Role: role,
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	return "Bearer " + tok
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func createAppointment(t *testing.T, mux *http.ServeMux) model.Appointment {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/appointments", bearer(t, "client-1", model.RoleClient), map[string]string{
		"serviceId":     "svc-1",
		"scheduledDate": "2025-06-01",
		"scheduledTime": "10:00",
		"address":       "Rua das Flores 123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var appt model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return appt
}

func TestCreateAppointment(t *testing.T) {
	mux, _, _ := newRouter(t)
	appt := createAppointment(t, mux)
	if appt.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", appt.Status)
	}
	if appt.ClientID != "client-1" || appt.ProviderID != "prov-1" {
		t.Fatalf("participants wrong: %+v", appt)
	}
}

func TestCreateAppointmentRequiresAuth(t *testing.T) {
	mux, _, _ := newRouter(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/appointments", "", map[string]string{"serviceId": "svc-1"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	mux, _, _ := newRouter(t)
	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing service", map[string]string{"scheduledDate": "2025-06-01", "scheduledTime": "10:00"}, http.StatusBadRequest},
		{"unknown service", map[string]string{"serviceId": "nope", "scheduledDate": "2025-06-01", "scheduledTime": "10:00"}, http.StatusNotFound},
		{"bad date", map[string]string{"serviceId": "svc-1", "scheduledDate": "June 1st", "scheduledTime": "10:00"}, http.StatusBadRequest},
		{"time outside slots", map[string]string{"serviceId": "svc-1", "scheduledDate": "2025-06-01", "scheduledTime": "03:30"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, mux, http.MethodPost, "/api/appointments", bearer(t, "client-1", model.RoleClient), tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStatusLifecycleOverHTTP(t *testing.T) {
	mux, _, _ := newRouter(t)
	appt := createAppointment(t, mux)

	provider := bearer(t, "prov-1", model.RoleProvider)
	for _, status := range []string{"confirmed", "in_progress", "completed"} {
		rec := doJSON(t, mux, http.MethodPatch, "/api/appointments/"+appt.ID+"/status", provider, map[string]string{"status": status})
		if rec.Code != http.StatusOK {
			t.Fatalf("transition to %s: expected 200, got %d: %s", status, rec.Code, rec.Body.String())
		}
	}

	// Completed is terminal; any further transition conflicts.
	rec := doJSON(t, mux, http.MethodPatch, "/api/appointments/"+appt.ID+"/status", provider, map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestClientMayOnlyCancel(t *testing.T) {
	mux, _, _ := newRouter(t)
	appt := createAppointment(t, mux)

	client := bearer(t, "client-1", model.RoleClient)
	rec := doJSON(t, mux, http.MethodPatch, "/api/appointments/"+appt.ID+"/status", client, map[string]string{"status": "confirmed"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodPatch, "/api/appointments/"+appt.ID+"/status", client, map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownStatusIsRejected(t *testing.T) {
	mux, _, _ := newRouter(t)
	appt := createAppointment(t, mux)

	rec := doJSON(t, mux, http.MethodPatch, "/api/appointments/"+appt.ID+"/status", bearer(t, "prov-1", model.RoleProvider), map[string]string{"status": "paused"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetAppointmentVisibility(t *testing.T) {
	mux, _, _ := newRouter(t)
	appt := createAppointment(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/appointments/"+appt.ID, bearer(t, "prov-1", model.RoleProvider), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for participant, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/appointments/"+appt.ID, bearer(t, "stranger", model.RoleClient), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/appointments/missing", bearer(t, "client-1", model.RoleClient), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMyAppointments(t *testing.T) {
	mux, _, _ := newRouter(t)
	createAppointment(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/api/appointments/my-appointments", bearer(t, "prov-1", model.RoleProvider), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var appts []model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &appts); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appts))
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/appointments/my-appointments", bearer(t, "stranger", model.RoleClient), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	mux, store, _ := newRouter(t)
	// 2025-06-01 is a Sunday.
	store.SetWorkingWindow("prov-1", time.Sunday, availability.Window{Start: "09:00", End: "12:00", StepMinutes: 60})

	rec := doJSON(t, mux, http.MethodGet, "/api/appointments/availability?providerId=prov-1&date=2025-06-01", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var times []string
	if err := json.Unmarshal(rec.Body.Bytes(), &times); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := []string{"09:00", "10:00", "11:00"}
	if len(times) != len(want) {
		t.Fatalf("expected %v, got %v", want, times)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, times)
		}
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/appointments/availability?date=2025-06-01", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without providerId, got %d", rec.Code)
	}
}

func TestReviewEndpoint(t *testing.T) {
	mux, _, coord := newRouter(t)
	appt := createAppointment(t, mux)

	ctx := context.Background()
	provider := booking.Identity{UserID: "prov-1", Role: model.RoleProvider}
	for _, status := range []string{"confirmed", "in_progress", "completed"} {
		if _, err := coord.TransitionStatus(ctx, provider, appt.ID, status); err != nil {
			t.Fatalf("transition to %s failed: %v", status, err)
		}
	}

	client := bearer(t, "client-1", model.RoleClient)
	rec := doJSON(t, mux, http.MethodPost, "/api/appointments/"+appt.ID+"/review", client, map[string]any{"rating": 9})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range rating, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/appointments/"+appt.ID+"/review", client, map[string]any{"rating": 5, "review": "Excelente"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var reviewed model.Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &reviewed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reviewed.Rating != 5 || reviewed.Review != "Excelente" {
		t.Fatalf("review not stored: %+v", reviewed)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/appointments/"+appt.ID+"/review", client, map[string]any{"rating": 4})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for second review, got %d", rec.Code)
	}
}

func TestServiceEndpoints(t *testing.T) {
	mux, _, _ := newRouter(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/services/svc-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var svc model.Service
	if err := json.Unmarshal(rec.Body.Bytes(), &svc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if svc.Title != "Limpeza residencial" {
		t.Fatalf("unexpected service: %+v", svc)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/services/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/services?providerId=prov-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var services []model.Service
	if err := json.Unmarshal(rec.Body.Bytes(), &services); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(services))
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/services", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without providerId, got %d", rec.Code)
	}
}
