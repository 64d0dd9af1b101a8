package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agendaja/agendaja/services/marketplace/internal/availability"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

// MemoryStore keeps everything in process memory. It backs local development
// when no DATABASE_URL is configured (the original platform fell back to an
// in-memory database the same way) and doubles as the store for tests.
// Transitions are serialized by the mutex, so the compare-and-swap contract
// holds: of two concurrent conflicting transitions exactly one wins.
type MemoryStore struct {
	mu           sync.RWMutex
	appointments map[string]model.Appointment
	services     map[string]model.Service
	users        map[string]model.User
	schedules    map[string]map[time.Weekday]availability.Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[string]model.Appointment),
		services:     make(map[string]model.Service),
		users:        make(map[string]model.User),
		schedules:    make(map[string]map[time.Weekday]availability.Window),
	}
}

func (s *MemoryStore) CreateAppointment(_ context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.appointments[appt.ID]; exists {
		return fmt.Errorf("appointment %s already exists", appt.ID)
	}
	s.appointments[appt.ID] = *appt
	return nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return appt, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id string, from, to model.Status) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	if appt.Status != from {
		return model.Appointment{}, fmt.Errorf("%w: status is no longer %s", model.ErrInvalidTransition, from)
	}
	appt.Status = to
	s.appointments[id] = appt
	return appt, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var appts []model.Appointment
	for _, appt := range s.appointments {
		if appt.ClientID == userID || appt.ProviderID == userID {
			appts = append(appts, appt)
		}
	}
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].ScheduledDate != appts[j].ScheduledDate {
			return appts[i].ScheduledDate > appts[j].ScheduledDate
		}
		return appts[i].ScheduledTime > appts[j].ScheduledTime
	})
	if len(appts) > limit {
		appts = appts[:limit]
	}
	return appts, nil
}

func (s *MemoryStore) SetReview(_ context.Context, id, clientID string, rating int, review string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	if appt.ClientID != clientID {
		return model.Appointment{}, fmt.Errorf("%w: only the appointment's client may review it", model.ErrForbidden)
	}
	if appt.Status != model.StatusCompleted {
		return model.Appointment{}, fmt.Errorf("%w: appointment is not completed", model.ErrValidation)
	}
	if appt.Rating != 0 {
		return model.Appointment{}, fmt.Errorf("%w: appointment already reviewed", model.ErrValidation)
	}
	appt.Rating = rating
	appt.Review = review
	s.appointments[id] = appt
	return appt, nil
}

func (s *MemoryStore) BookedTimes(_ context.Context, providerID, date string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []string
	for _, appt := range s.appointments {
		if appt.ProviderID == providerID && appt.ScheduledDate == date && appt.Status != model.StatusCancelled {
			times = append(times, appt.ScheduledTime)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (s *MemoryStore) GetService(_ context.Context, id string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return model.Service{}, fmt.Errorf("%w: service %s", model.ErrNotFound, id)
	}
	return svc, nil
}

func (s *MemoryStore) ListServicesByProvider(_ context.Context, providerID string) ([]model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var services []model.Service
	for _, svc := range s.services {
		if svc.ProviderID == providerID {
			services = append(services, svc)
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Title < services[j].Title })
	return services, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	return u, nil
}

func (s *MemoryStore) WorkingWindow(_ context.Context, providerID string, weekday time.Weekday) (availability.Window, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	win, ok := s.schedules[providerID][weekday]
	return win, ok, nil
}

// Seed helpers for development and tests.

func (s *MemoryStore) AddService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *MemoryStore) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *MemoryStore) SetWorkingWindow(providerID string, weekday time.Weekday, win availability.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules[providerID] == nil {
		s.schedules[providerID] = make(map[time.Weekday]availability.Window)
	}
	s.schedules[providerID][weekday] = win
}
