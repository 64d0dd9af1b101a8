// Package booking coordinates appointment creation and status transitions.
// The coordinator is the only writer of appointment state: handlers and the
// websocket layer never touch the store directly.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agendaja/agendaja/services/marketplace/internal/availability"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Identity is the verified caller, as supplied by the identity collaborator.
type Identity struct {
	UserID string
	Role   string
}

func (id Identity) Admin() bool { return id.Role == model.RoleAdmin }

// Store persists appointments. TransitionStatus must be atomic: the stored
// status is compared-and-swapped from `from` to `to`, and a mismatch fails
// with model.ErrInvalidTransition without changing the record.
type Store interface {
	CreateAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	TransitionStatus(ctx context.Context, id string, from, to model.Status) (model.Appointment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error)
	SetReview(ctx context.Context, id, clientID string, rating int, review string) (model.Appointment, error)
}

// Catalog is the read-only service/user lookup collaborator.
type Catalog interface {
	GetService(ctx context.Context, id string) (model.Service, error)
	GetUser(ctx context.Context, id string) (model.User, error)
}

// SlotSource yields bookable times for a provider and date.
type SlotSource interface {
	Slots(ctx context.Context, providerID, date string) ([]string, error)
}

// Publisher receives a snapshot for every committed status transition.
type Publisher interface {
	Publish(appointmentID string, snapshot model.Appointment)
}

type Coordinator struct {
	store   Store
	catalog Catalog
	slots   SlotSource
	events  Publisher
	logger  *slog.Logger
}

func NewCoordinator(store Store, catalog Catalog, slots SlotSource, events Publisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		catalog: catalog,
		slots:   slots,
		events:  events,
		logger:  logger,
	}
}

type CreateRequest struct {
	ServiceID     string
	ProviderID    string
	ScheduledDate string
	ScheduledTime string
	Address       string
	Notes         string
}

// CreateAppointment validates the request against the catalog and the
// availability resolver and creates the appointment in pending status.
// When the resolver has no schedule for the provider/date, the request is
// checked against the fixed default slot set instead, matching what the
// booking UI offers in that case.
func (c *Coordinator) CreateAppointment(ctx context.Context, caller Identity, req CreateRequest) (model.Appointment, error) {
	if caller.UserID == "" {
		return model.Appointment{}, model.ErrUnauthorized
	}
	if req.ServiceID == "" {
		return model.Appointment{}, fmt.Errorf("%w: serviceId is required", model.ErrValidation)
	}
	if _, err := time.Parse(dateLayout, req.ScheduledDate); err != nil {
		return model.Appointment{}, fmt.Errorf("%w: scheduledDate must be YYYY-MM-DD", model.ErrValidation)
	}
	if _, err := time.Parse(clockLayout, req.ScheduledTime); err != nil {
		return model.Appointment{}, fmt.Errorf("%w: scheduledTime must be HH:MM", model.ErrValidation)
	}

	svc, err := c.catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if req.ProviderID != "" && req.ProviderID != svc.ProviderID {
		return model.Appointment{}, fmt.Errorf("%w: providerId does not match the service's provider", model.ErrValidation)
	}
	provider, err := c.catalog.GetUser(ctx, svc.ProviderID)
	if err != nil {
		return model.Appointment{}, err
	}

	slots, err := c.slots.Slots(ctx, provider.ID, req.ScheduledDate)
	if err != nil {
		return model.Appointment{}, err
	}
	if len(slots) == 0 {
		slots = availability.DefaultSlots
	}
	if !availability.Contains(slots, req.ScheduledTime) {
		return model.Appointment{}, fmt.Errorf("%w: %s is not an available slot", model.ErrValidation, req.ScheduledTime)
	}

	appt := model.Appointment{
		ID:            uuid.NewString(),
		ServiceID:     svc.ID,
		ProviderID:    provider.ID,
		ClientID:      caller.UserID,
		ScheduledDate: req.ScheduledDate,
		ScheduledTime: req.ScheduledTime,
		Status:        model.StatusPending,
		Address:       req.Address,
		Notes:         req.Notes,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateAppointment(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}

	c.logger.Info("appointment created",
		"appointment_id", appt.ID, "service_id", svc.ID, "provider_id", provider.ID, "client_id", caller.UserID)
	return appt, nil
}

// TransitionStatus applies one edge of the state machine on behalf of the
// caller. On success the committed snapshot is published to the event bus
// before returning, so connected dashboards see the change without polling.
func (c *Coordinator) TransitionStatus(ctx context.Context, caller Identity, appointmentID, requested string) (model.Appointment, error) {
	if caller.UserID == "" {
		return model.Appointment{}, model.ErrUnauthorized
	}
	target, err := model.ParseStatus(requested)
	if err != nil {
		return model.Appointment{}, err
	}

	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := authorizeTransition(caller, appt, target); err != nil {
		return model.Appointment{}, err
	}
	if !model.CanTransition(appt.Status, target) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, appt.Status, target)
	}

	updated, err := c.store.TransitionStatus(ctx, appointmentID, appt.Status, target)
	if err != nil {
		return model.Appointment{}, err
	}

	c.events.Publish(updated.ID, updated)
	c.logger.Info("appointment status changed",
		"appointment_id", updated.ID, "from", appt.Status, "to", updated.Status, "by", caller.UserID)
	return updated, nil
}

// authorizeTransition encodes who may pull which lever: clients may only
// cancel their own appointments (from pending or confirmed), providers
// drive the rest of their own appointments' lifecycle, admins may do both.
func authorizeTransition(caller Identity, appt model.Appointment, target model.Status) error {
	if caller.Admin() {
		return nil
	}
	if caller.UserID == appt.ClientID {
		if target == model.StatusCancelled {
			return nil
		}
		return fmt.Errorf("%w: clients may only cancel", model.ErrForbidden)
	}
	if caller.UserID == appt.ProviderID {
		return nil
	}
	return fmt.Errorf("%w: not a participant of this appointment", model.ErrForbidden)
}

// Get returns an appointment to its participants (or an admin).
func (c *Coordinator) Get(ctx context.Context, caller Identity, appointmentID string) (model.Appointment, error) {
	if caller.UserID == "" {
		return model.Appointment{}, model.ErrUnauthorized
	}
	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !caller.Admin() && caller.UserID != appt.ClientID && caller.UserID != appt.ProviderID {
		return model.Appointment{}, fmt.Errorf("%w: not a participant of this appointment", model.ErrForbidden)
	}
	return appt, nil
}

// ListForCaller returns the caller's appointments, as client or provider.
func (c *Coordinator) ListForCaller(ctx context.Context, caller Identity, limit int) ([]model.Appointment, error) {
	if caller.UserID == "" {
		return nil, model.ErrUnauthorized
	}
	return c.store.ListByUser(ctx, caller.UserID, limit)
}

// Availability is the public slot lookup; it requires no identity.
func (c *Coordinator) Availability(ctx context.Context, providerID, date string) ([]string, error) {
	if providerID == "" {
		return nil, fmt.Errorf("%w: providerId is required", model.ErrValidation)
	}
	return c.slots.Slots(ctx, providerID, date)
}

// AttachReview lets the client rate a completed appointment once.
func (c *Coordinator) AttachReview(ctx context.Context, caller Identity, appointmentID string, rating int, review string) (model.Appointment, error) {
	if caller.UserID == "" {
		return model.Appointment{}, model.ErrUnauthorized
	}
	if rating < 1 || rating > 5 {
		return model.Appointment{}, fmt.Errorf("%w: rating must be between 1 and 5", model.ErrValidation)
	}
	return c.store.SetReview(ctx, appointmentID, caller.UserID, rating, review)
}
