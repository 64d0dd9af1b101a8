package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agendaja/agendaja/libs/db"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
	"github.com/agendaja/agendaja/services/marketplace/internal/outbox"
)

const appointmentColumns = `id, service_id, provider_id, client_id, scheduled_date, scheduled_time,
	status, address, notes, COALESCE(rating, 0), COALESCE(review, ''), created_at`

// AppointmentRepository is the Postgres-backed appointment store. Lifecycle
// changes and their outbox events commit in one transaction.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

func (r *AppointmentRepository) CreateAppointment(ctx context.Context, appt *model.Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, service_id, provider_id, client_id, scheduled_date, scheduled_time, status, address, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, appt.ID, appt.ServiceID, appt.ProviderID, appt.ClientID, appt.ScheduledDate, appt.ScheduledTime,
		appt.Status, appt.Address, appt.Notes, appt.CreatedAt)
	if err != nil {
		return err
	}

	if err := r.insertEvent(ctx, tx, outbox.EventAppointmentBooked, *appt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return r.get(ctx, r.pool, id)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *AppointmentRepository) get(ctx context.Context, q rowQuerier, id string) (model.Appointment, error) {
	var appt model.Appointment
	err := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id).Scan(
		&appt.ID,
		&appt.ServiceID,
		&appt.ProviderID,
		&appt.ClientID,
		&appt.ScheduledDate,
		&appt.ScheduledTime,
		&appt.Status,
		&appt.Address,
		&appt.Notes,
		&appt.Rating,
		&appt.Review,
		&appt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// TransitionStatus compares-and-swaps the status column. The WHERE clause
// carries the expected from-status, so of two concurrent conflicting
// transitions exactly one matches a row; the loser gets ErrInvalidTransition.
func (r *AppointmentRepository) TransitionStatus(ctx context.Context, id string, from, to model.Status) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("%w: %v", model.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var appt model.Appointment
	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, to).Scan(
		&appt.ID,
		&appt.ServiceID,
		&appt.ProviderID,
		&appt.ClientID,
		&appt.ScheduledDate,
		&appt.ScheduledTime,
		&appt.Status,
		&appt.Address,
		&appt.Notes,
		&appt.Rating,
		&appt.Review,
		&appt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or someone else transitioned it first.
		if _, getErr := r.get(ctx, tx, id); errors.Is(getErr, model.ErrNotFound) {
			return model.Appointment{}, getErr
		}
		return model.Appointment{}, fmt.Errorf("%w: status is no longer %s", model.ErrInvalidTransition, from)
	}
	if err != nil {
		return model.Appointment{}, err
	}

	if err := r.insertEvent(ctx, tx, outbox.EventAppointmentStatusChanged, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1 OR provider_id = $1
		ORDER BY scheduled_date DESC, scheduled_time DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		if err := rows.Scan(
			&appt.ID,
			&appt.ServiceID,
			&appt.ProviderID,
			&appt.ClientID,
			&appt.ScheduledDate,
			&appt.ScheduledTime,
			&appt.Status,
			&appt.Address,
			&appt.Notes,
			&appt.Rating,
			&appt.Review,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) SetReview(ctx context.Context, id, clientID string, rating int, review string) (model.Appointment, error) {
	var appt model.Appointment
	err := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET rating = $3, review = $4
		WHERE id = $1 AND client_id = $2 AND status = 'completed' AND COALESCE(rating, 0) = 0
		RETURNING `+appointmentColumns+`
	`, id, clientID, rating, review).Scan(
		&appt.ID,
		&appt.ServiceID,
		&appt.ProviderID,
		&appt.ClientID,
		&appt.ScheduledDate,
		&appt.ScheduledTime,
		&appt.Status,
		&appt.Address,
		&appt.Notes,
		&appt.Rating,
		&appt.Review,
		&appt.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, r.classifyReviewFailure(ctx, id, clientID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) classifyReviewFailure(ctx context.Context, id, clientID string) error {
	appt, err := r.get(ctx, r.pool, id)
	if err != nil {
		return err
	}
	if appt.ClientID != clientID {
		return fmt.Errorf("%w: only the appointment's client may review it", model.ErrForbidden)
	}
	if appt.Status != model.StatusCompleted {
		return fmt.Errorf("%w: appointment is not completed", model.ErrValidation)
	}
	return fmt.Errorf("%w: appointment already reviewed", model.ErrValidation)
}

// BookedTimes feeds the availability resolver: times already held on a date
// by appointments that still block the slot.
func (r *AppointmentRepository) BookedTimes(ctx context.Context, providerID, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_time
		FROM appointments
		WHERE provider_id = $1 AND scheduled_date = $2 AND status <> 'cancelled'
		ORDER BY scheduled_time
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return times, nil
}

func (r *AppointmentRepository) insertEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(appt)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}
