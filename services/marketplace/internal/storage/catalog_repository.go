package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agendaja/agendaja/libs/db"
	"github.com/agendaja/agendaja/services/marketplace/internal/availability"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

// CatalogRepository reads the service catalog, user store and provider
// schedules. All of these are owned by other parts of the platform; the
// marketplace core only ever reads them.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) GetService(ctx context.Context, id string) (model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, COALESCE(description, ''), provider_id, price, duration_minutes
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Title, &svc.Description, &svc.ProviderID, &svc.Price, &svc.DurationMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, fmt.Errorf("%w: service %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

func (r *CatalogRepository) ListServicesByProvider(ctx context.Context, providerID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, COALESCE(description, ''), provider_id, price, duration_minutes
		FROM services
		WHERE provider_id = $1
		ORDER BY title
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.Title, &svc.Description, &svc.ProviderID, &svc.Price, &svc.DurationMinutes); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return services, nil
}

func (r *CatalogRepository) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, role
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: user %s", model.ErrNotFound, id)
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// WorkingWindow returns the provider's configured hours for a weekday.
func (r *CatalogRepository) WorkingWindow(ctx context.Context, providerID string, weekday time.Weekday) (availability.Window, bool, error) {
	var win availability.Window
	err := r.pool.QueryRow(ctx, `
		SELECT work_start, work_end, slot_minutes
		FROM provider_schedules
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int(weekday)).Scan(&win.Start, &win.End, &win.StepMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return availability.Window{}, false, nil
	}
	if err != nil {
		return availability.Window{}, false, err
	}
	return win, true, nil
}
