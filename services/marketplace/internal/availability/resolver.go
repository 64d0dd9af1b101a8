package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

const dateLayout = "2006-01-02"

// ScheduleSource exposes provider working hours. The second return value is
// false when the provider has nothing configured for that weekday.
type ScheduleSource interface {
	WorkingWindow(ctx context.Context, providerID string, weekday time.Weekday) (Window, bool, error)
}

// BookedSource lists HH:MM times already held by non-cancelled appointments.
type BookedSource interface {
	BookedTimes(ctx context.Context, providerID, date string) ([]string, error)
}

// Resolver computes bookable slots for a provider and date: the configured
// working window stepped by slot length, minus times already booked. An
// empty result means the provider has no schedule for that day (or is fully
// booked); callers decide what to offer instead.
type Resolver struct {
	schedules ScheduleSource
	booked    BookedSource
}

func NewResolver(schedules ScheduleSource, booked BookedSource) *Resolver {
	return &Resolver{schedules: schedules, booked: booked}
}

func (r *Resolver) Slots(ctx context.Context, providerID, date string) ([]string, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", model.ErrValidation, date)
	}

	win, ok, err := r.schedules.WorkingWindow(ctx, providerID, day.Weekday())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	taken, err := r.booked.BookedTimes(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	return SlotTimes(win, taken), nil
}
