// Package bus is the in-process status event bus. Rooms are keyed by
// appointment ID; every committed status transition is published to the
// room's current subscribers. There is no persistence or replay: a
// subscriber that joins after a publish must re-fetch current state.
package bus

import (
	"log/slog"
	"sync"

	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

const defaultBuffer = 16

type Bus struct {
	logger *slog.Logger
	buffer int

	mu    sync.RWMutex
	rooms map[string]map[*Subscription]struct{}
}

// Subscription is a cancellable handle on one appointment room. Snapshots
// arrive on C in the order their transitions committed. Close is idempotent
// and safe to call concurrently with Publish.
type Subscription struct {
	AppointmentID string
	C             chan model.Appointment

	bus  *Bus
	once sync.Once
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		buffer: defaultBuffer,
		rooms:  make(map[string]map[*Subscription]struct{}),
	}
}

func (b *Bus) Subscribe(appointmentID string) *Subscription {
	sub := &Subscription{
		AppointmentID: appointmentID,
		C:             make(chan model.Appointment, b.buffer),
		bus:           b,
	}

	b.mu.Lock()
	room := b.rooms[appointmentID]
	if room == nil {
		room = make(map[*Subscription]struct{})
		b.rooms[appointmentID] = room
	}
	room[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish fans a snapshot out to every current subscriber of the
// appointment's room. Delivery is fire-and-forget per subscriber: a
// subscriber whose buffer is full misses the event rather than blocking
// the publisher or the other subscribers.
func (b *Bus) Publish(appointmentID string, snapshot model.Appointment) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.rooms[appointmentID] {
		select {
		case sub.C <- snapshot:
		default:
			b.logger.Warn("dropping status event for slow subscriber",
				"appointment_id", appointmentID, "status", snapshot.Status)
		}
	}
}

// Subscribers returns the current subscriber count for an appointment room.
func (b *Bus) Subscribers(appointmentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[appointmentID])
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		if room, ok := b.rooms[s.AppointmentID]; ok {
			delete(room, s)
			if len(room) == 0 {
				delete(b.rooms, s.AppointmentID)
			}
		}
		b.mu.Unlock()
		close(s.C)
	})
}
