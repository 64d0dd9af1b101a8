package bus

import (
	"log/slog"
	"testing"
	"time"

	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func TestPublishReachesSubscribers(t *testing.T) {
	b := newTestBus()
	sub1 := b.Subscribe("apt-1")
	sub2 := b.Subscribe("apt-1")
	other := b.Subscribe("apt-2")

	b.Publish("apt-1", model.Appointment{ID: "apt-1", Status: model.StatusConfirmed})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case snap := <-sub.C:
			if snap.Status != model.StatusConfirmed {
				t.Fatalf("expected confirmed, got %s", snap.Status)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other.C:
		t.Fatal("apt-2 subscriber received apt-1 event")
	default:
	}
}

func TestLateSubscriberMissesPastEvents(t *testing.T) {
	b := newTestBus()
	b.Publish("apt-1", model.Appointment{ID: "apt-1", Status: model.StatusConfirmed})

	sub := b.Subscribe("apt-1")
	select {
	case <-sub.C:
		t.Fatal("late subscriber should not receive past events")
	default:
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe("apt-1")
	sub.Close()
	sub.Close() // idempotent

	b.Publish("apt-1", model.Appointment{ID: "apt-1", Status: model.StatusConfirmed})

	if _, ok := <-sub.C; ok {
		t.Fatal("closed subscription should not receive events")
	}
	if n := b.Subscribers("apt-1"); n != 0 {
		t.Fatalf("expected empty room after close, got %d subscribers", n)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe("apt-1")

	done := make(chan struct{})
	go func() {
		// Nobody drains sub.C; publishes beyond the buffer must drop, not block.
		for i := 0; i < defaultBuffer+10; i++ {
			b.Publish("apt-1", model.Appointment{ID: "apt-1", Status: model.StatusPending})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	sub.Close()
}

func TestOrderingPerSubscriber(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe("apt-1")

	sequence := []model.Status{model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted}
	for _, s := range sequence {
		b.Publish("apt-1", model.Appointment{ID: "apt-1", Status: s})
	}

	for i, want := range sequence {
		select {
		case snap := <-sub.C:
			if snap.Status != want {
				t.Fatalf("event %d: expected %s, got %s", i, want, snap.Status)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}
