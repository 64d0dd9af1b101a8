package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agendaja/agendaja/services/marketplace/internal/booking"
	"github.com/agendaja/agendaja/services/marketplace/internal/bus"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message is the wire format in both directions. Clients send join-room /
// leave-room / ping; the server pushes status-updated snapshots.
type Message struct {
	Type          string             `json:"type"`
	AppointmentID string             `json:"appointmentId,omitempty"`
	Data          *model.Appointment `json:"data,omitempty"`
}

const (
	msgJoinRoom      = "join-room"
	msgLeaveRoom     = "leave-room"
	msgStatusUpdated = "status-updated"
	msgPing          = "ping"
	msgPong          = "pong"
)

// client owns one websocket connection and its room subscriptions. When the
// connection goes away, every subscription is released so the bus registry
// does not accumulate dead entries.
type client struct {
	handler  *Handler
	conn     *websocket.Conn
	identity booking.Identity
	logger   *slog.Logger

	send chan Message
	done chan struct{}

	mu   sync.Mutex
	subs map[string]*bus.Subscription
}

func newClient(h *Handler, conn *websocket.Conn, identity booking.Identity) *client {
	return &client{
		handler:  h,
		conn:     conn,
		identity: identity,
		logger:   h.logger.With("user_id", identity.UserID),
		send:     make(chan Message, 32),
		done:     make(chan struct{}),
		subs:     make(map[string]*bus.Subscription),
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", "err", err)
			}
			return
		}

		switch msg.Type {
		case msgJoinRoom:
			c.join(msg.AppointmentID)
		case msgLeaveRoom:
			c.leave(msg.AppointmentID)
		case msgPing:
			select {
			case c.send <- Message{Type: msgPong}:
			default:
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		}
	}
}

// join subscribes the connection to one appointment room. Joining twice is
// a no-op; joining a terminal appointment is refused since no further
// events will ever arrive for it.
func (c *client) join(appointmentID string) {
	if appointmentID == "" {
		return
	}

	appt, err := c.handler.source.Get(c.handler.baseCtx, c.identity, appointmentID)
	if err != nil {
		c.logger.Warn("room join refused", "appointment_id", appointmentID, "err", err)
		return
	}
	if appt.Status.Terminal() {
		c.logger.Debug("room join skipped for terminal appointment", "appointment_id", appointmentID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[appointmentID]; ok {
		return
	}
	sub := c.handler.bus.Subscribe(appointmentID)
	c.subs[appointmentID] = sub
	go c.forward(sub)
}

func (c *client) leave(appointmentID string) {
	c.mu.Lock()
	sub, ok := c.subs[appointmentID]
	if ok {
		delete(c.subs, appointmentID)
	}
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// forward pumps one room's events to the connection. After delivering a
// terminal snapshot the subscription is released: the room is done.
func (c *client) forward(sub *bus.Subscription) {
	for snap := range sub.C {
		snap := snap
		select {
		case c.send <- Message{Type: msgStatusUpdated, AppointmentID: snap.ID, Data: &snap}:
		case <-c.done:
			return
		}
		if snap.Status.Terminal() {
			c.leave(snap.ID)
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*bus.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	close(c.done)
	_ = c.conn.Close()
}
