// Package ws exposes the live status channel. Browsers connect once, join a
// room per visible non-terminal appointment and re-render on pushed
// snapshots instead of polling.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agendaja/agendaja/libs/auth"
	"github.com/agendaja/agendaja/services/marketplace/internal/booking"
	"github.com/agendaja/agendaja/services/marketplace/internal/bus"
	"github.com/agendaja/agendaja/services/marketplace/internal/model"
)

// AppointmentSource authorizes room joins: only an appointment's
// participants (or an admin) may watch it.
type AppointmentSource interface {
	Get(ctx context.Context, caller booking.Identity, appointmentID string) (model.Appointment, error)
}

type Handler struct {
	source    AppointmentSource
	bus       *bus.Bus
	jwtSecret string
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	baseCtx   context.Context
}

func NewHandler(ctx context.Context, source AppointmentSource, b *bus.Bus, jwtSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		source:    source,
		bus:       b,
		jwtSecret: jwtSecret,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS layer in front of
			// the API; the websocket accepts any origin that got this far.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		baseCtx: ctx,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "missing or invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := newClient(h, conn, identity)
	h.logger.Info("websocket client connected", "user_id", identity.UserID)
	c.run()
	h.logger.Info("websocket client disconnected", "user_id", identity.UserID)
}

// authenticate accepts the bearer token either as a header or as a ?token=
// query parameter, since browser websocket clients cannot set headers.
func (h *Handler) authenticate(r *http.Request) (booking.Identity, error) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if token == "" {
		return booking.Identity{}, auth.ErrInvalidToken
	}

	claims, err := auth.ParseAndVerifyHS256(token, h.jwtSecret)
	if err != nil {
		return booking.Identity{}, err
	}
	return booking.Identity{UserID: claims.Sub, Role: claims.Role}, nil
}
