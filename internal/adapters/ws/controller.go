// Package ws is the WebSocket face of the coordinator: one connection
// per client, JSON event envelopes in both directions.
package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"keyroom/internal/app"
	"keyroom/internal/transport"
)

const outboxSize = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Rooms    *app.RoomRegistry
	Binder   *app.SessionBinder
	Presence *app.Presence
	Hub      *transport.Hub

	ReadLimit int64
}

// session is the connection-local view of the binding. It is touched
// only by the connection's read goroutine, so no lock. The store holds
// the authoritative copy; this one just routes relay events.
type session struct {
	conn *transport.Conn
	id   transport.ConnID

	key  string
	uid  string
	name string
}

func (s *session) inRoom() bool { return s.key != "" }

// Handle upgrades the request and runs the connection until it drops.
// Cleanup is registered exactly once here, not per join, so repeated
// joins on one connection cannot stack handlers.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	id := transport.ConnID(uuid.NewString())
	conn := transport.NewConn(id, outboxSize)
	ctl.Hub.Register(conn)
	log.Info().Str("module", "ws").Str("conn", string(id)).Msg("connected")

	sess := &session{conn: conn, id: id}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go ctl.writePump(ctx, ws, conn)
	ctl.readPump(ctx, ws, sess)

	// The read pump returned: the connection is gone or shutting down.
	// Release must still run to completion so the member's room record
	// does not leak; context cancellation must not cut it short.
	ctl.Binder.Release(context.WithoutCancel(ctx), id)
	ctl.Hub.Unregister(id)
	log.Info().Str("module", "ws").Str("conn", string(id)).Msg("disconnected")
}
