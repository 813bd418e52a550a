package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"keyroom/internal/transport"
)

const writeWait = 5 * time.Second

type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (ctl *Controller) writePump(ctx context.Context, ws *websocket.Conn, conn *transport.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-conn.Outbox():
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump write")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, ws *websocket.Conn, sess *session) {
	defer func() {
		_ = ws.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("conn", string(sess.id)).Msg("readPump read")
				return
			}
			ctl.dispatch(ctx, sess, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, sess *session, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad envelope")
		ctl.sendError(sess, 400, "bad payload")
		return
	}

	switch frame.Event {
	case "fetchKeyData":
		ctl.handleFetchKeyData(ctx, sess, frame.Data)
	case "createChat":
		ctl.handleCreate(ctx, sess, frame.Data)
	case "joinChat":
		ctl.handleJoin(ctx, sess, frame.Data)
	case "leaveChat":
		ctl.handleLeave(ctx, sess)
	case "destroyChat":
		ctl.handleDestroy(ctx, sess)
	case "ping":
		ctl.Hub.EmitToConnection(sess.id, "pong", struct{}{})
	case "newMessage", "deleteMessage", "react", "seen", "typing", "location":
		ctl.handleRelay(sess, frame.Event, frame.Data)
	default:
		log.Warn().Str("module", "ws").Str("event", frame.Event).Msg("unknown event")
	}
}

type wsError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (ctl *Controller) sendError(sess *session, code int, msg string) {
	ctl.Hub.EmitToConnection(sess.id, "error", wsError{StatusCode: code, Message: msg})
}
