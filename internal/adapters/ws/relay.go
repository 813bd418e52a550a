package ws

import (
	"encoding/json"

	"github.com/google/uuid"

	"keyroom/internal/app"
)

// Relay events are opaque to the coordinator: message bodies, reactions,
// typing and location updates are fanned out to the sender's room
// without inspection. Messages get a server-minted id so reactions and
// deletes can reference them.

// includeSender lists the relay events the originator also receives
// (matching how reacts and locations echo back to everyone).
var includeSender = map[string]bool{
	"deleteMessage": true,
	"react":         true,
	"location":      true,
}

func (ctl *Controller) handleRelay(sess *session, event string, data []byte) {
	if !sess.inRoom() {
		ctl.sendError(sess, 400, "not in a room")
		return
	}
	group := app.MemberGroup(sess.key)

	switch event {
	case "newMessage":
		msgID := uuid.NewString()
		payload := struct {
			ID      string          `json:"id"`
			From    string          `json:"from"`
			Message json.RawMessage `json:"message"`
		}{ID: msgID, From: sess.uid, Message: data}
		ctl.Hub.BroadcastToGroup(group, sess.id, event, payload)
		// The sender learns the minted id from the ack.
		ctl.Hub.EmitToConnection(sess.id, "messageSent", struct {
			ID string `json:"id"`
		}{ID: msgID})
	default:
		payload := struct {
			From string          `json:"from"`
			Data json.RawMessage `json:"data"`
		}{From: sess.uid, Data: data}
		if includeSender[event] {
			ctl.Hub.EmitToGroup(group, event, payload)
		} else {
			ctl.Hub.BroadcastToGroup(group, sess.id, event, payload)
		}
	}
}
