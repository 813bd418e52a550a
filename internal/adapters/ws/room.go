package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"keyroom/internal/app"
	"keyroom/internal/domain"
)

// statusOf maps the error taxonomy to the status codes the client
// renders on the pre-join screen.
func statusOf(err error) (int, string) {
	switch {
	case domain.IsValidation(err):
		return 400, err.Error()
	case errors.Is(err, domain.ErrRoomNotFound):
		return 404, "Key Does Not Exist"
	case errors.Is(err, domain.ErrRoomFull):
		return 401, "Key Full"
	case errors.Is(err, domain.ErrNotAdmin):
		return 403, "Not Allowed"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return 502, "Database Unavailable"
	default:
		return 500, "Server Error"
	}
}

type keyDataReply struct {
	Success    bool                     `json:"success"`
	StatusCode int                      `json:"statusCode"`
	Message    string                   `json:"message"`
	Users      map[string]domain.Member `json:"users"`
	MaxUsers   int                      `json:"maxUsers,omitempty"`
}

// handleFetchKeyData answers an availability query and parks the
// connection in the waiting room so its pre-join UI stays live.
func (ctl *Controller) handleFetchKeyData(ctx context.Context, sess *session, data []byte) {
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, 400, "bad payload")
		return
	}

	avail, err := ctl.Rooms.Check(ctx, p.Key)
	if err != nil {
		code, msg := statusOf(err)
		ctl.Hub.EmitToConnection(sess.id, "keyData", keyDataReply{
			Success: false, StatusCode: code, Message: msg,
			Users: map[string]domain.Member{},
		})
		return
	}

	ctl.Hub.JoinGroup(sess.id, app.WaitingGroup(p.Key))
	log.Debug().Str("module", "ws").Str("conn", string(sess.id)).Str("key", p.Key).Msg("joined waiting room")
	ctl.Hub.EmitToConnection(sess.id, "keyData", keyDataReply{
		Success: true, StatusCode: 200, Message: "Available",
		Users: avail.Members, MaxUsers: avail.Max,
	})
}

type roomReply struct {
	Success  bool                     `json:"success"`
	Message  string                   `json:"message"`
	Key      string                   `json:"key,omitempty"`
	UserID   string                   `json:"userId,omitempty"`
	MaxUsers int                      `json:"maxUsers,omitempty"`
	Users    map[string]domain.Member `json:"users,omitempty"`
}

func (ctl *Controller) handleCreate(ctx context.Context, sess *session, data []byte) {
	var p struct {
		domain.MemberInput
		MaxUsers int `json:"maxUsers"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, 400, "bad payload")
		return
	}
	if sess.inRoom() {
		ctl.sendError(sess, 400, "already in a room")
		return
	}

	state, err := ctl.Rooms.Create(ctx, p.MaxUsers, p.MemberInput)
	if err != nil {
		code, msg := statusOf(err)
		ctl.Hub.EmitToConnection(sess.id, "created", roomReply{Success: false, Message: msg})
		log.Warn().Err(err).Int("status", code).Str("module", "ws").Msg("create rejected")
		return
	}
	ctl.enterRoom(ctx, sess, state)
	// The roster broadcast fired before this connection entered the
	// member group, so the reply carries it instead.
	ctl.Hub.EmitToConnection(sess.id, "created", roomReply{
		Success: true, Message: "Chat Created",
		Key: state.Room.Key, UserID: state.Me.UID, MaxUsers: state.Room.MaxMembers,
		Users: map[string]domain.Member{state.Me.UID: state.Me},
	})
	ctl.Presence.Notify(sess.id, "You joined the chat", "join")
}

func (ctl *Controller) handleJoin(ctx context.Context, sess *session, data []byte) {
	var p struct {
		domain.MemberInput
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, 400, "bad payload")
		return
	}
	if sess.inRoom() {
		ctl.sendError(sess, 400, "already in a room")
		return
	}

	state, err := ctl.Rooms.Join(ctx, p.Key, p.MemberInput)
	if err != nil {
		code, msg := statusOf(err)
		ctl.Hub.EmitToConnection(sess.id, "joined", roomReply{Success: false, Message: msg})
		log.Warn().Err(err).Int("status", code).Str("module", "ws").Str("key", p.Key).Msg("join rejected")
		return
	}

	roster := make(map[string]domain.Member, len(state.Members))
	for _, m := range state.Members {
		roster[m.UID] = m
	}
	ctl.enterRoom(ctx, sess, state)
	ctl.Hub.EmitToConnection(sess.id, "joined", roomReply{
		Success: true, Message: "Chat Joined",
		Key: state.Room.Key, UserID: state.Me.UID, MaxUsers: state.Room.MaxMembers,
		Users: roster,
	})
	ctl.Presence.Notify(sess.id, "You joined the chat", "join")
	ctl.Presence.Announce(state.Room.Key, fmt.Sprintf("%s joined the chat", state.Me.Name), "join", sess.id)
}

// enterRoom binds the session both in the store and locally.
func (ctl *Controller) enterRoom(ctx context.Context, sess *session, state *app.RoomState) {
	if err := ctl.Binder.Bind(ctx, sess.id, state.Room.Key, state.Me.UID, state.Me.Name); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("conn", string(sess.id)).Msg("session bind")
	}
	sess.key = state.Room.Key
	sess.uid = state.Me.UID
	sess.name = state.Me.Name
}

func (ctl *Controller) handleLeave(ctx context.Context, sess *session) {
	ctl.Binder.Release(ctx, sess.id)
	sess.key, sess.uid, sess.name = "", "", ""
	ctl.Hub.EmitToConnection(sess.id, "left", struct{}{})
}

func (ctl *Controller) handleDestroy(ctx context.Context, sess *session) {
	if !sess.inRoom() {
		ctl.sendError(sess, 400, "not in a room")
		return
	}
	if err := ctl.Rooms.Destroy(ctx, sess.key, sess.uid); err != nil {
		code, msg := statusOf(err)
		ctl.sendError(sess, code, msg)
		return
	}
	ctl.Binder.Release(ctx, sess.id)
	sess.key, sess.uid, sess.name = "", "", ""
	ctl.Hub.EmitToConnection(sess.id, "destroyed", struct{}{})
}
