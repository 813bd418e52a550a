package app

import (
	"github.com/google/uuid"

	"keyroom/internal/domain"
	"keyroom/internal/transport"
)

// Event names shared with the client.
const (
	EvUserList        = "updateUserList"
	EvUserListWaiting = "updateUserListWR"
	EvRoomDestroyed   = "roomDestroyed"
	EvServerMessage   = "server_message"
	EvFileShared      = "fileShared"
)

// MemberGroup and WaitingGroup name the two audiences of a room: joined
// members, and onlookers who checked availability but have not joined.
func MemberGroup(key string) string  { return "chat:" + key }
func WaitingGroup(key string) string { return "waiting:" + key }

// Presence derives membership events and emits them to the right
// audience. Onlookers get a privacy-reduced roster with no key material.
type Presence struct {
	hub transport.Emitter
}

func NewPresence(hub transport.Emitter) *Presence {
	return &Presence{hub: hub}
}

// RoomState pushes the full roster to members and the reduced roster to
// the waiting room.
func (p *Presence) RoomState(key string, roster []domain.Member) {
	full := make(map[string]domain.Member, len(roster))
	reduced := make(map[string]domain.Member, len(roster))
	for _, m := range roster {
		full[m.UID] = m
		reduced[m.UID] = m.PublicView()
	}
	p.hub.EmitToGroup(MemberGroup(key), EvUserList, full)
	p.hub.EmitToGroup(WaitingGroup(key), EvUserListWaiting, reduced)
}

// RoomDestroyed is the terminal signal, distinct from an ordinary roster
// update; the waiting room sees an empty roster.
func (p *Presence) RoomDestroyed(key string) {
	p.hub.EmitToGroup(MemberGroup(key), EvRoomDestroyed, struct{}{})
	p.hub.EmitToGroup(WaitingGroup(key), EvUserListWaiting, map[string]domain.Member{})
}

type serverMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Kind string `json:"kind"`
}

// Announce sends a chat-level notice ("X joined", "X left") to the
// member group, optionally skipping the originator.
func (p *Presence) Announce(key, text, kind string, except transport.ConnID) {
	msg := serverMessage{ID: uuid.NewString(), Text: text, Kind: kind}
	p.hub.BroadcastToGroup(MemberGroup(key), except, EvServerMessage, msg)
}

// Notify sends a notice to a single connection.
func (p *Presence) Notify(conn transport.ConnID, text, kind string) {
	msg := serverMessage{ID: uuid.NewString(), Text: text, Kind: kind}
	p.hub.EmitToConnection(conn, EvServerMessage, msg)
}

type fileShared struct {
	FileID   string `json:"fileId"`
	OwnerUID string `json:"owner"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}

// FileShared tells the room a file is ready to download.
func (p *Presence) FileShared(key string, f domain.SharedFile) {
	p.hub.EmitToGroup(MemberGroup(key), EvFileShared, fileShared{
		FileID:   f.ID,
		OwnerUID: f.OwnerUID,
		Name:     f.Name,
		Size:     f.Size,
	})
}
