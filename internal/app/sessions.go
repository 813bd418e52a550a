package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"keyroom/internal/store"
	"keyroom/internal/transport"
)

// SessionBinder maps live connections to (room, member) and performs the
// one-and-only cleanup when a connection goes away. Both the explicit
// leave message and the later disconnect event funnel through Release;
// the atomic take of the binding guarantees a single decrement.
type SessionBinder struct {
	store store.Store
	rooms *RoomRegistry
	hub   transport.Emitter
}

func NewSessionBinder(s store.Store, rooms *RoomRegistry, hub transport.Emitter) *SessionBinder {
	return &SessionBinder{store: s, rooms: rooms, hub: hub}
}

// Bind records the connection's binding, overwriting any stale one, and
// moves the connection from the waiting room into the member group.
func (b *SessionBinder) Bind(ctx context.Context, connID transport.ConnID, key, uid, name string) error {
	if err := b.store.BindSession(ctx, string(connID), key, uid, name); err != nil {
		return err
	}
	b.hub.LeaveGroup(connID, WaitingGroup(key))
	b.hub.JoinGroup(connID, MemberGroup(key))
	log.Info().Str("module", "app.sessions").Str("conn", string(connID)).Str("key", key).Str("uid", uid).Msg("session bound")
	return nil
}

// Release tears down the binding. Safe to call any number of times; the
// connection is going away regardless, so store trouble is logged and
// swallowed rather than surfaced.
func (b *SessionBinder) Release(ctx context.Context, connID transport.ConnID) {
	key, uid, name, ok, err := b.store.TakeSession(ctx, string(connID))
	if err != nil {
		log.Error().Err(err).Str("module", "app.sessions").Str("conn", string(connID)).Msg("session lookup during release")
		return
	}
	if !ok {
		return // already cleaned up
	}

	b.hub.LeaveGroup(connID, MemberGroup(key))
	b.hub.LeaveGroup(connID, WaitingGroup(key))

	if err := b.rooms.release(ctx, key, uid, name); err != nil {
		log.Error().Err(err).Str("module", "app.sessions").Str("conn", string(connID)).Str("key", key).Msg("member release")
	}
}
