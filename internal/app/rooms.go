package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"keyroom/internal/blob"
	"keyroom/internal/domain"
	"keyroom/internal/keygen"
	"keyroom/internal/store"
)

// RoomRegistry owns the room lifecycle: create, capacity-bounded join,
// admin destroy, and the decrement-and-maybe-destroy step every member
// release goes through. All mutations commit through the store's atomic
// primitives; the per-room lock only keeps presence events in commit
// order.
type RoomRegistry struct {
	store    store.Store
	keys     *keygen.Generator
	blobs    *blob.Store
	presence *Presence
	locks    *keyedMutex
}

func NewRoomRegistry(s store.Store, b *blob.Store, p *Presence) *RoomRegistry {
	return &RoomRegistry{
		store:    s,
		keys:     keygen.New(s),
		blobs:    b,
		presence: p,
		locks:    newKeyedMutex(),
	}
}

// RoomState is what a successful create/join hands back to the caller's
// client: the room, the caller's assigned identity and the roster.
type RoomState struct {
	Room    domain.Room
	Me      domain.Member
	Members []domain.Member
}

// Availability is the pre-join view for the waiting room.
type Availability struct {
	Members map[string]domain.Member
	Max     int
}

func (r *RoomRegistry) Create(ctx context.Context, maxMembers int, in domain.MemberInput) (*RoomState, error) {
	if !domain.ValidCapacity(maxMembers) {
		return nil, domain.ErrInvalidCapacity
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	me := domain.Member{
		UID:       uuid.NewString(),
		Name:      in.Name,
		Avatar:    in.Avatar,
		PublicKey: in.PublicKey,
		JoinedAt:  now,
	}

	// The generator pre-checks for collisions, but the create-if-absent
	// reservation is the authority; a lost race just redraws.
	var room domain.Room
	for {
		key, err := r.keys.Generate(ctx)
		if err != nil {
			return nil, err
		}
		room = domain.Room{
			Key:        key,
			MaxMembers: maxMembers,
			Active:     1,
			AdminUID:   me.UID,
			CreatedAt:  now,
		}
		created, err := r.store.CreateRoom(ctx, room, me)
		if err != nil {
			return nil, err
		}
		if created {
			break
		}
		log.Warn().Str("module", "app.rooms").Str("key", key).Msg("key reservation lost, redrawing")
	}

	unlock := r.locks.Lock(room.Key)
	defer unlock()
	r.presence.RoomState(room.Key, []domain.Member{me})

	log.Info().Str("module", "app.rooms").Str("key", room.Key).Int("max", maxMembers).Msg("room created")
	return &RoomState{Room: room, Me: me, Members: []domain.Member{me}}, nil
}

func (r *RoomRegistry) Join(ctx context.Context, key string, in domain.MemberInput) (*RoomState, error) {
	if !domain.ValidKey(key) {
		return nil, domain.ErrInvalidKey
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	me := domain.Member{
		UID:       uuid.NewString(),
		Name:      in.Name,
		Avatar:    in.Avatar,
		PublicKey: in.PublicKey,
		JoinedAt:  time.Now(),
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	active, max, err := r.store.JoinRoom(ctx, key, me)
	if err != nil {
		return nil, err
	}
	roster, err := r.store.Members(ctx, key)
	if err != nil {
		// The join committed; a roster read failure only degrades the
		// broadcast, not membership.
		log.Error().Err(err).Str("module", "app.rooms").Str("key", key).Msg("roster read after join")
		roster = []domain.Member{me}
	}
	r.presence.RoomState(key, roster)

	log.Info().Str("module", "app.rooms").Str("key", key).Int("active", active).Int("max", max).Msg("member joined")
	return &RoomState{
		Room:    domain.Room{Key: key, MaxMembers: max, Active: active},
		Me:      me,
		Members: roster,
	}, nil
}

// Check answers a pre-join availability query without mutating anything.
func (r *RoomRegistry) Check(ctx context.Context, key string) (*Availability, error) {
	if !domain.ValidKey(key) {
		return nil, domain.ErrInvalidKey
	}
	room, err := r.store.GetRoom(ctx, key)
	if err != nil {
		return nil, err
	}
	if room.Active >= room.MaxMembers {
		return nil, domain.ErrRoomFull
	}
	roster, err := r.store.Members(ctx, key)
	if err != nil {
		return nil, err
	}
	members := make(map[string]domain.Member, len(roster))
	for _, m := range roster {
		members[m.UID] = m.PublicView()
	}
	return &Availability{Members: members, Max: room.MaxMembers}, nil
}

// Destroy erases the room and everything it owns. Admin only.
func (r *RoomRegistry) Destroy(ctx context.Context, key, requesterUID string) error {
	if !domain.ValidKey(key) {
		return domain.ErrInvalidKey
	}
	room, err := r.store.GetRoom(ctx, key)
	if err != nil {
		return err
	}
	if room.AdminUID != requesterUID {
		log.Warn().Str("module", "app.rooms").Str("key", key).Str("uid", requesterUID).Msg("destroy denied")
		return domain.ErrNotAdmin
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	if _, err := r.store.DeleteRoom(ctx, key); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil // lost a race with the last leave, already gone
		}
		return err
	}
	r.purgeBlobs(key)
	r.presence.RoomDestroyed(key)
	log.Info().Str("module", "app.rooms").Str("key", key).Msg("room destroyed by admin")
	return nil
}

// release removes uid from the room and destroys the room if it was the
// last member. Called by the session binder; the room being gone already
// is a successful no-op.
func (r *RoomRegistry) release(ctx context.Context, key, uid, name string) error {
	unlock := r.locks.Lock(key)
	defer unlock()

	remaining, _, err := r.store.RemoveMember(ctx, key, uid)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return err
	}
	if remaining == 0 {
		r.purgeBlobs(key)
		r.presence.RoomDestroyed(key)
		log.Info().Str("module", "app.rooms").Str("key", key).Msg("last member left, room destroyed")
		return nil
	}

	roster, err := r.store.Members(ctx, key)
	if err != nil {
		return err
	}
	r.presence.RoomState(key, roster)
	r.presence.Announce(key, fmt.Sprintf("%s left the chat", name), "leave", "")
	log.Info().Str("module", "app.rooms").Str("key", key).Int("active", remaining).Msg("member left")
	return nil
}

func (r *RoomRegistry) purgeBlobs(key string) {
	if err := r.blobs.RemoveAll(key); err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("key", key).Msg("blob purge")
	}
}
