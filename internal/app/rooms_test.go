package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyroom/internal/domain"
)

func member(name string) domain.MemberInput {
	return domain.MemberInput{Name: name, Avatar: "Pikachu", PublicKey: "pk-" + name}
}

func TestCreateRoom(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 4, member("alice"))
	require.NoError(t, err)
	assert.True(t, domain.ValidKey(state.Room.Key))
	assert.Equal(t, 4, state.Room.MaxMembers)
	assert.Equal(t, 1, state.Room.Active)
	assert.Equal(t, state.Me.UID, state.Room.AdminUID)
	require.Len(t, state.Members, 1)

	// Freshly created room is immediately joinable with the same key.
	joined, err := a.rooms.Join(ctx, state.Room.Key, member("bob"))
	require.NoError(t, err)
	assert.Equal(t, 2, joined.Room.Active)
	assert.Len(t, joined.Members, 2)
}

func TestCreateRoomValidation(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	_, err := a.rooms.Create(ctx, 1, member("alice"))
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
	_, err = a.rooms.Create(ctx, 11, member("alice"))
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
	_, err = a.rooms.Create(ctx, 4, domain.MemberInput{Avatar: "Eevee"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestJoinValidation(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	_, err := a.rooms.Join(ctx, "not-a-key", member("bob"))
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
	_, err = a.rooms.Join(ctx, "aa-bbb-cc", member("bob"))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestJoinFullRoom(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)
	_, err = a.rooms.Join(ctx, state.Room.Key, member("bob"))
	require.NoError(t, err)

	_, err = a.rooms.Join(ctx, state.Room.Key, member("carol"))
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	room, err := a.store.GetRoom(ctx, state.Room.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, room.Active)
}

// Concurrent joins racing for the last slots: never more than capacity.
func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 5, member("alice"))
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := a.rooms.Join(ctx, state.Room.Key, member("j")); err == nil {
				successes <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	assert.Equal(t, 4, len(successes), "exactly maxMembers-1 joins may succeed")

	room, err := a.store.GetRoom(ctx, state.Room.Key)
	require.NoError(t, err)
	assert.Equal(t, 5, room.Active)
	roster, err := a.store.Members(ctx, state.Room.Key)
	require.NoError(t, err)
	assert.Len(t, roster, room.Active, "count must equal recorded members")
}

func TestCheckAvailability(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)

	avail, err := a.rooms.Check(ctx, state.Room.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, avail.Max)
	require.Len(t, avail.Members, 1)
	for _, m := range avail.Members {
		assert.Empty(t, m.PublicKey, "onlookers never see key material")
	}

	_, err = a.rooms.Join(ctx, state.Room.Key, member("bob"))
	require.NoError(t, err)
	_, err = a.rooms.Check(ctx, state.Room.Key)
	assert.ErrorIs(t, err, domain.ErrRoomFull)
}

func TestDestroyRoom(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 3, member("alice"))
	require.NoError(t, err)
	joined, err := a.rooms.Join(ctx, state.Room.Key, member("bob"))
	require.NoError(t, err)

	err = a.rooms.Destroy(ctx, state.Room.Key, joined.Me.UID)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	require.NoError(t, a.rooms.Destroy(ctx, state.Room.Key, state.Me.UID))
	assert.Equal(t, 1, a.emitter.count(MemberGroup(state.Room.Key), EvRoomDestroyed))

	_, err = a.rooms.Join(ctx, state.Room.Key, member("carol"))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestKeyReusableAfterDestroy(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key
	require.NoError(t, a.rooms.Destroy(ctx, key, state.Me.UID))

	// A brand-new room may take the key once destruction completed.
	created, err := a.store.CreateRoom(ctx, domain.Room{Key: key, MaxMembers: 2, AdminUID: "x"}, domain.Member{UID: "x", Name: "x", Avatar: "Mew"})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key

	require.NoError(t, a.rooms.release(ctx, key, state.Me.UID, "alice"))

	exists, err := a.store.RoomExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "zero-member room must not linger")
	assert.Equal(t, 1, a.emitter.count(MemberGroup(key), EvRoomDestroyed))

	_, err = a.rooms.Join(ctx, key, member("bob"))
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestReleaseOnDeadRoomIsNoop(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	err := a.rooms.release(ctx, "aa-bbb-cc", "ghost", "ghost")
	assert.NoError(t, err)
}
