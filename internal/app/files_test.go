package app

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyroom/internal/domain"
)

func uploadFile(t *testing.T, a *testApp, key, owner, id string, maxDownloads int) domain.SharedFile {
	t.Helper()
	n, err := a.gate.Save(key, id, strings.NewReader("payload-bytes"))
	require.NoError(t, err)
	f := domain.SharedFile{
		ID:           id,
		OwnerUID:     owner,
		Name:         "notes.txt",
		Type:         "text/plain",
		Size:         n,
		MaxDownloads: maxDownloads,
		UploadedAt:   time.Now(),
	}
	require.NoError(t, a.gate.RecordUpload(context.Background(), key, f))
	return f
}

func TestAuthorizeUpload(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 3, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key

	// Nobody to receive the file yet.
	_, _, err = a.gate.AuthorizeUpload(ctx, key, state.Me.UID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	joined, err := a.rooms.Join(ctx, key, member("bob"))
	require.NoError(t, err)

	active, max, err := a.gate.AuthorizeUpload(ctx, key, joined.Me.UID)
	require.NoError(t, err)
	assert.Equal(t, 2, active)
	assert.Equal(t, 3, max)

	_, _, err = a.gate.AuthorizeUpload(ctx, key, "not-a-member")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, _, err = a.gate.AuthorizeUpload(ctx, "zz-zzz-zz", joined.Me.UID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRecordUploadAnnouncesFile(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)
	_, err = a.rooms.Join(ctx, state.Room.Key, member("bob"))
	require.NoError(t, err)

	uploadFile(t, a, state.Room.Key, state.Me.UID, "file-1", 1)
	assert.Equal(t, 1, a.emitter.count(MemberGroup(state.Room.Key), EvFileShared))
}

// Two-member room, maxDownloads=1: one download by the other member
// consumes the file; any further attempt is NotFound.
func TestDownloadOnceThenExpire(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key
	joined, err := a.rooms.Join(ctx, key, member("bob"))
	require.NoError(t, err)

	f := uploadFile(t, a, key, state.Me.UID, "file-1", 1)

	_, err = a.gate.AuthorizeDownload(ctx, key, "stranger", f.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	repeat, err := a.gate.AuthorizeDownload(ctx, key, joined.Me.UID, f.ID)
	require.NoError(t, err)
	assert.False(t, repeat)

	rc, err := a.gate.Open(key, f.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload-bytes", string(body))

	a.gate.MaybeExpire(ctx, key, f.ID)

	_, err = a.store.GetFile(ctx, key, f.ID)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	_, err = a.blobs.Open(key, f.ID)
	assert.Error(t, err, "bytes must be gone with the record")

	_, err = a.gate.AuthorizeDownload(ctx, key, joined.Me.UID, f.ID)
	assert.ErrorIs(t, err, domain.ErrFileNotFound, "consumed file reads as gone, not forbidden")
}

// Same member downloading repeatedly moves the count once.
func TestRepeatDownloadCountsOnce(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 4, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key
	bob, err := a.rooms.Join(ctx, key, member("bob"))
	require.NoError(t, err)
	_, err = a.rooms.Join(ctx, key, member("carol"))
	require.NoError(t, err)

	f := uploadFile(t, a, key, state.Me.UID, "file-1", 3)

	repeat, err := a.gate.AuthorizeDownload(ctx, key, bob.Me.UID, f.ID)
	require.NoError(t, err)
	assert.False(t, repeat)
	repeat, err = a.gate.AuthorizeDownload(ctx, key, bob.Me.UID, f.ID)
	require.NoError(t, err)
	assert.True(t, repeat, "second attempt is flagged as a repeat")

	meta, err := a.gate.Meta(ctx, key, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Downloads)

	a.gate.MaybeExpire(ctx, key, f.ID)
	_, err = a.gate.Meta(ctx, key, f.ID)
	assert.NoError(t, err, "not yet consumed by every other member")
}

// k distinct members consume the file; the k-th download triggers the
// purge and later members find nothing.
func TestDistinctDownloadsExhaustFile(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 3, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key
	bob, err := a.rooms.Join(ctx, key, member("bob"))
	require.NoError(t, err)
	carol, err := a.rooms.Join(ctx, key, member("carol"))
	require.NoError(t, err)

	f := uploadFile(t, a, key, state.Me.UID, "file-1", 2)

	for _, uid := range []string{bob.Me.UID, carol.Me.UID} {
		_, err := a.gate.AuthorizeDownload(ctx, key, uid, f.ID)
		require.NoError(t, err)
	}
	a.gate.MaybeExpire(ctx, key, f.ID)

	_, err = a.gate.Meta(ctx, key, f.ID)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestRoomDestroyPurgesBlobs(t *testing.T) {
	a := newTestApp()
	ctx := context.Background()

	state, err := a.rooms.Create(ctx, 2, member("alice"))
	require.NoError(t, err)
	key := state.Room.Key
	_, err = a.rooms.Join(ctx, key, member("bob"))
	require.NoError(t, err)

	f := uploadFile(t, a, key, state.Me.UID, "file-1", 1)

	require.NoError(t, a.rooms.Destroy(ctx, key, state.Me.UID))
	_, err = a.blobs.Open(key, f.ID)
	assert.Error(t, err, "destroy cascades to file bytes")
}

func TestOpenMissingBytesIsNotFound(t *testing.T) {
	a := newTestApp()
	_, err := a.gate.Open("aa-bbb-cc", "nope")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}
