// Package store defines the persistence contract the coordinator runs
// against and provides two backends: Redis for production and an
// in-memory map for tests and single-node dev mode.
//
// Every operation that mutates a single room's member count or a single
// file's download set is atomic at the store level (conditional
// increment, conditional set-add). That is the only synchronization the
// coordinator relies on; unrelated rooms never contend.
package store

import (
	"context"

	"keyroom/internal/domain"
)

type Store interface {
	// CreateRoom reserves key with create-if-absent semantics and writes
	// the room record with the creator as its first member. Returns false
	// when the key already denotes an active room (caller redraws a key).
	CreateRoom(ctx context.Context, room domain.Room, creator domain.Member) (bool, error)

	GetRoom(ctx context.Context, key string) (domain.Room, error)
	RoomExists(ctx context.Context, key string) (bool, error)

	// JoinRoom performs the capacity check and the member insertion as a
	// single atomic unit: the increment fails at commit time if the room
	// is already full. Returns domain.ErrRoomNotFound or domain.ErrRoomFull.
	JoinRoom(ctx context.Context, key string, m domain.Member) (active, max int, err error)

	// RemoveMember atomically removes uid and decrements the active
	// count. When the count reaches zero the room, its members and its
	// file records are erased in the same step; the ids of the erased
	// files are returned so the caller can purge their bytes. A missing
	// room yields domain.ErrRoomNotFound.
	RemoveMember(ctx context.Context, key, uid string) (remaining int, fileIDs []string, err error)

	// DeleteRoom erases the room and everything owned by it regardless of
	// member count (admin destroy). Returns the erased file ids.
	DeleteRoom(ctx context.Context, key string) (fileIDs []string, err error)

	Members(ctx context.Context, key string) ([]domain.Member, error)

	// BindSession maps a live connection to (roomKey, uid), overwriting
	// any stale binding for that connection. The display name rides along
	// so the departure announcement needs no extra lookup.
	BindSession(ctx context.Context, connID, key, uid, name string) error

	// TakeSession atomically reads and deletes the binding. ok is false
	// when no binding exists, which is how a second release for the same
	// connection becomes a no-op.
	TakeSession(ctx context.Context, connID string) (key, uid, name string, ok bool, err error)

	PutFile(ctx context.Context, key string, f domain.SharedFile) error
	GetFile(ctx context.Context, key, fileID string) (domain.SharedFile, error)

	// MarkDownloaded adds uid to the file's downloaded-by set. added is
	// false when uid already downloaded (the count must not move), and
	// downloads is the set cardinality after the call. A missing file
	// yields domain.ErrFileNotFound.
	MarkDownloaded(ctx context.Context, key, fileID, uid string) (added bool, downloads int, err error)

	DeleteFile(ctx context.Context, key, fileID string) error

	// UploadAccess answers room-exists + uploader-is-member + active
	// count as one atomic query, closing the gap against a concurrent
	// leave.
	UploadAccess(ctx context.Context, key, uid string) (ok bool, active, max int, err error)

	// DownloadAccess answers room-exists + member-exists + file-exists as
	// one atomic query.
	DownloadAccess(ctx context.Context, key, uid, fileID string) (bool, error)

	Close() error
}
