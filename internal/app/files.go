package app

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"keyroom/internal/blob"
	"keyroom/internal/domain"
	"keyroom/internal/store"
)

// FileGate authorizes uploads and downloads, tracks per-member
// consumption and purges spent files. It shares the store with the room
// registry, so the room-existence checks here see the same committed
// state the lifecycle operations produce.
type FileGate struct {
	store    store.Store
	blobs    *blob.Store
	presence *Presence
	maxSize  int64
}

func NewFileGate(s store.Store, b *blob.Store, p *Presence, maxSize int64) *FileGate {
	return &FileGate{store: s, blobs: b, presence: p, maxSize: maxSize}
}

// MaxSize is the per-file byte limit, enforced by the upload handler
// before any store mutation.
func (g *FileGate) MaxSize() int64 { return g.maxSize }

// AuthorizeUpload permits an upload iff the room exists, uid is a
// member, and at least one other member is present to receive the file.
// The store answers all three in a single atomic query, so a concurrent
// leave cannot slip between the checks.
func (g *FileGate) AuthorizeUpload(ctx context.Context, key, uid string) (active, max int, err error) {
	ok, active, max, err := g.store.UploadAccess(ctx, key, uid)
	if err != nil {
		return 0, 0, err
	}
	if !ok || active < 2 {
		return 0, 0, domain.ErrUnauthorized
	}
	return active, max, nil
}

// Save streams the payload into the blob store.
func (g *FileGate) Save(key, fileID string, r io.Reader) (int64, error) {
	return g.blobs.Save(key, fileID, r)
}

// Discard drops bytes written for an upload whose record never made it.
func (g *FileGate) Discard(key, fileID string) {
	if err := g.blobs.Remove(key, fileID); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("module", "app.files").Str("key", key).Str("file", fileID).Msg("orphan blob discard")
	}
}

// RecordUpload persists the metadata and announces the file to the room.
// maxDownloads is fixed so one copy reaches every other member.
func (g *FileGate) RecordUpload(ctx context.Context, key string, f domain.SharedFile) error {
	if err := g.store.PutFile(ctx, key, f); err != nil {
		return err
	}
	g.presence.FileShared(key, f)
	log.Info().Str("module", "app.files").Str("key", key).Str("file", f.ID).Int("max_downloads", f.MaxDownloads).Msg("file recorded")
	return nil
}

// AuthorizeDownload permits a download iff room, member and file all
// exist, then marks uid as served. The mark has set-add semantics:
// marking an already-served member again moves nothing, so simultaneous
// downloads by the same member count once.
func (g *FileGate) AuthorizeDownload(ctx context.Context, key, uid, fileID string) (alreadyDownloaded bool, err error) {
	ok, err := g.store.DownloadAccess(ctx, key, uid, fileID)
	if err != nil {
		return false, err
	}
	if !ok {
		// The atomic check only says no. Distinguish a vanished file
		// (consumed or room gone) from a non-member probing.
		if _, ferr := g.store.GetFile(ctx, key, fileID); ferr != nil {
			return false, ferr
		}
		return false, domain.ErrUnauthorized
	}
	added, _, err := g.store.MarkDownloaded(ctx, key, fileID, uid)
	if err != nil {
		return false, err
	}
	return !added, nil
}

// Meta returns the file's metadata.
func (g *FileGate) Meta(ctx context.Context, key, fileID string) (domain.SharedFile, error) {
	return g.store.GetFile(ctx, key, fileID)
}

// Open hands out the byte stream. Metadata without bytes is a
// data-consistency fault: logged, and not-found to the caller.
func (g *FileGate) Open(key, fileID string) (io.ReadCloser, error) {
	rc, err := g.blobs.Open(key, fileID)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("module", "app.files").Str("key", key).Str("file", fileID).Msg("metadata present but bytes missing")
			return nil, domain.ErrFileNotFound
		}
		return nil, err
	}
	return rc, nil
}

// MaybeExpire runs after a download has been served: once every other
// member got a copy, the record and the bytes go, and the room's upload
// directory goes with its last file. Running post-serve means the
// triggering download itself always succeeds.
func (g *FileGate) MaybeExpire(ctx context.Context, key, fileID string) {
	f, err := g.store.GetFile(ctx, key, fileID)
	if err != nil {
		if !errors.Is(err, domain.ErrFileNotFound) {
			log.Error().Err(err).Str("module", "app.files").Str("key", key).Str("file", fileID).Msg("expiry check")
		}
		return
	}
	if !f.Spent() {
		return
	}
	if err := g.store.DeleteFile(ctx, key, fileID); err != nil {
		log.Error().Err(err).Str("module", "app.files").Str("key", key).Str("file", fileID).Msg("file record delete")
		return
	}
	if err := g.blobs.Remove(key, fileID); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("module", "app.files").Str("key", key).Str("file", fileID).Msg("blob delete")
	}
	if err := g.blobs.RemoveDirIfEmpty(key); err != nil && !os.IsNotExist(err) {
		log.Error().Err(err).Str("module", "app.files").Str("key", key).Msg("upload dir cleanup")
	}
	log.Info().Str("module", "app.files").Str("key", key).Str("file", fileID).Msg("file fully consumed, purged")
}
