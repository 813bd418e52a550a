package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"keyroom/internal/app"
	"keyroom/internal/domain"
)

// FileHandler serves the upload/download endpoints. Authorization,
// consumption tracking and expiry all live with the gate; this layer
// only moves bytes and maps errors to statuses.
type FileHandler struct {
	Gate *app.FileGate
}

// pathParams rejects malformed identifiers before anything touches the
// store or the filesystem. File ids are client-minted message ids but
// must still be uuids, which also keeps them path-safe.
func pathParams(c *gin.Context) (key, uid, fileID string, ok bool) {
	key, uid, fileID = c.Param("key"), c.Param("uid"), c.Param("fileId")
	if !domain.ValidKey(key) {
		return "", "", "", false
	}
	if _, err := uuid.Parse(uid); err != nil {
		return "", "", "", false
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return "", "", "", false
	}
	return key, uid, fileID, true
}

func (h *FileHandler) Upload(c *gin.Context) {
	key, uid, fileID, ok := pathParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Bad Request"})
		return
	}

	// Size gate runs before any store mutation.
	maxSize := h.Gate.MaxSize()
	if c.Request.ContentLength <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No content length"})
		return
	}
	if c.Request.ContentLength > maxSize {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("File size should be within %d bytes", maxSize)})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

	_, max, err := h.Gate.AuthorizeUpload(c.Request.Context(), key, uid)
	if err != nil {
		h.reject(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No data found"})
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No file found. Check field name."})
		return
	}
	if len(files) > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Multiple files found. Only one file allowed."})
		return
	}
	header := files[0]
	if header.Size > maxSize {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("File size should be within %d bytes", maxSize)})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Error while receiving"})
		return
	}
	defer src.Close()

	n, err := h.Gate.Save(key, fileID, src)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.files").Str("key", key).Str("file", fileID).Msg("blob write")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error while receiving"})
		return
	}

	meta := domain.SharedFile{
		ID:           fileID,
		OwnerUID:     uid,
		Name:         header.Filename,
		Type:         header.Header.Get("Content-Type"),
		Size:         n,
		MaxDownloads: max - 1, // one copy per other member
		UploadedAt:   time.Now(),
	}
	if err := h.Gate.RecordUpload(c.Request.Context(), key, meta); err != nil {
		h.Gate.Discard(key, fileID)
		h.reject(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "File uploaded"})
}

func (h *FileHandler) Download(c *gin.Context) {
	key, uid, fileID, ok := pathParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Bad Request"})
		return
	}
	ctx := c.Request.Context()

	repeat, err := h.Gate.AuthorizeDownload(ctx, key, uid, fileID)
	if err != nil {
		h.reject(c, err)
		return
	}
	if repeat {
		log.Debug().Str("module", "adapters.files").Str("key", key).Str("uid", uid).Str("file", fileID).Msg("repeat download")
	}

	meta, err := h.Gate.Meta(ctx, key, fileID)
	if err != nil {
		h.reject(c, err)
		return
	}
	rc, err := h.Gate.Open(key, fileID)
	if err != nil {
		h.reject(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, meta.Size, meta.Type, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", meta.Name),
	})

	// Post-serve side effect: the download that crossed the threshold
	// still succeeds. The client walking away must not skip the purge.
	h.Gate.MaybeExpire(context.WithoutCancel(ctx), key, fileID)
}

func (h *FileHandler) reject(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
	case errors.Is(err, domain.ErrFileNotFound), errors.Is(err, domain.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"message": "Database Unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server Error"})
	}
}
