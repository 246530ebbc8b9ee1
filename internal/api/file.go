package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/file"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/media"
)

const presignTTL = 15 * time.Minute

// FileHandler serves the presigned-upload flow: clients register intent, PUT the body directly to the object store,
// then confirm completion so the server can validate the upload landed before any message references it.
type FileHandler struct {
	files            file.Repository
	storage          media.StorageProvider
	env              string
	maxFilesPerBatch int
	maxUploadSize    int64
	log              zerolog.Logger
}

// NewFileHandler creates a new file handler. env namespaces storage keys so staging and production uploads never
// collide in a shared bucket.
func NewFileHandler(files file.Repository, storage media.StorageProvider, env string, maxFilesPerBatch int, maxUploadSize int64, logger zerolog.Logger) *FileHandler {
	return &FileHandler{files: files, storage: storage, env: env, maxFilesPerBatch: maxFilesPerBatch, maxUploadSize: maxUploadSize, log: logger}
}

type presignFileRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type presignResult struct {
	ID        string `json:"id"`
	UploadURL string `json:"upload_url"`
	Method    string `json:"method"`
}

// Presign handles POST /v1/files/presign. The requested file count is clamped to maxFilesPerBatch and each size to
// maxUploadSize; a pending StoredFile row and a presigned PUT URL are returned per entry.
func (h *FileHandler) Presign(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body []presignFileRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(body) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "at least one file is required")
	}
	if len(body) > h.maxFilesPerBatch {
		body = body[:h.maxFilesPerBatch]
	}

	results := make([]presignResult, 0, len(body))
	for _, req := range body {
		if !media.IsAllowedContentType(req.MimeType) {
			return httputil.Fail(c, fiber.StatusBadRequest, "content type is not allowed")
		}

		size := req.Size
		if size > h.maxUploadSize {
			size = h.maxUploadSize
		}

		id := uuid.New()
		key := fmt.Sprintf("%s/uploads/%s/%s/%s", h.env, userID.String(), id.String(), req.Name)

		f, err := h.files.Create(c.Context(), file.CreateParams{
			ID:       id,
			OwnerID:  userID,
			Name:     req.Name,
			MimeType: req.MimeType,
			Size:     size,
			Key:      key,
		})
		if err != nil {
			h.log.Error().Err(err).Str("handler", "file").Msg("create pending file failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
		}

		uploadURL, err := h.storage.PresignPut(c.Context(), key, req.MimeType, presignTTL)
		if err != nil {
			h.log.Error().Err(err).Str("handler", "file").Msg("presign put failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
		}

		results = append(results, presignResult{ID: f.ID.String(), UploadURL: uploadURL, Method: fiber.MethodPut})
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, results)
}

type completeFileRequest struct {
	IDs []string `json:"ids"`
}

type completedFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Complete handles POST /v1/files/complete. Each id's object is HEAD-checked against its declared size before being
// flipped to uploaded; any mismatch or missing object fails the whole batch with 400, matching the upload-integrity
// invariant that uploaded only ever transitions to true once the remote object is confirmed.
func (h *FileHandler) Complete(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body completeFileRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	results := make([]completedFile, 0, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid file id")
		}

		f, err := h.files.GetByID(c.Context(), id)
		if err != nil {
			return h.mapFileError(c, err)
		}
		if f.OwnerID != userID {
			return httputil.Fail(c, fiber.StatusForbidden, "you do not own this file")
		}

		head, err := h.storage.Head(c.Context(), f.Key)
		if err != nil {
			if errors.Is(err, media.ErrStorageKeyNotFound) {
				return httputil.Fail(c, fiber.StatusBadRequest, "upload has not landed yet")
			}
			h.log.Error().Err(err).Str("handler", "file").Msg("head storage object failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
		}
		if head.ContentLength != f.Size {
			return httputil.Fail(c, fiber.StatusBadRequest, "uploaded content length does not match the declared size")
		}

		updated, err := h.files.MarkUploaded(c.Context(), id, time.Now())
		if err != nil {
			return h.mapFileError(c, err)
		}

		results = append(results, completedFile{
			ID:       updated.ID.String(),
			Name:     updated.Name,
			MimeType: updated.MimeType,
			Size:     updated.Size,
			URL:      updated.URL(h.storage.URL(updated.Key)),
		})
	}

	return httputil.Success(c, results)
}

// mapFileError converts file-layer errors to appropriate HTTP responses.
func (h *FileHandler) mapFileError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, file.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "file not found")
	case errors.Is(err, file.ErrTooManyFiles), errors.Is(err, file.ErrFileTooLarge), errors.Is(err, file.ErrContentMismatch):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "file").Msg("unhandled file service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
