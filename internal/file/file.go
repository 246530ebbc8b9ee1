// Package file implements the StoredFile entity: presigned uploads, upload
// confirmation via object-store HEAD, and the binding of uploaded files to
// messages.
package file

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the file package.
var (
	ErrNotFound        = errors.New("one or more files not found or not available for linking")
	ErrTooManyFiles    = errors.New("too many files in a single request")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrContentMismatch = errors.New("uploaded content length does not match the declared size")
)

// File holds the fields read from the stored_files table; the implementation
// of the data model's StoredFile entity.
type File struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Name       string
	MimeType   string
	Size       int64
	Key        string
	Uploaded   bool
	CreatedAt  time.Time
	UploadedAt *time.Time
}

// URL returns the public URL for the file, cache-busted with the upload
// timestamp once uploaded. A file that has not completed upload has no
// stable URL.
func (f *File) URL(base string) string {
	if !f.Uploaded || f.UploadedAt == nil {
		return ""
	}
	return base + "?v=" + strconv.FormatInt(f.UploadedAt.UnixMilli(), 10)
}

// CreateParams groups the inputs for registering a pending upload. ID is chosen by the caller so the storage key
// can embed it before the row exists.
type CreateParams struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Name     string
	MimeType string
	Size     int64
	Key      string
}

// Repository defines the data-access contract for StoredFile operations.
type Repository interface {
	// Create inserts a new pending file record (uploaded = false).
	Create(ctx context.Context, params CreateParams) (*File, error)

	// GetByID returns a single file by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*File, error)

	// GetByIDs returns files matching any of the given IDs, in no particular order.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]File, error)

	// MarkUploaded flips uploaded to true and stamps uploaded_at, but only for
	// a file that is still pending. Returns ErrNotFound if the row does not
	// exist or was already uploaded.
	MarkUploaded(ctx context.Context, id uuid.UUID, uploadedAt time.Time) (*File, error)

	// PurgeOrphans deletes pending files older than the given threshold and
	// returns their storage keys so the caller can remove the objects.
	PurgeOrphans(ctx context.Context, olderThan time.Time) ([]string, error)
}
