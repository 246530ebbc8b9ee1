package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, owner_id, name, mime_type, size, key, uploaded, created_at, uploaded_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed file repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new pending file record.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*File, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO stored_files (id, owner_id, name, mime_type, size, key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+selectColumns,
		params.ID, params.OwnerID, params.Name, params.MimeType, params.Size, params.Key,
	)
	return scanFile(row)
}

// GetByID returns a single file by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*File, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM stored_files WHERE id = $1", id)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query file by id: %w", err)
	}
	return f, nil
}

// GetByIDs returns files matching any of the given IDs.
func (r *PGRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, "SELECT "+selectColumns+" FROM stored_files WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("query files by ids: %w", err)
	}
	defer rows.Close()

	var result []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return result, nil
}

// MarkUploaded flips uploaded to true, but only from the pending state, and
// returns ErrNotFound if the row does not exist or was already uploaded.
func (r *PGRepository) MarkUploaded(ctx context.Context, id uuid.UUID, uploadedAt time.Time) (*File, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE stored_files SET uploaded = true, uploaded_at = $1
		 WHERE id = $2 AND uploaded = false
		 RETURNING `+selectColumns,
		uploadedAt, id,
	)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark file uploaded: %w", err)
	}
	return f, nil
}

// PurgeOrphans deletes pending files older than the given threshold and
// returns their storage keys for object cleanup.
func (r *PGRepository) PurgeOrphans(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM stored_files WHERE uploaded = false AND created_at < $1 RETURNING key`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("purge orphan files: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan orphan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan keys: %w", err)
	}
	return keys, nil
}

func scanFile(row pgx.Row) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.MimeType, &f.Size, &f.Key, &f.Uploaded, &f.CreatedAt, &f.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
