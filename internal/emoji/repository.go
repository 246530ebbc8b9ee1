package emoji

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

const selectColumns = `id, owner_id, name, animated, ext, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed emoji repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new emoji row.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Emoji, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO emojis (owner_id, name, animated, ext)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+selectColumns,
		params.OwnerID, params.Name, params.Image.Animated, params.Image.Ext,
	)
	e, err := scanEmoji(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert emoji: %w", err)
	}
	return e, nil
}

// GetByID returns a single emoji by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Emoji, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM emojis WHERE id = $1", id)
	e, err := scanEmoji(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query emoji by id: %w", err)
	}
	return e, nil
}

// ListByOwner returns every emoji owned by ownerID, oldest first.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Emoji, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM emojis WHERE owner_id = $1 ORDER BY created_at", ownerID)
	if err != nil {
		return nil, fmt.Errorf("query emojis by owner: %w", err)
	}
	defer rows.Close()

	var emojis []Emoji
	for rows.Next() {
		e, err := scanEmoji(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emoji: %w", err)
		}
		emojis = append(emojis, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emojis: %w", err)
	}
	return emojis, nil
}

// Update renames and/or swaps the extension of an existing emoji.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Emoji, error) {
	animated, ext := (*bool)(nil), (*string)(nil)
	if params.Image != nil {
		a := params.Image.Animated
		animated = &a
		ext = &params.Image.Ext
	}

	row := r.db.QueryRow(ctx,
		`UPDATE emojis SET
			name     = COALESCE($1, name),
			animated = COALESCE($2, animated),
			ext      = COALESCE($3, ext)
		 WHERE id = $4
		 RETURNING `+selectColumns,
		params.Name, animated, ext, id,
	)
	e, err := scanEmoji(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update emoji: %w", err)
	}
	return e, nil
}

// Delete removes the emoji row, scoped to (id, ownerID).
func (r *PGRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM emojis WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete emoji: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEmoji(row pgx.Row) (*Emoji, error) {
	var e Emoji
	err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Animated, &e.Ext, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
