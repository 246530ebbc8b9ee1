package member

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed member repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Add inserts a ChannelMember row. Returns ErrAlreadyMember on a duplicate (channel_id, user_id) pair.
func (r *PGRepository) Add(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)", channelID, userID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// Remove deletes a ChannelMember row.
func (r *PGRepository) Remove(ctx context.Context, channelID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2", channelID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsMember reports whether userID is an explicit member of channelID.
func (r *PGRepository) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2)",
		channelID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// List returns the members of channelID joined with their public profile, using keyset pagination on (created_at,
// user_id).
func (r *PGRepository) List(ctx context.Context, channelID uuid.UUID, after *uuid.UUID, limit int) ([]Member, error) {
	const baseQuery = `SELECT m.channel_id, m.user_id, u.username, u.bio, u.avatar_url, m.created_at
FROM channel_members m
JOIN users u ON u.id = m.user_id
WHERE m.channel_id = $1`

	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx, baseQuery+" ORDER BY m.created_at, m.user_id LIMIT $2", channelID, limit)
	} else {
		rows, err = r.db.Query(ctx, baseQuery+`
  AND (m.created_at, m.user_id) > (
    SELECT m2.created_at, m2.user_id FROM channel_members m2 WHERE m2.channel_id = $1 AND m2.user_id = $2
  )
ORDER BY m.created_at, m.user_id
LIMIT $3`, channelID, *after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		// DisplayName has no backing column on users; member listings surface only username/avatar/bio-derived fields.
		var bio *string
		if err := rows.Scan(&m.ChannelID, &m.UserID, &m.Username, &bio, &m.AvatarURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// ListChannelIDsForUser returns the ids of every private channel userID is an explicit member of.
func (r *PGRepository) ListChannelIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, "SELECT channel_id FROM channel_members WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("query member channel ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member channel id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member channel ids: %w", err)
	}
	return ids, nil
}
