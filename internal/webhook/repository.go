package webhook

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

const selectColumns = `id, channel_id, owner_id, name, color, secret, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed webhook repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new webhook with a freshly generated secret.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Webhook, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	color := params.Color
	if color == "" {
		color = DefaultColor
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO webhooks (channel_id, owner_id, name, color, secret)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+selectColumns,
		params.ChannelID, params.OwnerID, params.Name, color, secret,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return w, nil
}

// GetByID returns a single webhook by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM webhooks WHERE id = $1", id)
	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query webhook by id: %w", err)
	}
	return w, nil
}

// GetForReceive returns the webhook matching (id, channelID, secret) together, so a bad secret and a bad id both
// surface as ErrNotFound.
func (r *PGRepository) GetForReceive(ctx context.Context, id, channelID uuid.UUID, secret string) (*Webhook, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM webhooks WHERE id = $1 AND channel_id = $2 AND secret = $3",
		id, channelID, secret,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query webhook for receive: %w", err)
	}
	return w, nil
}

// ListByChannel returns every webhook belonging to channelID.
func (r *PGRepository) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Webhook, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM webhooks WHERE channel_id = $1 ORDER BY created_at", channelID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks by channel: %w", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return webhooks, nil
}

// Update renames and/or recolors an existing webhook.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Webhook, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE webhooks SET
			name       = COALESCE($1, name),
			color      = COALESCE($2, color),
			updated_at = now()
		 WHERE id = $3
		 RETURNING `+selectColumns,
		params.Name, params.Color, id,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	return w, nil
}

// Delete removes the webhook row, scoped to (id, channelID).
func (r *PGRepository) Delete(ctx context.Context, id, channelID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1 AND channel_id = $2", id, channelID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	err := row.Scan(&w.ID, &w.ChannelID, &w.OwnerID, &w.Name, &w.Color, &w.Secret, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
