package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, channel_id, author_id, type, content, nonce,
file_ids, user_embeds, system_embeds, mentions,
edited_at, deleted_at, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL. Embeds, file ids, and mentions are stored as JSONB columns:
// they are small, bounded (≤10 embeds, ≤10 files, ≤25 mentions), and never queried on individually, so a relational
// decomposition would only add join cost without buying anything.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new message and returns it with joined author information.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	fileIDs, err := marshalUUIDs(params.FileIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal file ids: %w", err)
	}
	mentions, err := marshalUUIDs(params.Mentions)
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}
	userEmbeds, err := marshalEmbeds(params.UserEmbeds)
	if err != nil {
		return nil, fmt.Errorf("marshal user embeds: %w", err)
	}

	msgType := params.Type
	if msgType == "" {
		msgType = TypeDefault
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create message tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.log.Warn().Err(err).Msg("tx rollback failed")
		}
	}()

	row := tx.QueryRow(ctx,
		`INSERT INTO messages (channel_id, author_id, type, content, nonce, file_ids, user_embeds, system_embeds, mentions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, '[]', $8)
		 RETURNING id, created_at, updated_at`,
		params.ChannelID, params.AuthorID, string(msgType), params.Content, params.Nonce, fileIDs, userEmbeds, mentions,
	)

	var msg Message
	msg.ChannelID = params.ChannelID
	msg.AuthorID = params.AuthorID
	msg.Type = msgType
	msg.Content = params.Content
	msg.Nonce = params.Nonce
	msg.FileIDs = params.FileIDs
	msg.UserEmbeds = params.UserEmbeds
	msg.Mentions = params.Mentions
	if err := row.Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create message tx: %w", err)
	}
	return &msg, nil
}

// GetByID returns a single non-deleted message by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM messages WHERE id = $1 AND deleted_at IS NULL", selectColumns), id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return msg, nil
}

// List returns non-deleted messages in a channel matching params. Results are newest-first, except when After is
// set without Before, in which case they are returned oldest-first so pages read forward from the cursor; callers
// that need newest-first ordering for an After-only page should reverse the slice themselves.
func (r *PGRepository) List(ctx context.Context, channelID uuid.UUID, params ListParams) ([]Message, error) {
	where := []string{"channel_id = $1", "deleted_at IS NULL"}
	args := []any{channelID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	ascending := params.After != nil && params.Before == nil

	if params.Before != nil {
		where = append(where, fmt.Sprintf("(created_at, id) < (SELECT created_at, id FROM messages WHERE id = %s)", arg(*params.Before)))
	}
	if params.After != nil {
		where = append(where, fmt.Sprintf("(created_at, id) > (SELECT created_at, id FROM messages WHERE id = %s)", arg(*params.After)))
	}
	if params.AuthorID != nil {
		where = append(where, fmt.Sprintf("author_id = %s", arg(*params.AuthorID)))
	}
	if params.Contains != "" {
		where = append(where, fmt.Sprintf("content LIKE %s", arg("%"+escapeLike(params.Contains)+"%")))
	}

	order := "created_at DESC, id DESC"
	if ascending {
		order = "created_at ASC, id ASC"
	}

	query := fmt.Sprintf(
		"SELECT %s FROM messages WHERE %s ORDER BY %s LIMIT %s",
		selectColumns, strings.Join(where, " AND "), order, arg(params.Limit),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// escapeLike escapes LIKE wildcard characters in a user-supplied substring so contains filtering matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// Update sets new content and recomputed mentions on a non-deleted message and marks it as edited. Returns the
// updated message with joined author information.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Message, error) {
	mentions, err := marshalUUIDs(params.Mentions)
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`UPDATE messages SET content = $1, mentions = $2, edited_at = NOW()
		 WHERE id = $3 AND deleted_at IS NULL
		 RETURNING id`, params.Content, mentions, id,
	)

	var updatedID uuid.UUID
	if err := row.Scan(&updatedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update message: %w", err)
	}

	return r.GetByID(ctx, updatedID)
}

// UpdateSystemEmbeds replaces a message's unfurled embeds, skipping the write when the new set is byte-for-byte
// equal to the existing one so that callers can treat an unchanged result as "do not emit message_updated".
func (r *PGRepository) UpdateSystemEmbeds(ctx context.Context, id uuid.UUID, embeds []Embed) (bool, error) {
	encoded, err := marshalEmbeds(embeds)
	if err != nil {
		return false, fmt.Errorf("marshal system embeds: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET system_embeds = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL AND system_embeds IS DISTINCT FROM $1::jsonb`,
		encoded, id,
	)
	if err != nil {
		return false, fmt.Errorf("update system embeds: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

// SoftDelete marks a message as deleted. Returns ErrNotFound if the message does not exist or is already deleted.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE messages SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id,
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanMessage scans a single row into a Message struct.
func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg                               Message
		msgType                           string
		fileIDs, userEmbeds, systemEmbeds []byte
		mentions                          []byte
	)
	err := row.Scan(
		&msg.ID, &msg.ChannelID, &msg.AuthorID, &msgType, &msg.Content, &msg.Nonce,
		&fileIDs, &userEmbeds, &systemEmbeds, &mentions,
		&msg.EditedAt, &msg.DeletedAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = Type(msgType)

	if msg.FileIDs, err = unmarshalUUIDs(fileIDs); err != nil {
		return nil, fmt.Errorf("unmarshal file ids: %w", err)
	}
	if msg.Mentions, err = unmarshalUUIDs(mentions); err != nil {
		return nil, fmt.Errorf("unmarshal mentions: %w", err)
	}
	if msg.UserEmbeds, err = unmarshalEmbeds(userEmbeds); err != nil {
		return nil, fmt.Errorf("unmarshal user embeds: %w", err)
	}
	if msg.SystemEmbeds, err = unmarshalEmbeds(systemEmbeds); err != nil {
		return nil, fmt.Errorf("unmarshal system embeds: %w", err)
	}
	return &msg, nil
}

func marshalUUIDs(ids []uuid.UUID) ([]byte, error) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return json.Marshal(ids)
}

func unmarshalUUIDs(data []byte) ([]uuid.UUID, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func marshalEmbeds(embeds []Embed) ([]byte, error) {
	if embeds == nil {
		embeds = []Embed{}
	}
	return json.Marshal(embeds)
}

func unmarshalEmbeds(data []byte) ([]Embed, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var embeds []Embed
	if err := json.Unmarshal(data, &embeds); err != nil {
		return nil, err
	}
	return embeds, nil
}
