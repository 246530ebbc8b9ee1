package user

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *User,
// in the exact order scanUser expects.
const selectColumns = `id, username, email, password_hash, token, default_status, avatar_url, bio, color,
	background_color, flags, verified, verification_code, bytes, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var status string
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Token, &status, &u.AvatarURL, &u.Bio, &u.Color,
		&u.BackgroundColor, &u.Flags, &u.Verified, &u.VerificationCode, &u.Bytes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.DefaultStatus = Status(status)
	return &u, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new user row.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, token, verification_code)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+selectColumns,
		params.Username, params.Email, params.PasswordHash, params.Token, params.VerificationCode,
	))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID returns the user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByIDs returns every user matching one of the given IDs, in no particular order.
func (r *PGRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users by ids: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListAllIDs returns every user id in the table, used by the gateway's cache-populate burst to roster a newly
// connected client with every known user's current presence.
func (r *PGRepository) ListAllIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByUsername returns the user matching the given username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

// GetByEmail returns the user matching the given email.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return u, nil
}

// GetByToken returns the user whose bearer token equals the given value.
// This is the sole mechanism authentication middleware uses to identify a
// caller; the token carries no signature and is checked by direct equality.
func (r *PGRepository) GetByToken(ctx context.Context, token string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by token: %w", err)
	}
	return u, nil
}

// VerifyEmail marks the user verified if code matches their stored
// verification_code. Returns ErrInvalidToken on any mismatch.
func (r *PGRepository) VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET verified = true WHERE id = $1 AND verification_code = $2 AND verified = false`,
		userID, code,
	)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidToken
	}
	return nil
}

// ReplaceVerificationCode overwrites a user's verification_code, invalidating any previously issued code. Used when
// resending a verification email.
func (r *PGRepository) ReplaceVerificationCode(ctx context.Context, userID uuid.UUID, code string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET verification_code = $1 WHERE id = $2`, code, userID)
	if err != nil {
		return fmt.Errorf("replace verification code: %w", err)
	}
	return nil
}

// Update applies the non-nil fields in params to the user row and returns
// the updated user. Returns ErrNotFound if no row matches the given ID.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*User, error) {
	var setClauses []string
	var args []any

	if params.Username != nil {
		args = append(args, *params.Username)
		setClauses = append(setClauses, "username = $"+strconv.Itoa(len(args)))
	}
	if params.Email != nil {
		args = append(args, *params.Email)
		setClauses = append(setClauses, "email = $"+strconv.Itoa(len(args)))
	}
	if params.DefaultStatus != nil {
		args = append(args, string(*params.DefaultStatus))
		setClauses = append(setClauses, "default_status = $"+strconv.Itoa(len(args)))
	}
	if params.Bio != nil {
		args = append(args, *params.Bio)
		setClauses = append(setClauses, "bio = $"+strconv.Itoa(len(args)))
	}
	if params.Color != nil {
		args = append(args, *params.Color)
		setClauses = append(setClauses, "color = $"+strconv.Itoa(len(args)))
	}
	if params.BackgroundColor != nil {
		args = append(args, *params.BackgroundColor)
		setClauses = append(setClauses, "background_color = $"+strconv.Itoa(len(args)))
	}

	// No fields to update: return the current row without issuing an UPDATE
	// so the updated_at trigger does not fire for a no-op PATCH.
	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)
	query := "UPDATE users SET " + strings.Join(setClauses, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + selectColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// UpdatePasswordHash updates the stored password hash for a user.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

// RotateToken replaces a user's bearer token. Rotation is the only means of
// "revoking" a token; there is no expiry to wait out.
func (r *PGRepository) RotateToken(ctx context.Context, userID uuid.UUID, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET token = $1 WHERE id = $2`, token, userID)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	return nil
}

// SetAvatarURL sets or clears the user's avatar URL.
func (r *PGRepository) SetAvatarURL(ctx context.Context, userID uuid.UUID, avatarURL *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET avatar_url = $1, updated_at = NOW() WHERE id = $2`,
		avatarURL, userID,
	)
	if err != nil {
		return fmt.Errorf("set avatar url: %w", err)
	}
	return nil
}

// IncrementBytes atomically adjusts the user's soft-quota accumulator. delta
// may be negative (e.g. a deleted message's cost being refunded).
func (r *PGRepository) IncrementBytes(ctx context.Context, userID uuid.UUID, delta int64) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET bytes = bytes + $1 WHERE id = $2`, delta, userID)
	if err != nil {
		return fmt.Errorf("increment bytes: %w", err)
	}
	return nil
}

// DeleteWithTombstones inserts deletion tombstones and deletes the user in a
// single transaction. Tombstone inserts use ON CONFLICT DO NOTHING so that
// overlapping identifiers remain idempotent to delete.
func (r *PGRepository) DeleteWithTombstones(ctx context.Context, id uuid.UUID, tombstones []Tombstone) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, t := range tombstones {
			_, err := tx.Exec(ctx,
				`INSERT INTO deletion_tombstones (identifier_type, hmac_hash)
				 VALUES ($1, $2)
				 ON CONFLICT (identifier_type, hmac_hash) DO NOTHING`,
				string(t.IdentifierType), t.HMACHash,
			)
			if err != nil {
				return fmt.Errorf("insert tombstone: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CheckTombstone returns true if a deletion tombstone exists for the given
// identifier type and HMAC hash.
func (r *PGRepository) CheckTombstone(ctx context.Context, identifierType TombstoneType, hmacHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM deletion_tombstones WHERE identifier_type = $1 AND hmac_hash = $2)`,
		string(identifierType), hmacHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return exists, nil
}

// purgeBatchSize is the maximum number of rows deleted per batch to avoid long-running transactions.
const purgeBatchSize = 1000

// PurgeTombstones deletes deletion tombstone rows older than the given cutoff in batches.
func (r *PGRepository) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	query := fmt.Sprintf(
		`DELETE FROM deletion_tombstones WHERE ctid IN
		 (SELECT ctid FROM deletion_tombstones WHERE created_at < $1 LIMIT %d)`,
		purgeBatchSize,
	)

	var total int64
	for {
		tag, err := r.db.Exec(ctx, query, olderThan)
		if err != nil {
			return total, fmt.Errorf("purge deletion tombstones: %w", err)
		}
		affected := tag.RowsAffected()
		total += affected
		if affected < purgeBatchSize {
			break
		}
	}
	return total, nil
}
