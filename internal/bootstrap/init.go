package bootstrap

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/ids"
	"github.com/uncord-chat/uncord-server/internal/user"
)

var sanitizeUsername = regexp.MustCompile(`[^a-zA-Z0-9_.]`)

// defaultChannelName is the public channel created for the owner on first run.
const defaultChannelName = "general"

// IsFirstRun returns true when the users table has no rows.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit seeds the owner account and a default public channel, going through the same repositories the
// running server uses rather than hand-rolled SQL so the seeded rows can never drift from what the repositories
// actually write.
func RunFirstInit(ctx context.Context, users user.Repository, channels channel.Repository, cfg *config.Config) error {
	if cfg.InitOwnerEmail == "" || cfg.InitOwnerPassword == "" {
		return fmt.Errorf("INIT_OWNER_EMAIL and INIT_OWNER_PASSWORD must be set for first-run initialization")
	}

	ownerEmail, _, err := auth.ValidateEmail(cfg.InitOwnerEmail)
	if err != nil {
		return fmt.Errorf("invalid INIT_OWNER_EMAIL: %w", err)
	}
	if err := auth.ValidatePassword(cfg.InitOwnerPassword); err != nil {
		return fmt.Errorf("invalid INIT_OWNER_PASSWORD: %w", err)
	}

	// Derive username from the email local part, stripping invalid characters.
	username := ownerEmail
	if idx := strings.Index(username, "@"); idx > 0 {
		username = username[:idx]
	}
	username = sanitizeUsername.ReplaceAllString(username, "")
	username, err = auth.ValidateUsername(username)
	if err != nil {
		return fmt.Errorf("derived owner username %q from email is invalid: %w", username, err)
	}

	hash, err := auth.HashPassword(cfg.InitOwnerPassword, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash owner password: %w", err)
	}

	tempID := ids.New()
	token, err := ids.GenerateToken(tempID)
	if err != nil {
		return fmt.Errorf("generate owner bearer token: %w", err)
	}
	verificationCode := ids.New()

	owner, err := users.Create(ctx, user.CreateParams{
		Username:         username,
		Email:            ownerEmail,
		PasswordHash:     hash,
		Token:            token,
		VerificationCode: verificationCode,
	})
	if err != nil {
		return fmt.Errorf("create owner user: %w", err)
	}

	if err := users.VerifyEmail(ctx, owner.ID, verificationCode); err != nil {
		return fmt.Errorf("verify owner email: %w", err)
	}

	if _, err := channels.Create(ctx, channel.CreateParams{
		Name:     defaultChannelName,
		AuthorID: owner.ID,
		Private:  false,
	}); err != nil {
		return fmt.Errorf("create default channel: %w", err)
	}

	return nil
}
