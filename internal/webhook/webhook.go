// Package webhook implements the Webhook entity: a channel-scoped, secret-
// bearing endpoint that lets an external service post messages without a
// user account. Only a channel's owner may manage its webhooks.
package webhook

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/models"
)

// colorPattern matches a #RRGGBB hex color.
var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Sentinel errors for the webhook package.
var (
	ErrNotFound      = errors.New("webhook not found")
	ErrAlreadyExists = errors.New("a webhook with that name already exists in this channel")
	ErrNameLength    = errors.New("webhook name must be between 1 and 80 characters")
	ErrInvalidColor  = errors.New("color must be a #RRGGBB hex string")
	ErrInvalidSecret = errors.New("webhook id and secret do not match")
)

const (
	secretLength   = 32
	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// DefaultColor matches the original chat client's default webhook author color.
	DefaultColor = "#000000"
)

// Webhook holds the fields read from the webhooks table.
type Webhook struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Color     string
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToModel converts the internal webhook struct to the wire projection. The
// secret is never included.
func (w *Webhook) ToModel() models.Webhook {
	color := w.Color
	return models.Webhook{
		ID:        w.ID.String(),
		ChannelID: w.ChannelID.String(),
		OwnerID:   w.OwnerID.String(),
		Name:      w.Name,
		Color:     &color,
	}
}

// CreateParams groups the inputs for creating a new webhook.
type CreateParams struct {
	ChannelID uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Color     string
}

// UpdateParams groups the inputs for renaming and/or recoloring an
// existing webhook.
type UpdateParams struct {
	Name  *string
	Color *string
}

// ValidateName checks that name is 1-80 runes.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > 80 {
		return ErrNameLength
	}
	return nil
}

// ValidateColor checks that color is a #RRGGBB hex string.
func ValidateColor(color string) error {
	if !colorPattern.MatchString(color) {
		return ErrInvalidColor
	}
	return nil
}

// generateSecret produces a cryptographically random alphanumeric string
// used as a webhook's bearer credential in its public receive URL.
func generateSecret() (string, error) {
	alphabetLen := big.NewInt(int64(len(secretAlphabet)))
	buf := make([]byte, secretLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("crypto/rand: %w", err)
		}
		buf[i] = secretAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Repository defines the data-access contract for webhook operations.
type Repository interface {
	// Create inserts a new webhook with a freshly generated secret. Returns
	// ErrAlreadyExists if the channel already has a webhook with the same
	// name (case-insensitive).
	Create(ctx context.Context, params CreateParams) (*Webhook, error)

	// GetByID returns a single webhook by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Webhook, error)

	// GetForReceive returns the webhook matching (id, channelID) only if
	// secret matches too, so a wrong secret and a wrong id are
	// indistinguishable to a caller. Returns ErrNotFound on any mismatch.
	GetForReceive(ctx context.Context, id, channelID uuid.UUID, secret string) (*Webhook, error)

	// ListByChannel returns every webhook belonging to channelID.
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Webhook, error)

	// Update renames and/or recolors an existing webhook.
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Webhook, error)

	// Delete removes the webhook row, scoped to (id, channelID).
	Delete(ctx context.Context, id, channelID uuid.UUID) error
}
