// Package channel implements the Channel entity: a messaging context that is
// either public (implicit membership for every user) or private (explicit
// membership via ChannelMember).
package channel

import (
	"context"
	"errors"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/models"
)

// Sentinel errors for the channel package.
var (
	ErrNotFound    = errors.New("channel not found")
	ErrNameLength  = errors.New("channel name must be between 3 and 32 characters")
	ErrNameChars   = errors.New("channel name may only contain letters, digits, underscores, and hyphens")
	ErrTopicLength = errors.New("channel topic must be 1000 characters or fewer")
	ErrNotOwner    = errors.New("only the channel owner may perform this action")
)

// namePattern matches the allowed channel name alphabet.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Channel holds the fields read from the database.
type Channel struct {
	ID            uuid.UUID
	Name          string
	Topic         *string
	AuthorID      uuid.UUID
	Private       bool
	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ToModel converts the internal channel struct to the wire projection.
func (c *Channel) ToModel() models.Channel {
	out := models.Channel{
		ID:        c.ID.String(),
		Name:      c.Name,
		Topic:     c.Topic,
		AuthorID:  c.AuthorID.String(),
		Private:   c.Private,
		CreatedAt: models.FormatTime(c.CreatedAt),
		UpdatedAt: models.FormatTime(c.UpdatedAt),
	}
	if c.LastMessageAt != nil {
		s := models.FormatTime(*c.LastMessageAt)
		out.LastMessageAt = &s
	}
	return out
}

// CreateParams groups the inputs for creating a new channel.
type CreateParams struct {
	Name     string
	Topic    *string
	AuthorID uuid.UUID
	Private  bool
}

// UpdateParams groups the optional fields for updating a channel. A nil
// pointer means "no change."
type UpdateParams struct {
	Name  *string
	Topic *string
}

// ValidateName checks that name is 3-32 runes from the allowed alphabet.
func ValidateName(name string) (string, error) {
	if utf8.RuneCountInString(name) < 3 || utf8.RuneCountInString(name) > 32 {
		return "", ErrNameLength
	}
	if !namePattern.MatchString(name) {
		return "", ErrNameChars
	}
	return name, nil
}

// ValidateTopic checks that a non-nil topic is 1000 characters (runes) or
// fewer. A nil pointer means "no topic."
func ValidateTopic(topic *string) error {
	if topic == nil {
		return nil
	}
	if utf8.RuneCountInString(*topic) > 1000 {
		return ErrTopicLength
	}
	return nil
}

// Repository defines the data-access contract for channel operations.
type Repository interface {
	// List returns every channel visible to userID: all public channels,
	// channels userID owns, and private channels userID is a member of.
	List(ctx context.Context, userID uuid.UUID) ([]Channel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Channel, error)
	Create(ctx context.Context, params CreateParams) (*Channel, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Channel, error)
	// Delete removes the channel and, as a best-effort transactional group,
	// its members, invites, and messages.
	Delete(ctx context.Context, id uuid.UUID) error
	// TouchLastMessageAt stamps last_message_at to now, called after a
	// message is created in the channel.
	TouchLastMessageAt(ctx context.Context, id uuid.UUID, at time.Time) error
}
