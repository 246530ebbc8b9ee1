// Package member implements the ChannelMember entity: explicit membership of
// a private channel. Membership of non-private channels is implicit and
// never represented as rows here.
package member

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/models"
)

// Sentinel errors for the member package.
var (
	ErrNotFound      = errors.New("member not found")
	ErrAlreadyMember = errors.New("user is already a member of this channel")
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Member holds a ChannelMember row joined with the member's public profile.
type Member struct {
	ChannelID   uuid.UUID
	UserID      uuid.UUID
	Username    string
	DisplayName *string
	AvatarURL   *string
	CreatedAt   time.Time
}

// ToModel converts the internal member struct to the wire projection.
func (m *Member) ToModel() models.Member {
	return models.Member{
		UserID:    m.UserID.String(),
		ChannelID: m.ChannelID.String(),
		CreatedAt: models.FormatTime(m.CreatedAt),
	}
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when the input is zero or
// negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository defines the data-access contract for channel membership.
type Repository interface {
	// Add inserts a ChannelMember row, created on invite acceptance or on
	// private-channel creation (author auto-membership).
	Add(ctx context.Context, channelID, userID uuid.UUID) error
	// Remove deletes a ChannelMember row, on explicit leave or channel
	// delete.
	Remove(ctx context.Context, channelID, userID uuid.UUID) error
	// IsMember reports whether userID is an explicit member of channelID.
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	// List returns the members of channelID ordered by (created_at, user_id)
	// using keyset pagination.
	List(ctx context.Context, channelID uuid.UUID, after *uuid.UUID, limit int) ([]Member, error)
	// ListChannelIDsForUser returns the ids of every private channel userID
	// is an explicit member of, used to build entitlement sets.
	ListChannelIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
