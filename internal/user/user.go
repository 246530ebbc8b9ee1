package user

import (
	"context"
	"errors"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/models"
)

// Sentinel errors for the user package.
var (
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyExists    = errors.New("email or username already taken")
	ErrInvalidToken     = errors.New("invalid or expired verification token")
	ErrTombstoned       = errors.New("email or username was previously used by a deleted account")
	ErrBioLength        = errors.New("bio must be at most 1000 characters")
	ErrInvalidColor     = errors.New("color must be a #RRGGBB hex string")
	ErrInvalidStatus    = errors.New("default_status must be one of online, away, dnd, invisible")
)

// Status is a user's self-reported presence status. CurrentStatus is derived
// at serialization time from the presence store rather than stored here.
type Status string

const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
)

func validStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusDND, StatusInvisible:
		return true
	default:
		return false
	}
}

// Flags is the user bit-set: admin grants cross-channel moderation, webhook
// marks a synthesized author that is never resolved against this table.
type Flags uint32

const (
	FlagAdmin Flags = 1 << iota
	FlagWebhook
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// User holds the core identity fields read from the database.
type User struct {
	ID               uuid.UUID
	Username         string
	Email            string
	PasswordHash     string
	Token            string
	DefaultStatus    Status
	AvatarURL        *string
	Bio              *string
	Color            *string
	BackgroundColor  *string
	Flags            Flags
	Verified         bool
	VerificationCode string
	Bytes            int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ToModel converts the internal user struct to the wire projection.
// currentStatus is derived from the presence store by the caller; it is
// never read from the User record itself.
func (u *User) ToModel(currentStatus string, includeEmail bool) models.User {
	out := models.User{
		ID:              u.ID.String(),
		Username:        u.Username,
		DefaultStatus:   string(u.DefaultStatus),
		CurrentStatus:   currentStatus,
		AvatarURL:       u.AvatarURL,
		Bio:             u.Bio,
		Color:           u.Color,
		BackgroundColor: u.BackgroundColor,
		Verified:        u.Verified,
		CreatedAt:       models.FormatTime(u.CreatedAt),
		UpdatedAt:       models.FormatTime(u.UpdatedAt),
	}
	if includeEmail {
		email := u.Email
		out.Email = &email
	}
	return out
}

// ToAuthor synthesizes the flattened Author projection attached to messages.
func (u *User) ToAuthor() models.Author {
	return models.Author{
		ID:        u.ID.String(),
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Flags: models.Flags{
			Admin:   u.Flags.Has(FlagAdmin),
			Webhook: u.Flags.Has(FlagWebhook),
		},
	}
}

// CreateParams groups the inputs for creating a new user.
type CreateParams struct {
	Username         string
	Email            string
	PasswordHash     string
	Token            string
	VerificationCode string
}

// UpdateParams groups the optional fields for updating a user profile. Only
// {username, default_status, bio, email, color, background_color} may be
// edited via PATCH /v1/users/@me.
type UpdateParams struct {
	Username        *string
	Email           *string
	DefaultStatus   *Status
	Bio             *string
	Color           *string
	BackgroundColor *string
}

// TombstoneType identifies the kind of identifier stored in a deletion tombstone.
type TombstoneType string

const (
	TombstoneEmail    TombstoneType = "email"
	TombstoneUsername TombstoneType = "username"
)

// Tombstone represents an HMAC hash of an identifier that belonged to a
// deleted account, used to prevent re-registration with the same email or
// username.
type Tombstone struct {
	IdentifierType TombstoneType
	HMACHash       string
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidateBio checks that a non-nil bio is at most 1000 Unicode characters.
func ValidateBio(bio *string) error {
	if bio == nil {
		return nil
	}
	if utf8.RuneCountInString(*bio) > 1000 {
		return ErrBioLength
	}
	return nil
}

// ValidateColor checks that a non-nil color is a #RRGGBB hex string.
func ValidateColor(color *string) error {
	if color == nil {
		return nil
	}
	if !colorPattern.MatchString(*color) {
		return ErrInvalidColor
	}
	return nil
}

// ValidateDefaultStatus checks that a non-nil status is one of the enumerated values.
func ValidateDefaultStatus(s *Status) error {
	if s == nil {
		return nil
	}
	if !validStatus(*s) {
		return ErrInvalidStatus
	}
	return nil
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByToken(ctx context.Context, token string) (*User, error)
	VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error
	ReplaceVerificationCode(ctx context.Context, userID uuid.UUID, code string) error
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	RotateToken(ctx context.Context, userID uuid.UUID, token string) error
	SetAvatarURL(ctx context.Context, userID uuid.UUID, avatarURL *string) error
	ListAllIDs(ctx context.Context) ([]uuid.UUID, error)
	IncrementBytes(ctx context.Context, userID uuid.UUID, delta int64) error
	DeleteWithTombstones(ctx context.Context, id uuid.UUID, tombstones []Tombstone) error
	CheckTombstone(ctx context.Context, identifierType TombstoneType, hmacHash string) (bool, error)
}
