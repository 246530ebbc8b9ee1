// Package emoji implements the Emoji entity: a small image a user uploads
// once and then references by name in message content. Each emoji is
// stored under two object-store keys — a stable "emojis/{id}" key messages
// can always resolve, and an extension-qualified "emojis/{id}.{ext}" key
// kept for clients that still expect one.
package emoji

import (
	"context"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/models"
)

// Sentinel errors for the emoji package.
var (
	ErrNotFound       = errors.New("emoji not found")
	ErrAlreadyExists  = errors.New("you already have an emoji with that name")
	ErrNameLength     = errors.New("emoji name must be between 2 and 32 characters")
	ErrNameChars      = errors.New("emoji name may only contain lowercase letters, digits, and underscores")
	ErrBadDataURL     = errors.New("image must be a data: URL")
	ErrBadContentType = errors.New("image content type must be image/* and not image/svg+xml")
	ErrBadBase64      = errors.New("image data is not valid base64")
	ErrTooLarge       = errors.New("image exceeds the maximum size of 1,000,000 bytes")
)

// MaxImageBytes is the largest decoded image an emoji upload may contain.
const MaxImageBytes = 1_000_000

var namePattern = regexp.MustCompile(`^[a-z0-9_]{2,32}$`)

// mimeToExt maps an accepted content type to the file extension its stored
// object key is suffixed with. Types not listed here fall back to
// extByGenericImageType when the subtype looks like a plausible image
// format name.
var mimeToExt = map[string]string{
	"image/png":  "png",
	"image/gif":  "gif",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
	"image/avif": "avif",
	"image/bmp":  "bmp",
}

// genericImageSubtype matches the subtype of any image/* content type this package is willing to accept as a
// fallback when it is not one of the well-known types in mimeToExt.
var genericImageSubtype = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9+.-]*$`)

// Emoji holds the fields read from the emojis table.
type Emoji struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Animated  bool
	Ext       string
	CreatedAt time.Time
}

// Key returns the stable object-store key every emoji resolves through.
func (e *Emoji) Key() string {
	return "emojis/" + e.ID.String()
}

// LegacyKey returns the extension-qualified key kept alongside Key for
// clients that still expect one.
func (e *Emoji) LegacyKey() string {
	return "emojis/" + e.ID.String() + "." + e.Ext
}

// ToModel converts the internal emoji struct to the wire projection.
// urlForKey maps the emoji's canonical storage key to a public URL.
func (e *Emoji) ToModel(urlForKey func(key string) string) models.Emoji {
	return models.Emoji{
		ID:       e.ID.String(),
		OwnerID:  e.OwnerID.String(),
		Name:     e.Name,
		Animated: e.Animated,
		URL:      urlForKey(e.Key()),
	}
}

// CreateParams groups the inputs for creating a new emoji.
type CreateParams struct {
	OwnerID uuid.UUID
	Name    string
	Image   DecodedImage
}

// UpdateParams groups the inputs for renaming and/or re-uploading an
// emoji's image. A nil Image leaves the existing image untouched.
type UpdateParams struct {
	Name  *string
	Image *DecodedImage
}

// DecodedImage is a validated, decoded emoji image ready to be written to
// object storage.
type DecodedImage struct {
	Bytes    []byte
	MimeType string
	Ext      string
	Animated bool
}

// ValidateName checks that name is 2-32 runes of lowercase letters, digits, and underscores.
func ValidateName(name string) error {
	if utf8.RuneCountInString(name) < 2 || utf8.RuneCountInString(name) > 32 {
		return ErrNameLength
	}
	if !namePattern.MatchString(name) {
		return ErrNameChars
	}
	return nil
}

// DecodeDataURL parses a "data:<mime-type>;base64,<payload>" string,
// validates the content type and size, and returns the decoded image. The
// animated flag is derived from the resolved extension (gif is always
// treated as animated; nothing else currently is).
func DecodeDataURL(dataURL string) (DecodedImage, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return DecodedImage{}, ErrBadDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return DecodedImage{}, ErrBadDataURL
	}
	meta, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return DecodedImage{}, ErrBadDataURL
	}
	mimeType := meta
	if mimeType == "" {
		return DecodedImage{}, ErrBadDataURL
	}

	ext, err := extFor(mimeType)
	if err != nil {
		return DecodedImage{}, err
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DecodedImage{}, ErrBadBase64
	}
	if len(decoded) > MaxImageBytes {
		return DecodedImage{}, ErrTooLarge
	}

	return DecodedImage{
		Bytes:    decoded,
		MimeType: mimeType,
		Ext:      ext,
		Animated: ext == "gif",
	}, nil
}

// extFor resolves a content type to a storage-key extension, rejecting
// anything that is not a plausible image/* subtype (and explicitly
// rejecting image/svg+xml, which can carry script content).
func extFor(mimeType string) (string, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "image/svg") {
		return "", ErrBadContentType
	}
	if ext, ok := mimeToExt[mimeType]; ok {
		return ext, nil
	}
	subtype, ok := strings.CutPrefix(mimeType, "image/")
	if !ok || subtype == "" || !genericImageSubtype.MatchString(subtype) {
		return "", ErrBadContentType
	}
	return subtype, nil
}

// Repository defines the data-access contract for emoji operations.
type Repository interface {
	// Create inserts a new emoji row. Returns ErrAlreadyExists if the owner
	// already has an emoji with the same name (case-insensitive).
	Create(ctx context.Context, params CreateParams) (*Emoji, error)

	// GetByID returns a single emoji by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Emoji, error)

	// ListByOwner returns every emoji owned by ownerID.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Emoji, error)

	// Update renames and/or swaps the extension of an existing emoji. Only
	// the owner may call this; the caller is responsible for that check.
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Emoji, error)

	// Delete removes the emoji row, scoped to (id, ownerID) so a caller can
	// never delete another user's emoji by guessing an id.
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}
