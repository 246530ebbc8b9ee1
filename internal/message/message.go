package message

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrNonceTooLong   = errors.New("nonce exceeds the maximum length")
	ErrTooManyFiles   = errors.New("too many file ids attached")
	ErrTooManyEmbeds  = errors.New("too many embeds attached")
	ErrEmptyMessage   = errors.New("message must have content, file ids, or embeds")
	ErrEmbedFieldLong = errors.New("embed field exceeds its maximum length")
	ErrEmbedBadColor  = errors.New("embed color must be a #RRGGBB hex value")
	ErrEmbedBadURL    = errors.New("embed url fields must be http(s) urls")
	ErrNotAuthor      = errors.New("you can only modify your own messages")
	ErrAlreadyDeleted = errors.New("message has already been deleted")
	ErrFileNotFound   = errors.New("one or more file ids do not exist")
	ErrFileNotOwned   = errors.New("one or more files are not owned by you or not yet uploaded")
)

// Type enumerates the kinds of message a channel can contain.
type Type string

const (
	TypeDefault Type = "default"
	TypeJoin    Type = "join"
	TypeLeave   Type = "leave"
)

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

const (
	MaxContentLength = 4000
	MaxNonceLength   = 100
	MaxFileIDs       = 10
	MaxEmbeds        = 10
	MaxEmbedShort    = 256
	MaxEmbedLong     = 4096
)

// mentionPattern matches an '@' not preceded by a username character, followed by 1-32 username characters. Go's
// regexp package has no lookbehind, so the excluded preceding character is captured and stripped by the caller.
var mentionPattern = regexp.MustCompile(`(^|[^A-Za-z0-9_-])@([A-Za-z0-9_-]{1,32})`)

// colorPattern matches a #RRGGBB hex color.
var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Embed is a rich preview attached to a message, either supplied by the author (user_embeds) or computed by the
// unfurler (system_embeds).
type Embed struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	VideoURL    *string `json:"video_url,omitempty"`
	AudioURL    *string `json:"audio_url,omitempty"`
	SiteName    *string `json:"site_name,omitempty"`
	Color       *string `json:"color,omitempty"`
	Footer      *string `json:"footer,omitempty"`
}

// Message holds the fields read from the database. Author and file projections are resolved separately by the
// caller via the user and file repositories, since messages only reference them by id.
type Message struct {
	ID           uuid.UUID
	ChannelID    uuid.UUID
	AuthorID     uuid.UUID
	Type         Type
	Content      *string
	Nonce        *string
	FileIDs      []uuid.UUID
	UserEmbeds   []Embed
	SystemEmbeds []Embed
	Mentions     []uuid.UUID
	EditedAt     *time.Time
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Embeds returns the user-supplied and system-unfurled embeds concatenated, user embeds first, matching the wire
// projection's combined embeds field.
func (m Message) Embeds() []Embed {
	if len(m.UserEmbeds) == 0 {
		return m.SystemEmbeds
	}
	if len(m.SystemEmbeds) == 0 {
		return m.UserEmbeds
	}
	out := make([]Embed, 0, len(m.UserEmbeds)+len(m.SystemEmbeds))
	out = append(out, m.UserEmbeds...)
	out = append(out, m.SystemEmbeds...)
	return out
}

// Deleted reports whether the message has been soft-deleted.
func (m Message) Deleted() bool { return m.DeletedAt != nil }

// CreateParams groups the inputs for creating a new message.
type CreateParams struct {
	ChannelID  uuid.UUID
	AuthorID   uuid.UUID
	Type       Type
	Content    *string
	Nonce      *string
	FileIDs    []uuid.UUID
	UserEmbeds []Embed
	Mentions   []uuid.UUID
}

// UpdateParams groups the inputs for editing an existing message.
type UpdateParams struct {
	Content  *string
	Mentions []uuid.UUID
}

// ValidateContent trims content and checks that it does not exceed MaxContentLength runes. An empty string after
// trimming is valid here — callers enforce the content/file_ids/embeds non-empty invariant separately, since a
// message may carry only files or embeds.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ValidateNonce checks a nonce does not exceed MaxNonceLength runes.
func ValidateNonce(nonce string) error {
	if utf8.RuneCountInString(nonce) > MaxNonceLength {
		return ErrNonceTooLong
	}
	return nil
}

// ValidateFileIDs checks that no more than MaxFileIDs are attached.
func ValidateFileIDs(ids []uuid.UUID) error {
	if len(ids) > MaxFileIDs {
		return ErrTooManyFiles
	}
	return nil
}

// ValidateEmbeds checks the embed count and per-field caps described by the ingestion rules: title/footer ≤256,
// description ≤4096, color must be #RRGGBB, and url/image_url must be http(s).
func ValidateEmbeds(embeds []Embed) error {
	if len(embeds) > MaxEmbeds {
		return ErrTooManyEmbeds
	}
	for _, e := range embeds {
		if e.Title != nil && utf8.RuneCountInString(*e.Title) > MaxEmbedShort {
			return ErrEmbedFieldLong
		}
		if e.Footer != nil && utf8.RuneCountInString(*e.Footer) > MaxEmbedShort {
			return ErrEmbedFieldLong
		}
		if e.Description != nil && utf8.RuneCountInString(*e.Description) > MaxEmbedLong {
			return ErrEmbedFieldLong
		}
		if e.Color != nil && !colorPattern.MatchString(*e.Color) {
			return ErrEmbedBadColor
		}
		if e.URL != nil && !isHTTPURL(*e.URL) {
			return ErrEmbedBadURL
		}
		if e.ImageURL != nil && !isHTTPURL(*e.ImageURL) {
			return ErrEmbedBadURL
		}
	}
	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// RequireNonEmpty enforces that a default message carries at least one of content, file ids, or embeds.
func RequireNonEmpty(content string, fileIDs []uuid.UUID, embeds []Embed) error {
	if content == "" && len(fileIDs) == 0 && len(embeds) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

// ExtractMentionCandidates tokenizes content for @mentions, returning the candidate usernames in first-occurrence
// order, deduplicated, capped at 25. The caller is responsible for resolving candidates to user ids and for scoping
// that resolution to channel membership in private channels.
func ExtractMentionCandidates(content string) []string {
	const maxCandidates = 25

	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		name := strings.ToLower(m[2])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		if len(out) >= maxCandidates {
			break
		}
	}
	return out
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

// ListParams groups the cursor-pagination and filter inputs for listing a channel's messages. Exactly one of After
// or Before may be set; when both are nil, the most recent Limit messages are returned. AuthorID and Contains are
// optional narrowing filters.
type ListParams struct {
	After    *uuid.UUID
	Before   *uuid.UUID
	Limit    int
	AuthorID *uuid.UUID
	Contains string
}

// Repository defines the data-access contract for message operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// List returns messages matching params. Results are ordered newest-first unless After is set without Before, in
	// which case they are returned oldest-first so the page reads forward from the cursor.
	List(ctx context.Context, channelID uuid.UUID, params ListParams) ([]Message, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*Message, error)
	// UpdateSystemEmbeds replaces a message's unfurled embeds. Returns (unchanged=true, nil) without writing when the
	// new set is equal to the existing one, so callers can skip emitting message_updated.
	UpdateSystemEmbeds(ctx context.Context, id uuid.UUID, embeds []Embed) (unchanged bool, err error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}
