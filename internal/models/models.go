// Package models defines the flattened wire projections returned over REST
// and carried inside event envelopes. Domain records (internal/user,
// internal/channel, internal/message, ...) store only ids; cyclic references
// such as Message -> Author -> ... are resolved once, here, at the
// serialization boundary, rather than inside the domain records themselves.
package models

import "time"

// FormatTime renders t as millisecond-precision ISO-8601 with a trailing Z,
// the wire format every timestamp field in this package uses.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Author is the synthesized, user-or-webhook identity attached to a message
// projection. Flags.Webhook is the only signal consumers should use to
// distinguish a webhook author — author_id is never looked up against the
// user table for a webhook-authored message.
type Author struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	DisplayName   *string `json:"display_name,omitempty"`
	AvatarURL     *string `json:"avatar_url,omitempty"`
	Flags         Flags   `json:"flags"`
	CurrentStatus string  `json:"current_status,omitempty"`
}

// Flags is the author bit-set projection.
type Flags struct {
	Admin   bool `json:"admin,omitempty"`
	Webhook bool `json:"webhook,omitempty"`
}

// User is the full profile projection returned by the users endpoints.
type User struct {
	ID              string  `json:"id"`
	Username        string  `json:"username"`
	Email           *string `json:"email,omitempty"`
	DefaultStatus   string  `json:"default_status"`
	CurrentStatus   string  `json:"current_status"`
	AvatarURL       *string `json:"avatar_url,omitempty"`
	Bio             *string `json:"bio,omitempty"`
	Color           *string `json:"color,omitempty"`
	BackgroundColor *string `json:"background_color,omitempty"`
	Verified        bool    `json:"verified"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// Channel is the channel projection.
type Channel struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Topic         *string `json:"topic,omitempty"`
	AuthorID      string  `json:"author_id"`
	Private       bool    `json:"private"`
	LastMessageAt *string `json:"last_message_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Embed is a rich preview attached to a message, either supplied by the
// client/webhook (user_embeds) or computed by the unfurler (system_embeds).
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

// File is the StoredFile projection attached to a message.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is the full message projection, with Author/Files/Embeds flattened
// in rather than left as bare ids.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Type      string    `json:"type"`
	Content   *string   `json:"content,omitempty"`
	Nonce     *string   `json:"nonce,omitempty"`
	Author    *Author   `json:"author,omitempty"`
	Files     []File    `json:"files,omitempty"`
	Embeds    []Embed   `json:"embeds,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	EditedAt  *string   `json:"edited_at,omitempty"`
}

// Member is the channel-membership projection.
type Member struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	CreatedAt string `json:"created_at"`
}

// Invite is the channel-invite projection.
type Invite struct {
	Code      string  `json:"code"`
	ChannelID string  `json:"channel_id"`
	AuthorID  string  `json:"author_id"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	MaxUses   *int    `json:"max_uses,omitempty"`
	Uses      int     `json:"uses"`
}

// Emoji is the custom emoji projection.
type Emoji struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Name     string `json:"name"`
	Animated bool   `json:"animated"`
	URL      string `json:"url"`
}

// Webhook is the webhook projection (secret is never included).
type Webhook struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Color     *string `json:"color,omitempty"`
}
