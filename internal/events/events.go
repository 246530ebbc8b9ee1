// Package events implements the event codec: a sealed set of payload
// variants and the bidirectional mapping between them and the wire envelope
// {t, d, ts}. It replaces the external uncord-protocol/events package, which
// is not a dependency this module can reach.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uncord-chat/uncord-server/internal/models"
)

// Type is the envelope discriminator tag.
type Type string

// The enumerated event variants. This set is total: Decode never fails on an
// unrecognised tag, it simply reports it as unknown (forward compatibility).
const (
	TypeChannelCreated Type = "channel_created"
	TypeChannelUpdated Type = "channel_updated"
	TypeChannelDeleted Type = "channel_deleted"
	TypeMessageCreated Type = "message_created"
	TypeMessageUpdated Type = "message_updated"
	TypeMessageDeleted Type = "message_deleted"
	TypeAuthorUpdated  Type = "author_updated"
	TypeTypingStarted  Type = "typing_started"
	TypeHeartbeat      Type = "heartbeat"
)

// Envelope is the wire form of an event.
type Envelope struct {
	T  Type            `json:"t"`
	D  json.RawMessage `json:"d"`
	TS string          `json:"ts"`
}

// Payload variants. Each corresponds to exactly one Type.

type ChannelCreated struct {
	Channel models.Channel `json:"channel"`
}

type ChannelUpdated struct {
	Channel models.Channel `json:"channel"`
}

type ChannelDeleted struct {
	ChannelID string `json:"channel_id"`
}

type MessageCreated struct {
	Message models.Message  `json:"message"`
	Author  *models.Author  `json:"author,omitempty"`
	Channel *models.Channel `json:"channel,omitempty"`
}

type MessageUpdated struct {
	Message models.Message `json:"message"`
}

type MessageDeleted struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

type AuthorUpdated struct {
	Author models.Author `json:"author"`
}

type TypingStarted struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// Heartbeat carries no payload.
type Heartbeat struct{}

// Encode serializes a typed payload into a wire Envelope stamped with the
// current time. Datetimes embedded in payload fields must already be
// formatted as ISO-8601 with a trailing Z by the caller (see models
// package); the codec itself only stamps the envelope timestamp.
func Encode(t Type, payload any) (Envelope, error) {
	d, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode event payload: %w", err)
	}
	return Envelope{
		T:  t,
		D:  d,
		TS: fmt.Sprintf("%d", time.Now().UnixMilli()),
	}, nil
}

// ErrUnknownType is returned by Decode for a tag outside the enumerated set.
// Callers should treat this as "drop silently," never as a hard failure.
type ErrUnknownType struct {
	Type Type
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// Decode inverts Encode, unmarshalling the payload into the concrete Go type
// for env.T. It returns *ErrUnknownType for a tag the codec does not
// recognise; callers must not treat that as fatal.
func Decode(env Envelope) (any, error) {
	var (
		payload any
		err     error
	)
	switch env.T {
	case TypeChannelCreated:
		var p ChannelCreated
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeChannelUpdated:
		var p ChannelUpdated
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeChannelDeleted:
		var p ChannelDeleted
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeMessageCreated:
		var p MessageCreated
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeMessageUpdated:
		var p MessageUpdated
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeMessageDeleted:
		var p MessageDeleted
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeAuthorUpdated:
		var p AuthorUpdated
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeTypingStarted:
		var p TypingStarted
		err = json.Unmarshal(env.D, &p)
		payload = p
	case TypeHeartbeat:
		payload = Heartbeat{}
	default:
		return nil, &ErrUnknownType{Type: env.T}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.T, err)
	}
	return payload, nil
}

// ChannelIDOf reports the channel id an entitlement check should consult for
// the given decoded payload, and whether the event is channel-scoped at all.
// Non-channel-scoped events (author_updated, typing_started carries its own
// channel_id handled separately, heartbeat) return ok=false meaning "always
// deliver."
func ChannelIDOf(t Type, payload any) (channelID string, scoped bool) {
	switch t {
	case TypeChannelCreated:
		return payload.(ChannelCreated).Channel.ID, true
	case TypeChannelUpdated:
		return payload.(ChannelUpdated).Channel.ID, true
	case TypeChannelDeleted:
		return payload.(ChannelDeleted).ChannelID, true
	case TypeMessageCreated:
		return payload.(MessageCreated).Message.ChannelID, true
	case TypeMessageUpdated:
		return payload.(MessageUpdated).Message.ChannelID, true
	case TypeMessageDeleted:
		return payload.(MessageDeleted).ChannelID, true
	default:
		return "", false
	}
}

// FormatTimestamp renders t as the ISO-8601 millisecond form the data model
// requires everywhere outside the envelope's own ts field.
func FormatTimestamp(t time.Time) string {
	return models.FormatTime(t)
}
