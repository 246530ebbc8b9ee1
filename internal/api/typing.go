package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/member"
)

// TypingHandler serves the typing indicator endpoint.
type TypingHandler struct {
	channels channel.Repository
	members  member.Repository
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewTypingHandler creates a new typing handler.
func NewTypingHandler(channels channel.Repository, members member.Repository, bus *eventbus.Bus, logger zerolog.Logger) *TypingHandler {
	return &TypingHandler{channels: channels, members: members, bus: bus, log: logger}
}

// StartTyping handles POST /v1/channels/:channelID/typing. It requires the same access a message author would need,
// then publishes typing_started; there is no persisted state and no corresponding stop event.
func (h *TypingHandler) StartTyping(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		if err == channel.ErrNotFound {
			return httputil.Fail(c, fiber.StatusNotFound, "channel not found")
		}
		h.log.Error().Err(err).Str("handler", "typing").Msg("get channel failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	allowed, err := member.CanAccess(c.Context(), h.members, ch.ID, ch.Private, ch.AuthorID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "typing").Msg("membership check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, "you do not have access to this channel")
	}

	if h.bus != nil {
		env, err := events.Encode(events.TypeTypingStarted, events.TypingStarted{
			ChannelID: channelID.String(),
			UserID:    userID.String(),
		})
		if err != nil {
			h.log.Error().Err(err).Msg("failed to encode typing_started event")
		} else {
			go func() {
				if _, err := h.bus.Publish(context.Background(), env); err != nil {
					h.log.Warn().Err(err).Msg("typing_started publish failed")
				}
			}()
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}
