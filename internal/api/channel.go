package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/models"
)

// ChannelHandler serves channel endpoints.
type ChannelHandler struct {
	channels channel.Repository
	members  member.Repository
	messages message.Repository
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(channels channel.Repository, members member.Repository, messages message.Repository, bus *eventbus.Bus, logger zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, members: members, messages: messages, bus: bus, log: logger}
}

// ListChannels handles GET /v1/channels. Returns every channel visible to the caller: public channels, channels the
// caller owns, and private channels the caller is an explicit member of.
func (h *ChannelHandler) ListChannels(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	all, err := h.channels.List(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("list channels failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	result := make([]models.Channel, len(all))
	for i := range all {
		result[i] = all[i].ToModel()
	}
	return httputil.Success(c, result)
}

type createChannelRequest struct {
	Name    string  `json:"name"`
	Topic   *string `json:"topic,omitempty"`
	Private bool    `json:"private,omitempty"`
}

// CreateChannel handles POST /v1/channels.
func (h *ChannelHandler) CreateChannel(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body createChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	name, err := channel.ValidateName(body.Name)
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if err := channel.ValidateTopic(body.Topic); err != nil {
		return h.mapChannelError(c, err)
	}

	ch, err := h.channels.Create(c.Context(), channel.CreateParams{
		Name:     name,
		Topic:    body.Topic,
		AuthorID: userID,
		Private:  body.Private,
	})
	if err != nil {
		return h.mapChannelError(c, err)
	}

	// The owner of a private channel is always an implicit member too, so membership queries never need a special case
	// for "am I the author."
	if ch.Private {
		if err := h.members.Add(c.Context(), ch.ID, userID); err != nil && !errors.Is(err, member.ErrAlreadyMember) {
			h.log.Warn().Err(err).Str("channel_id", ch.ID.String()).Msg("failed to add owner as member")
		}
	}

	result := ch.ToModel()
	h.publish(events.TypeChannelCreated, events.ChannelCreated{Channel: result})

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// GetChannel handles GET /v1/channels/:channelID.
func (h *ChannelHandler) GetChannel(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	id, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	ch, err := h.channels.GetByID(c.Context(), id)
	if err != nil {
		return h.mapChannelError(c, err)
	}

	allowed, err := member.CanAccess(c.Context(), h.members, ch.ID, ch.Private, ch.AuthorID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("membership check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, "you do not have access to this channel")
	}

	return httputil.Success(c, ch.ToModel())
}

type updateChannelRequest struct {
	Name  *string `json:"name,omitempty"`
	Topic *string `json:"topic,omitempty"`
}

// UpdateChannel handles PATCH /v1/channels/:channelID. Only the channel owner may update it.
func (h *ChannelHandler) UpdateChannel(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	id, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	existing, err := h.channels.GetByID(c.Context(), id)
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if existing.AuthorID != userID {
		return h.mapChannelError(c, channel.ErrNotOwner)
	}

	var body updateChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	if body.Name != nil {
		name, err := channel.ValidateName(*body.Name)
		if err != nil {
			return h.mapChannelError(c, err)
		}
		body.Name = &name
	}
	if err := channel.ValidateTopic(body.Topic); err != nil {
		return h.mapChannelError(c, err)
	}

	ch, err := h.channels.Update(c.Context(), id, channel.UpdateParams{Name: body.Name, Topic: body.Topic})
	if err != nil {
		return h.mapChannelError(c, err)
	}

	result := ch.ToModel()
	h.publish(events.TypeChannelUpdated, events.ChannelUpdated{Channel: result})

	return httputil.Success(c, result)
}

// DeleteChannel handles DELETE /v1/channels/:channelID. Only the channel owner may delete it.
func (h *ChannelHandler) DeleteChannel(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	id, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	existing, err := h.channels.GetByID(c.Context(), id)
	if err != nil {
		return h.mapChannelError(c, err)
	}
	if existing.AuthorID != userID {
		return h.mapChannelError(c, channel.ErrNotOwner)
	}

	if err := h.channels.Delete(c.Context(), id); err != nil {
		return h.mapChannelError(c, err)
	}

	h.publish(events.TypeChannelDeleted, events.ChannelDeleted{ChannelID: id.String()})

	return c.SendStatus(fiber.StatusNoContent)
}

// ListChannelMembers handles GET /v1/channels/:channelID/members.
func (h *ChannelHandler) ListChannelMembers(c fiber.Ctx) error {
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
		return h.mapChannelError(c, err)
	}

	allowed, err := member.CanAccess(c.Context(), h.members, ch.ID, ch.Private, ch.AuthorID, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("membership check failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	if !allowed {
		return httputil.Fail(c, fiber.StatusForbidden, "you do not have access to this channel")
	}

	var after *uuid.UUID
	if raw := c.Query("after"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid after parameter")
		}
		after = &id
	}
	rawLimit, _ := strconv.Atoi(c.Query("limit"))
	limit := member.ClampLimit(rawLimit)

	members, err := h.members.List(c.Context(), channelID, after, limit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("list channel members failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	result := make([]models.Member, len(members))
	for i := range members {
		result[i] = members[i].ToModel()
	}
	return httputil.Success(c, result)
}

// Join handles POST /v1/channels/:channelID/members/@me, adding the caller as an explicit member of a private
// channel. Joining a non-private channel is a no-op success, since membership there is already implicit.
func (h *ChannelHandler) Join(c fiber.Ctx) error {
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
		return h.mapChannelError(c, err)
	}
	if !ch.Private {
		return c.SendStatus(fiber.StatusNoContent)
	}

	if err := h.members.Add(c.Context(), channelID, userID); err != nil && !errors.Is(err, member.ErrAlreadyMember) {
		h.log.Error().Err(err).Str("handler", "channel").Msg("add member failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Leave handles DELETE /v1/channels/:channelID/members/@me.
func (h *ChannelHandler) Leave(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	if err := h.members.Remove(c.Context(), channelID, userID); err != nil && !errors.Is(err, member.ErrNotFound) {
		h.log.Error().Err(err).Str("handler", "channel").Msg("remove member failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	msg, err := h.messages.Create(c.Context(), message.CreateParams{
		ChannelID: channelID,
		AuthorID:  userID,
		Type:      message.TypeLeave,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("handler", "channel").Msg("create leave system message failed")
	} else {
		h.publish(events.TypeMessageCreated, events.MessageCreated{
			Message: toSystemMessageModel(msg),
			Author:  &models.Author{ID: userID.String()},
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// publish encodes and fire-and-forget publishes an event envelope to the bus. Failures are logged, never surfaced
// to the caller: the REST response already reflects the durable write, and delivery is a best-effort side effect.
func (h *ChannelHandler) publish(t events.Type, payload any) {
	if h.bus == nil {
		return
	}
	env, err := events.Encode(t, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(t)).Msg("failed to encode event")
		return
	}
	go func() {
		if _, err := h.bus.Publish(context.Background(), env); err != nil {
			h.log.Warn().Err(err).Str("event", string(t)).Msg("event bus publish failed")
		}
	}()
}

// mapChannelError converts channel-layer errors to appropriate HTTP responses.
func (h *ChannelHandler) mapChannelError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "channel not found")
	case errors.Is(err, channel.ErrNameLength), errors.Is(err, channel.ErrNameChars), errors.Is(err, channel.ErrTopicLength):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, channel.ErrNotOwner):
		return httputil.Fail(c, fiber.StatusForbidden, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "channel").Msg("unhandled channel service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
