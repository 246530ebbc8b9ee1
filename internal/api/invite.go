package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/invite"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/models"
)

// InviteHandler serves channel-invite endpoints.
type InviteHandler struct {
	invites  invite.Repository
	channels channel.Repository
	members  member.Repository
	messages message.Repository
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewInviteHandler creates a new invite handler.
func NewInviteHandler(invites invite.Repository, channels channel.Repository, members member.Repository, messages message.Repository, bus *eventbus.Bus, logger zerolog.Logger) *InviteHandler {
	return &InviteHandler{invites: invites, channels: channels, members: members, messages: messages, bus: bus, log: logger}
}

// ListInvites handles GET /v1/channels/:channelID/invites. Only the channel owner may list its invites.
func (h *InviteHandler) ListInvites(c fiber.Ctx) error {
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
		return h.mapInviteError(c, err)
	}
	if ch.AuthorID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, "only the channel owner may list invites")
	}

	var after *uuid.UUID
	if raw := c.Query("after"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid after parameter")
		}
		after = &id
	}
	limit := invite.ClampLimit(atoiOrZero(c.Query("limit")))

	invites, err := h.invites.List(c.Context(), channelID, after, limit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "invite").Msg("list invites failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	result := make([]models.Invite, len(invites))
	for i := range invites {
		result[i] = invites[i].ToModel()
	}
	return httputil.Success(c, result)
}

type createInviteRequest struct {
	MaxUses       *int `json:"max_uses,omitempty"`
	MaxAgeSeconds *int `json:"max_age_seconds,omitempty"`
}

// CreateInvite handles POST /v1/channels/:channelID/invites. Only the channel owner may create invites.
func (h *InviteHandler) CreateInvite(c fiber.Ctx) error {
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
		return h.mapInviteError(c, err)
	}
	if ch.AuthorID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, "only the channel owner may create invites")
	}

	var body createInviteRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := invite.ValidateMaxUses(body.MaxUses); err != nil {
		return h.mapInviteError(c, err)
	}
	if err := invite.ValidateMaxAge(body.MaxAgeSeconds); err != nil {
		return h.mapInviteError(c, err)
	}

	inv, err := h.invites.Create(c.Context(), userID, invite.CreateParams{
		ChannelID:     channelID,
		MaxUses:       body.MaxUses,
		MaxAgeSeconds: body.MaxAgeSeconds,
	})
	if err != nil {
		return h.mapInviteError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, inv.ToModel())
}

// JoinInvite handles POST /v1/invites/:code/join. A successful join adds the caller as an explicit channel member
// and emits a join system message; an exhausted or expired invite returns 410 Gone.
func (h *InviteHandler) JoinInvite(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	code := c.Params("code")

	inv, err := h.invites.Use(c.Context(), code)
	if err != nil {
		return h.mapInviteError(c, err)
	}

	if err := h.members.Add(c.Context(), inv.ChannelID, userID); err != nil && !errors.Is(err, member.ErrAlreadyMember) {
		h.log.Error().Err(err).Str("handler", "invite").Msg("add member failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	msg, err := h.messages.Create(c.Context(), message.CreateParams{
		ChannelID: inv.ChannelID,
		AuthorID:  userID,
		Type:      message.TypeJoin,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("handler", "invite").Msg("create join system message failed")
	} else {
		h.publish(events.TypeMessageCreated, events.MessageCreated{
			Message: toSystemMessageModel(msg),
			Author:  &models.Author{ID: userID.String()},
		})
	}

	return httputil.Success(c, inv.ToModel())
}

// DeleteInvite handles DELETE /v1/channels/:channelID/invites/:code. Only the channel owner may revoke an invite.
// The route's path parameter names the invite by its code, its only public identifier.
func (h *InviteHandler) DeleteInvite(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	code := c.Params("code")

	inv, err := h.invites.GetByCode(c.Context(), code)
	if err != nil {
		return h.mapInviteError(c, err)
	}

	ch, err := h.channels.GetByID(c.Context(), inv.ChannelID)
	if err != nil {
		return h.mapInviteError(c, err)
	}
	if ch.AuthorID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, "only the channel owner may revoke invites")
	}

	if err := h.invites.Delete(c.Context(), code); err != nil {
		return h.mapInviteError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// toSystemMessageModel projects a bare join/leave-type message without resolving author/file joins, since a system
// message never carries content, files, or embeds and the author is always the affected user themselves.
func toSystemMessageModel(m *message.Message) models.Message {
	return models.Message{
		ID:        m.ID.String(),
		ChannelID: m.ChannelID.String(),
		Type:      string(m.Type),
		CreatedAt: models.FormatTime(m.CreatedAt),
		UpdatedAt: models.FormatTime(m.UpdatedAt),
	}
}

// publish encodes and fire-and-forget publishes an event envelope to the bus.
func (h *InviteHandler) publish(t events.Type, payload any) {
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

// mapInviteError converts invite-layer errors to appropriate HTTP responses.
func (h *InviteHandler) mapInviteError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, invite.ErrNotFound), errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "invite not found")
	case errors.Is(err, invite.ErrChannelNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "channel not found")
	case errors.Is(err, invite.ErrExpired), errors.Is(err, invite.ErrMaxUsesReached):
		return httputil.Fail(c, fiber.StatusGone, err.Error())
	case errors.Is(err, invite.ErrInvalidMaxUses), errors.Is(err, invite.ErrInvalidMaxAge):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "invite").Msg("unhandled invite service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
