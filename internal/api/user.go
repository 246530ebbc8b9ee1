package api

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/emoji"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/media"
	"github.com/uncord-chat/uncord-server/internal/presence"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// UserHandler serves user profile endpoints.
type UserHandler struct {
	users    user.Repository
	presence *presence.Store
	storage  media.StorageProvider
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users user.Repository, presenceStore *presence.Store, storage media.StorageProvider,
	bus *eventbus.Bus, logger zerolog.Logger,
) *UserHandler {
	return &UserHandler{users: users, presence: presenceStore, storage: storage, bus: bus, log: logger}
}

// currentStatus derives a user's live presence: their default status if they hold at least one active connection,
// otherwise offline.
func (h *UserHandler) currentStatus(c fiber.Ctx, u *user.User) string {
	active, err := h.presence.CountActive(c.Context(), u.ID.String())
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("presence lookup failed, defaulting to offline")
		return "offline"
	}
	if active == 0 {
		return "offline"
	}
	return string(u.DefaultStatus)
}

// GetUser handles GET /v1/users/@me and GET /v1/users/:userID. Only the caller's own record includes email.
func (h *UserHandler) GetUser(c fiber.Ctx) error {
	callerID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	raw := c.Params("userID")
	targetID := callerID
	if raw != "" && raw != "@me" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid user id")
		}
		targetID = id
	}

	u, err := h.users.GetByID(c.Context(), targetID)
	if err != nil {
		return h.mapUserError(c, err)
	}

	return httputil.Success(c, u.ToModel(h.currentStatus(c, u), targetID == callerID))
}

type updateUserRequest struct {
	Username        *string     `json:"username,omitempty"`
	Email           *string     `json:"email,omitempty"`
	DefaultStatus   *user.Status `json:"default_status,omitempty"`
	Bio             *string     `json:"bio,omitempty"`
	Color           *string     `json:"color,omitempty"`
	BackgroundColor *string     `json:"background_color,omitempty"`
}

// UpdateMe handles PATCH /v1/users/@me.
func (h *UserHandler) UpdateMe(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body updateUserRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := user.ValidateBio(body.Bio); err != nil {
		return h.mapUserError(c, err)
	}
	if err := user.ValidateColor(body.Color); err != nil {
		return h.mapUserError(c, err)
	}
	if err := user.ValidateColor(body.BackgroundColor); err != nil {
		return h.mapUserError(c, err)
	}
	if err := user.ValidateDefaultStatus(body.DefaultStatus); err != nil {
		return h.mapUserError(c, err)
	}

	u, err := h.users.Update(c.Context(), userID, user.UpdateParams{
		Username:        body.Username,
		Email:           body.Email,
		DefaultStatus:   body.DefaultStatus,
		Bio:             body.Bio,
		Color:           body.Color,
		BackgroundColor: body.BackgroundColor,
	})
	if err != nil {
		return h.mapUserError(c, err)
	}

	status := h.currentStatus(c, u)
	h.publishAuthorUpdated(u, status)

	return httputil.Success(c, u.ToModel(status, true))
}

type uploadAvatarRequest struct {
	Image string `json:"image"`
}

// UploadAvatar handles POST /v1/users/@me/avatar. The image is a data: URL, capped at emoji.MaxImageBytes and
// restricted to image/* (excluding svg) the same way a custom emoji upload is.
func (h *UserHandler) UploadAvatar(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body uploadAvatarRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	img, err := emoji.DecodeDataURL(body.Image)
	if err != nil {
		return h.mapAvatarImageError(c, err)
	}

	key := "avatars/" + userID.String()
	if err := h.storage.Put(c.Context(), key, bytes.NewReader(img.Bytes)); err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("write avatar image failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	url := h.storage.BuildPublicURL(key, time.Now().UnixMilli())
	if err := h.users.SetAvatarURL(c.Context(), userID, &url); err != nil {
		return h.mapUserError(c, err)
	}

	u, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return h.mapUserError(c, err)
	}

	status := h.currentStatus(c, u)
	h.publishAuthorUpdated(u, status)

	return httputil.Success(c, u.ToModel(status, true))
}

// DeleteAvatar handles DELETE /v1/users/@me/avatar.
func (h *UserHandler) DeleteAvatar(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	if err := h.users.SetAvatarURL(c.Context(), userID, nil); err != nil {
		return h.mapUserError(c, err)
	}

	if err := h.storage.Delete(c.Context(), "avatars/"+userID.String()); err != nil {
		h.log.Warn().Err(err).Str("handler", "user").Msg("delete avatar image failed")
	}

	u, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return h.mapUserError(c, err)
	}

	status := h.currentStatus(c, u)
	h.publishAuthorUpdated(u, status)

	return httputil.Success(c, u.ToModel(status, true))
}

// publishAuthorUpdated fire-and-forget publishes an author_updated envelope reflecting u's current projection.
// Failures are logged, never surfaced: the REST response already reflects the durable write.
func (h *UserHandler) publishAuthorUpdated(u *user.User, currentStatus string) {
	if h.bus == nil {
		return
	}
	author := u.ToAuthor()
	author.CurrentStatus = currentStatus

	env, err := events.Encode(events.TypeAuthorUpdated, events.AuthorUpdated{Author: author})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode author_updated")
		return
	}
	go func() {
		if _, err := h.bus.Publish(context.Background(), env); err != nil {
			h.log.Warn().Err(err).Msg("event bus publish failed")
		}
	}()
}

// mapAvatarImageError converts emoji-package data-URL decode errors (reused for the avatar image pipeline) to
// appropriate HTTP responses.
func (h *UserHandler) mapAvatarImageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, emoji.ErrBadDataURL), errors.Is(err, emoji.ErrBadContentType),
		errors.Is(err, emoji.ErrBadBase64), errors.Is(err, emoji.ErrTooLarge):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "user").Msg("unhandled avatar decode error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// mapUserError converts user-layer errors to appropriate HTTP responses.
func (h *UserHandler) mapUserError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, user.ErrAlreadyExists), errors.Is(err, user.ErrTombstoned):
		return httputil.Fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, user.ErrBioLength),
		errors.Is(err, user.ErrInvalidColor),
		errors.Is(err, user.ErrInvalidStatus):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "user").Msg("unhandled user service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
