package api

import (
	"bytes"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/emoji"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/media"
	"github.com/uncord-chat/uncord-server/internal/models"
)

// EmojiHandler serves custom emoji endpoints.
type EmojiHandler struct {
	emojis  emoji.Repository
	storage media.StorageProvider
	log     zerolog.Logger
}

// NewEmojiHandler creates a new emoji handler.
func NewEmojiHandler(emojis emoji.Repository, storage media.StorageProvider, logger zerolog.Logger) *EmojiHandler {
	return &EmojiHandler{emojis: emojis, storage: storage, log: logger}
}

// ListEmojis handles GET /v1/users/:userID/emojis (:userID may be "@me").
func (h *EmojiHandler) ListEmojis(c fiber.Ctx) error {
	callerID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	ownerID := callerID
	if raw := c.Params("userID"); raw != "" && raw != "@me" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid user id")
		}
		ownerID = id
	}

	list, err := h.emojis.ListByOwner(c.Context(), ownerID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "emoji").Msg("list emojis failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	result := make([]models.Emoji, len(list))
	for i := range list {
		result[i] = list[i].ToModel(h.storage.URL)
	}
	return httputil.Success(c, result)
}

type createEmojiRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// CreateEmoji handles POST /v1/users/@me/emojis.
func (h *EmojiHandler) CreateEmoji(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body createEmojiRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := emoji.ValidateName(body.Name); err != nil {
		return h.mapEmojiError(c, err)
	}
	img, err := emoji.DecodeDataURL(body.Image)
	if err != nil {
		return h.mapEmojiError(c, err)
	}

	e, err := h.emojis.Create(c.Context(), emoji.CreateParams{OwnerID: userID, Name: body.Name, Image: img})
	if err != nil {
		return h.mapEmojiError(c, err)
	}

	if err := h.writeImage(c, e, img); err != nil {
		h.log.Error().Err(err).Str("handler", "emoji").Msg("write emoji image failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, e.ToModel(h.storage.URL))
}

type updateEmojiRequest struct {
	Name  *string `json:"name,omitempty"`
	Image *string `json:"image,omitempty"`
}

// UpdateEmoji handles PATCH /v1/users/@me/emojis/:emojiID.
func (h *EmojiHandler) UpdateEmoji(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	id, err := uuid.Parse(c.Params("emojiID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid emoji id")
	}

	existing, err := h.emojis.GetByID(c.Context(), id)
	if err != nil {
		return h.mapEmojiError(c, err)
	}
	if existing.OwnerID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, "you do not own this emoji")
	}

	var body updateEmojiRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	params := emoji.UpdateParams{Name: body.Name}
	if body.Name != nil {
		if err := emoji.ValidateName(*body.Name); err != nil {
			return h.mapEmojiError(c, err)
		}
	}

	var img *emoji.DecodedImage
	if body.Image != nil {
		decoded, err := emoji.DecodeDataURL(*body.Image)
		if err != nil {
			return h.mapEmojiError(c, err)
		}
		img = &decoded
		params.Image = img
	}

	prevExt := existing.Ext
	updated, err := h.emojis.Update(c.Context(), id, params)
	if err != nil {
		return h.mapEmojiError(c, err)
	}

	if img != nil {
		if err := h.writeImage(c, updated, *img); err != nil {
			h.log.Error().Err(err).Str("handler", "emoji").Msg("write emoji image failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
		}
		if prevExt != updated.Ext {
			if err := h.storage.Delete(c.Context(), "emojis/"+id.String()+"."+prevExt); err != nil {
				h.log.Warn().Err(err).Str("handler", "emoji").Msg("delete stale emoji key failed")
			}
		}
	}

	return httputil.Success(c, updated.ToModel(h.storage.URL))
}

// DeleteEmoji handles DELETE /v1/users/@me/emojis/:emojiID.
func (h *EmojiHandler) DeleteEmoji(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	id, err := uuid.Parse(c.Params("emojiID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid emoji id")
	}

	existing, err := h.emojis.GetByID(c.Context(), id)
	if err != nil {
		return h.mapEmojiError(c, err)
	}
	if existing.OwnerID != userID {
		return httputil.Fail(c, fiber.StatusForbidden, "you do not own this emoji")
	}

	if err := h.emojis.Delete(c.Context(), id, userID); err != nil {
		return h.mapEmojiError(c, err)
	}

	if err := h.storage.Delete(c.Context(), existing.Key()); err != nil {
		h.log.Warn().Err(err).Str("handler", "emoji").Msg("delete emoji key failed")
	}
	if err := h.storage.Delete(c.Context(), existing.LegacyKey()); err != nil {
		h.log.Warn().Err(err).Str("handler", "emoji").Msg("delete legacy emoji key failed")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// writeImage writes img to both the canonical and legacy object-store keys for e.
func (h *EmojiHandler) writeImage(c fiber.Ctx, e *emoji.Emoji, img emoji.DecodedImage) error {
	if err := h.storage.Put(c.Context(), e.Key(), bytes.NewReader(img.Bytes)); err != nil {
		return err
	}
	return h.storage.Put(c.Context(), e.LegacyKey(), bytes.NewReader(img.Bytes))
}

func (h *EmojiHandler) mapEmojiError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, emoji.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "emoji not found")
	case errors.Is(err, emoji.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, emoji.ErrNameLength), errors.Is(err, emoji.ErrNameChars),
		errors.Is(err, emoji.ErrBadDataURL), errors.Is(err, emoji.ErrBadContentType),
		errors.Is(err, emoji.ErrBadBase64), errors.Is(err, emoji.ErrTooLarge):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "emoji").Msg("unhandled emoji service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
