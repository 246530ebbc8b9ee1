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
	"github.com/uncord-chat/uncord-server/internal/file"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/models"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// Unfurler produces system embeds for a message's content. It is consulted asynchronously after a message is
// persisted, only when the author did not supply embeds of their own.
type Unfurler interface {
	Unfurl(ctx context.Context, content string) []message.Embed
}

// MessageHandler serves message endpoints.
type MessageHandler struct {
	messages     message.Repository
	files        file.Repository
	channels     channel.Repository
	members      member.Repository
	users        user.Repository
	unfurler     Unfurler
	bus          *eventbus.Bus
	mediaBaseURL func(key string) string
	log          zerolog.Logger
}

// NewMessageHandler creates a new message handler. urlForFile maps a StoredFile's key to a public URL; unfurler may
// be nil to disable background embed extraction.
func NewMessageHandler(
	messages message.Repository,
	files file.Repository,
	channels channel.Repository,
	members member.Repository,
	users user.Repository,
	unfurler Unfurler,
	bus *eventbus.Bus,
	urlForFile func(key string) string,
	logger zerolog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messages:     messages,
		files:        files,
		channels:     channels,
		members:      members,
		users:        users,
		unfurler:     unfurler,
		bus:          bus,
		mediaBaseURL: urlForFile,
		log:          logger,
	}
}

// authorizeChannel loads the channel and confirms the caller may see it, returning the channel on success.
func (h *MessageHandler) authorizeChannel(c fiber.Ctx, channelID, userID uuid.UUID) (*channel.Channel, error) {
	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return nil, err
	}
	allowed, err := member.CanAccess(c.Context(), h.members, ch.ID, ch.Private, ch.AuthorID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errForbidden
	}
	return ch, nil
}

var errForbidden = errors.New("forbidden")

// ListMessages handles GET /v1/channels/:channelID/messages.
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	if _, err := h.authorizeChannel(c, channelID, userID); err != nil {
		return h.mapMessageError(c, err)
	}

	params := message.ListParams{Limit: message.ClampLimit(atoiOrZero(c.Query("limit")))}
	if raw := c.Query("after"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid after parameter")
		}
		params.After = &id
	}
	if raw := c.Query("before"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid before parameter")
		}
		params.Before = &id
	}
	if raw := c.Query("author_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid author_id parameter")
		}
		params.AuthorID = &id
	}
	params.Contains = c.Query("contains")

	msgs, err := h.messages.List(c.Context(), channelID, params)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	result, err := h.toMessageModels(c.Context(), msgs)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("resolve message projections failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	return httputil.Success(c, result)
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

type createMessageRequest struct {
	Content *string         `json:"content,omitempty"`
	Nonce   *string         `json:"nonce,omitempty"`
	FileIDs []string        `json:"file_ids,omitempty"`
	Embeds  []message.Embed `json:"embeds,omitempty"`
}

// CreateMessage handles POST /v1/channels/:channelID/messages.
func (h *MessageHandler) CreateMessage(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}

	ch, err := h.authorizeChannel(c, channelID, userID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	var body createMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	var content string
	if body.Content != nil {
		content, err = message.ValidateContent(*body.Content)
		if err != nil {
			return h.mapMessageError(c, err)
		}
	}
	if body.Nonce != nil {
		if err := message.ValidateNonce(*body.Nonce); err != nil {
			return h.mapMessageError(c, err)
		}
	}
	if err := message.ValidateEmbeds(body.Embeds); err != nil {
		return h.mapMessageError(c, err)
	}

	fileIDs := make([]uuid.UUID, 0, len(body.FileIDs))
	for _, raw := range body.FileIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid file id")
		}
		fileIDs = append(fileIDs, id)
	}
	if err := message.ValidateFileIDs(fileIDs); err != nil {
		return h.mapMessageError(c, err)
	}
	if err := message.RequireNonEmpty(content, fileIDs, body.Embeds); err != nil {
		return h.mapMessageError(c, err)
	}

	boundFiles, err := h.bindFiles(c.Context(), fileIDs, userID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	mentions, err := h.resolveMentions(c.Context(), content, ch, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("resolve mentions failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	var contentPtr *string
	if content != "" {
		contentPtr = &content
	}

	msg, err := h.messages.Create(c.Context(), message.CreateParams{
		ChannelID:  channelID,
		AuthorID:   userID,
		Type:       message.TypeDefault,
		Content:    contentPtr,
		Nonce:      body.Nonce,
		FileIDs:    fileIDs,
		UserEmbeds: body.Embeds,
		Mentions:   mentions,
	})
	if err != nil {
		return h.mapMessageError(c, err)
	}

	if err := h.channels.TouchLastMessageAt(c.Context(), channelID, msg.CreatedAt); err != nil {
		h.log.Warn().Err(err).Str("channel_id", channelID.String()).Msg("touch last_message_at failed")
	}

	var fileSize int64
	for _, f := range boundFiles {
		fileSize += f.Size
	}
	if delta := int64(len(content)) + fileSize; delta > 0 {
		if err := h.users.IncrementBytes(c.Context(), userID, delta); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("increment bytes failed")
		}
	}

	result, err := h.toMessageModel(c.Context(), msg)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("resolve message projection failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	h.publish(events.TypeMessageCreated, events.MessageCreated{Message: result})

	if len(body.Embeds) == 0 && h.unfurler != nil && content != "" {
		go h.scheduleUnfurl(msg.ID, content)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, result)
}

// scheduleUnfurl runs the unfurler against content and, if it produces a different set of system embeds than the
// message already has, updates the message and emits message_updated. Errors are logged only: an unfurl failure
// never surfaces to the client that already received its 201.
func (h *MessageHandler) scheduleUnfurl(messageID uuid.UUID, content string) {
	ctx := context.Background()
	embeds := h.unfurler.Unfurl(ctx, content)
	if len(embeds) == 0 {
		return
	}
	unchanged, err := h.messages.UpdateSystemEmbeds(ctx, messageID, embeds)
	if err != nil {
		h.log.Warn().Err(err).Str("message_id", messageID.String()).Msg("update system embeds failed")
		return
	}
	if unchanged {
		return
	}
	msg, err := h.messages.GetByID(ctx, messageID)
	if err != nil {
		h.log.Warn().Err(err).Str("message_id", messageID.String()).Msg("reload unfurled message failed")
		return
	}
	result, err := h.toMessageModel(ctx, msg)
	if err != nil {
		h.log.Warn().Err(err).Str("message_id", messageID.String()).Msg("resolve unfurled message projection failed")
		return
	}
	h.publish(events.TypeMessageUpdated, events.MessageUpdated{Message: result})
}

type updateMessageRequest struct {
	Content *string `json:"content"`
}

// EditMessage handles PATCH /v1/messages/:messageID.
func (h *MessageHandler) EditMessage(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid message id")
	}

	existing, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	if existing.AuthorID != userID {
		return h.mapMessageError(c, message.ErrNotAuthor)
	}

	var body updateMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	var content string
	if body.Content != nil {
		content, err = message.ValidateContent(*body.Content)
		if err != nil {
			return h.mapMessageError(c, err)
		}
	}
	if err := message.RequireNonEmpty(content, existing.FileIDs, existing.UserEmbeds); err != nil {
		return h.mapMessageError(c, err)
	}

	ch, err := h.channels.GetByID(c.Context(), existing.ChannelID)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	mentions, err := h.resolveMentions(c.Context(), content, ch, userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("resolve mentions failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}

	var contentPtr *string
	if content != "" {
		contentPtr = &content
	}

	oldLen := 0
	if existing.Content != nil {
		oldLen = len(*existing.Content)
	}

	msg, err := h.messages.Update(c.Context(), messageID, message.UpdateParams{Content: contentPtr, Mentions: mentions})
	if err != nil {
		return h.mapMessageError(c, err)
	}

	if delta := int64(len(content) - oldLen); delta != 0 {
		if err := h.users.IncrementBytes(c.Context(), userID, delta); err != nil {
			h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("increment bytes failed")
		}
	}

	result, err := h.toMessageModel(c.Context(), msg)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("resolve message projection failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	h.publish(events.TypeMessageUpdated, events.MessageUpdated{Message: result})

	return httputil.Success(c, result)
}

// DeleteMessage handles DELETE /v1/messages/:messageID.
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid message id")
	}

	existing, err := h.messages.GetByID(c.Context(), messageID)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	ch, err := h.channels.GetByID(c.Context(), existing.ChannelID)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	if existing.AuthorID != userID && ch.AuthorID != userID {
		return h.mapMessageError(c, message.ErrNotAuthor)
	}

	if err := h.messages.SoftDelete(c.Context(), messageID); err != nil {
		return h.mapMessageError(c, err)
	}

	var fileSize int64
	if len(existing.FileIDs) > 0 {
		files, err := h.files.GetByIDs(c.Context(), existing.FileIDs)
		if err != nil {
			h.log.Warn().Err(err).Str("message_id", messageID.String()).Msg("load files for byte accounting failed")
		}
		for _, f := range files {
			fileSize += f.Size
		}
	}
	contentLen := 0
	if existing.Content != nil {
		contentLen = len(*existing.Content)
	}
	if delta := int64(contentLen) + fileSize; delta > 0 {
		if err := h.users.IncrementBytes(c.Context(), existing.AuthorID, -delta); err != nil {
			h.log.Warn().Err(err).Str("user_id", existing.AuthorID.String()).Msg("decrement bytes failed")
		}
	}

	h.publish(events.TypeMessageDeleted, events.MessageDeleted{MessageID: messageID.String(), ChannelID: existing.ChannelID.String()})

	return c.SendStatus(fiber.StatusNoContent)
}

// bindFiles loads the requested files and verifies each is owned by authorID and has completed upload.
func (h *MessageHandler) bindFiles(ctx context.Context, ids []uuid.UUID, authorID uuid.UUID) ([]file.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	files, err := h.files.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]file.File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	bound := make([]file.File, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok || f.OwnerID != authorID || !f.Uploaded {
			return nil, file.ErrNotFound
		}
		bound = append(bound, f)
	}
	return bound, nil
}

// resolveMentions tokenizes content for @mentions and resolves candidate usernames to user ids. In a private
// channel, resolution is restricted to the author and its explicit members; in a public channel any user may be
// mentioned.
func (h *MessageHandler) resolveMentions(ctx context.Context, content string, ch *channel.Channel, authorID uuid.UUID) ([]uuid.UUID, error) {
	candidates := message.ExtractMentionCandidates(content)
	if len(candidates) == 0 {
		return nil, nil
	}

	mentions := make([]uuid.UUID, 0, len(candidates))
	for _, username := range candidates {
		u, err := h.users.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if ch.Private && u.ID != authorID {
			isMember, err := h.members.IsMember(ctx, ch.ID, u.ID)
			if err != nil {
				return nil, err
			}
			if !isMember {
				continue
			}
		}
		mentions = append(mentions, u.ID)
	}
	return mentions, nil
}

// toMessageModels resolves the author and file projections for a batch of messages.
func (h *MessageHandler) toMessageModels(ctx context.Context, msgs []message.Message) ([]models.Message, error) {
	authorIDs := make(map[uuid.UUID]struct{})
	var fileIDs []uuid.UUID
	for _, m := range msgs {
		authorIDs[m.AuthorID] = struct{}{}
		fileIDs = append(fileIDs, m.FileIDs...)
	}
	ids := make([]uuid.UUID, 0, len(authorIDs))
	for id := range authorIDs {
		ids = append(ids, id)
	}

	authors, err := h.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	authorByID := make(map[uuid.UUID]*user.User, len(authors))
	for _, a := range authors {
		authorByID[a.ID] = a
	}

	var files []file.File
	if len(fileIDs) > 0 {
		files, err = h.files.GetByIDs(ctx, fileIDs)
		if err != nil {
			return nil, err
		}
	}
	fileByID := make(map[uuid.UUID]file.File, len(files))
	for _, f := range files {
		fileByID[f.ID] = f
	}

	result := make([]models.Message, len(msgs))
	for i, m := range msgs {
		result[i] = h.buildModel(m, authorByID, fileByID)
	}
	return result, nil
}

// toMessageModel resolves the author and file projections for a single message.
func (h *MessageHandler) toMessageModel(ctx context.Context, m *message.Message) (models.Message, error) {
	ids := []uuid.UUID{m.AuthorID}
	authors, err := h.users.GetByIDs(ctx, ids)
	if err != nil {
		return models.Message{}, err
	}
	authorByID := make(map[uuid.UUID]*user.User, len(authors))
	for _, a := range authors {
		authorByID[a.ID] = a
	}

	var files []file.File
	if len(m.FileIDs) > 0 {
		files, err = h.files.GetByIDs(ctx, m.FileIDs)
		if err != nil {
			return models.Message{}, err
		}
	}
	fileByID := make(map[uuid.UUID]file.File, len(files))
	for _, f := range files {
		fileByID[f.ID] = f
	}

	return h.buildModel(*m, authorByID, fileByID), nil
}

func (h *MessageHandler) buildModel(m message.Message, authorByID map[uuid.UUID]*user.User, fileByID map[uuid.UUID]file.File) models.Message {
	out := models.Message{
		ID:        m.ID.String(),
		ChannelID: m.ChannelID.String(),
		Type:      string(m.Type),
		Content:   m.Content,
		Nonce:     m.Nonce,
		CreatedAt: models.FormatTime(m.CreatedAt),
		UpdatedAt: models.FormatTime(m.UpdatedAt),
	}
	if m.EditedAt != nil {
		s := models.FormatTime(*m.EditedAt)
		out.EditedAt = &s
	}
	if a, ok := authorByID[m.AuthorID]; ok {
		author := a.ToAuthor()
		out.Author = &author
	}
	for _, id := range m.FileIDs {
		if f, ok := fileByID[id]; ok {
			url := ""
			if h.mediaBaseURL != nil {
				url = f.URL(h.mediaBaseURL(f.Key))
			}
			out.Files = append(out.Files, models.File{ID: f.ID.String(), Name: f.Name, MimeType: f.MimeType, Size: f.Size, URL: url})
		}
	}
	for _, e := range m.Embeds() {
		out.Embeds = append(out.Embeds, toEmbedModel(e))
	}
	for _, id := range m.Mentions {
		out.Mentions = append(out.Mentions, id.String())
	}
	return out
}

func toEmbedModel(e message.Embed) models.Embed {
	return models.Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		ImageURL:    e.ImageURL,
		VideoURL:    e.VideoURL,
		AudioURL:    e.AudioURL,
		SiteName:    e.SiteName,
		Color:       e.Color,
		Footer:      e.Footer,
	}
}

// publish encodes and fire-and-forget publishes an event envelope to the bus.
func (h *MessageHandler) publish(t events.Type, payload any) {
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

// mapMessageError converts message-layer errors to appropriate HTTP responses.
func (h *MessageHandler) mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrNotFound), errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "message not found")
	case errors.Is(err, errForbidden):
		return httputil.Fail(c, fiber.StatusForbidden, "you do not have access to this channel")
	case errors.Is(err, message.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, message.ErrContentTooLong),
		errors.Is(err, message.ErrNonceTooLong),
		errors.Is(err, message.ErrTooManyFiles),
		errors.Is(err, message.ErrTooManyEmbeds),
		errors.Is(err, message.ErrEmptyMessage),
		errors.Is(err, message.ErrEmbedFieldLong),
		errors.Is(err, message.ErrEmbedBadColor),
		errors.Is(err, message.ErrEmbedBadURL),
		errors.Is(err, file.ErrNotFound):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, message.ErrAlreadyDeleted):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "message").Msg("unhandled message service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
