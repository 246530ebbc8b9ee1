package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/message"
	"github.com/uncord-chat/uncord-server/internal/models"
	"github.com/uncord-chat/uncord-server/internal/webhook"
)

// WebhookHandler serves webhook management and webhook-authored message ingestion.
type WebhookHandler struct {
	webhooks webhook.Repository
	channels channel.Repository
	messages message.Repository
	bus      *eventbus.Bus
	log      zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	webhooks webhook.Repository,
	channels channel.Repository,
	messages message.Repository,
	bus *eventbus.Bus,
	logger zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, channels: channels, messages: messages, bus: bus, log: logger}
}

// ownedChannel loads channelID and confirms the caller owns it, the gate every management endpoint below shares.
func (h *WebhookHandler) ownedChannel(c fiber.Ctx, channelID, callerID uuid.UUID) (*channel.Channel, error) {
	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return nil, err
	}
	if ch.AuthorID != callerID {
		return nil, channel.ErrNotOwner
	}
	return ch, nil
}

// ListWebhooks handles GET /v1/channels/:channelID/webhooks.
func (h *WebhookHandler) ListWebhooks(c fiber.Ctx) error {
	callerID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}
	if _, err := h.ownedChannel(c, channelID, callerID); err != nil {
		return h.mapWebhookError(c, err)
	}

	list, err := h.webhooks.ListByChannel(c.Context(), channelID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "webhook").Msg("list webhooks failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
	result := make([]models.Webhook, len(list))
	for i := range list {
		result[i] = list[i].ToModel()
	}
	return httputil.Success(c, result)
}

type createWebhookRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// CreateWebhook handles POST /v1/channels/:channelID/webhooks.
func (h *WebhookHandler) CreateWebhook(c fiber.Ctx) error {
	callerID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}
	if _, err := h.ownedChannel(c, channelID, callerID); err != nil {
		return h.mapWebhookError(c, err)
	}

	var body createWebhookRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := webhook.ValidateName(body.Name); err != nil {
		return h.mapWebhookError(c, err)
	}
	color := body.Color
	if color == "" {
		color = webhook.DefaultColor
	}
	if err := webhook.ValidateColor(color); err != nil {
		return h.mapWebhookError(c, err)
	}

	w, err := h.webhooks.Create(c.Context(), webhook.CreateParams{
		ChannelID: channelID,
		OwnerID:   callerID,
		Name:      body.Name,
		Color:     color,
	})
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, w.ToModel())
}

type updateWebhookRequest struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

// UpdateWebhook handles PATCH /v1/channels/:channelID/webhooks/:webhookID.
func (h *WebhookHandler) UpdateWebhook(c fiber.Ctx) error {
	callerID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}
	webhookID, err := uuid.Parse(c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid webhook id")
	}
	if _, err := h.ownedChannel(c, channelID, callerID); err != nil {
		return h.mapWebhookError(c, err)
	}

	existing, err := h.webhooks.GetByID(c.Context(), webhookID)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	if existing.ChannelID != channelID {
		return h.mapWebhookError(c, webhook.ErrNotFound)
	}

	var body updateWebhookRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	var params webhook.UpdateParams
	if body.Name != nil {
		if err := webhook.ValidateName(*body.Name); err != nil {
			return h.mapWebhookError(c, err)
		}
		params.Name = body.Name
	}
	if body.Color != nil {
		if err := webhook.ValidateColor(*body.Color); err != nil {
			return h.mapWebhookError(c, err)
		}
		params.Color = body.Color
	}

	updated, err := h.webhooks.Update(c.Context(), webhookID, params)
	if err != nil {
		return h.mapWebhookError(c, err)
	}
	return httputil.Success(c, updated.ToModel())
}

// DeleteWebhook handles DELETE /v1/channels/:channelID/webhooks/:webhookID.
func (h *WebhookHandler) DeleteWebhook(c fiber.Ctx) error {
	callerID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}
	webhookID, err := uuid.Parse(c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid webhook id")
	}
	if _, err := h.ownedChannel(c, channelID, callerID); err != nil {
		return h.mapWebhookError(c, err)
	}

	if err := h.webhooks.Delete(c.Context(), webhookID, channelID); err != nil {
		return h.mapWebhookError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// receiveWebhookRequest is the native payload shape accepted alongside the GitHub/Railway integrations below.
type receiveWebhookRequest struct {
	Username *string         `json:"username,omitempty"`
	Content  *string         `json:"content,omitempty"`
	Embeds   []message.Embed `json:"embeds,omitempty"`
}

// ReceiveWebhook handles POST /v1/webhooks/:channelID/:webhookID/:secret, the unauthenticated endpoint external
// services post to. A wrong secret and a wrong id both surface as 404, indistinguishable to the caller.
func (h *WebhookHandler) ReceiveWebhook(c fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid channel id")
	}
	webhookID, err := uuid.Parse(c.Params("webhookID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid webhook id")
	}
	secret := c.Params("secret")

	w, err := h.webhooks.GetForReceive(c.Context(), webhookID, channelID, secret)
	if err != nil {
		return h.mapWebhookError(c, err)
	}

	var body receiveWebhookRequest
	switch {
	case parseGitHubWebhook(c, &body):
	case parseRailwayWebhook(c, &body):
	default:
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := message.ValidateEmbeds(body.Embeds); err != nil {
		return h.mapMessageError(c, err)
	}
	var content string
	if body.Content != nil {
		content, err = message.ValidateContent(*body.Content)
		if err != nil {
			return h.mapMessageError(c, err)
		}
	}
	if err := message.RequireNonEmpty(content, nil, body.Embeds); err != nil {
		return h.mapMessageError(c, err)
	}

	username := w.Name
	if body.Username != nil && strings.TrimSpace(*body.Username) != "" {
		username = *body.Username
	}

	var contentPtr *string
	if content != "" {
		contentPtr = &content
	}

	msg, err := h.messages.Create(c.Context(), message.CreateParams{
		ChannelID:  channelID,
		AuthorID:   w.ID,
		Type:       message.TypeDefault,
		Content:    contentPtr,
		UserEmbeds: body.Embeds,
	})
	if err != nil {
		return h.mapMessageError(c, err)
	}
	if err := h.channels.TouchLastMessageAt(c.Context(), channelID, msg.CreatedAt); err != nil {
		h.log.Warn().Err(err).Str("channel_id", channelID.String()).Msg("touch last_message_at failed")
	}

	out := toWebhookMessageModel(msg, username)
	h.publish(events.TypeMessageCreated, events.MessageCreated{Message: out})

	return httputil.SuccessStatus(c, fiber.StatusCreated, out)
}

// toWebhookMessageModel builds the wire projection for a webhook-authored message directly, since its author never
// resolves through the users table the way MessageHandler.buildModel expects.
func toWebhookMessageModel(m *message.Message, username string) models.Message {
	out := models.Message{
		ID:        m.ID.String(),
		ChannelID: m.ChannelID.String(),
		Type:      string(m.Type),
		Content:   m.Content,
		Author:    &models.Author{ID: m.AuthorID.String(), Username: username, Flags: models.Flags{Webhook: true}},
		CreatedAt: models.FormatTime(m.CreatedAt),
		UpdatedAt: models.FormatTime(m.UpdatedAt),
	}
	for _, e := range m.Embeds() {
		out.Embeds = append(out.Embeds, toEmbedModel(e))
	}
	return out
}

type gitHubPushPayload struct {
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Modified   []string `json:"modified"`
	After      string   `json:"after"`
	Pusher     struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit struct {
		Message string `json:"message"`
	} `json:"head_commit"`
}

// parseGitHubWebhook recognizes a GitHub push event by its User-Agent and X-GitHub-Event header and fills out with
// a single commit-summary embed. Reports whether the request was a recognized GitHub push.
func parseGitHubWebhook(c fiber.Ctx, out *receiveWebhookRequest) bool {
	if !strings.HasPrefix(c.Get("User-Agent"), "GitHub-Hookshot/") || c.Get("X-GitHub-Event") != "push" {
		return false
	}

	var payload gitHubPushPayload
	if err := c.Bind().Body(&payload); err != nil {
		return false
	}

	var desc strings.Builder
	if n := len(payload.Added); n > 0 {
		desc.WriteString(pluralFileSummary(n, "added"))
	}
	if n := len(payload.Removed); n > 0 {
		desc.WriteString(pluralFileSummary(n, "removed"))
	}
	if n := len(payload.Modified); n > 0 {
		desc.WriteString(pluralFileSummary(n, "modified"))
	}
	desc.WriteString("\n\n" + payload.Pusher.Name)

	url := "https://github.com/" + payload.Repository.FullName + "/commit/" + payload.After
	title := payload.HeadCommit.Message
	descStr := desc.String()
	footer := payload.Repository.FullName + " | GitHub"

	out.Embeds = []message.Embed{{URL: &url, Title: &title, Description: &descStr, Footer: &footer}}
	return true
}

func pluralFileSummary(n int, verb string) string {
	if n == 1 {
		return "1 file " + verb + " "
	}
	return itoa(n) + " files " + verb + " "
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var railwayStateColor = map[string]string{
	"deploying": "#f7c266",
	"deployed":  "#22e08a",
	"failed":    "#ff5f52",
	"removed":   "#ff5f52",
	"unknown":   "#8fa3b0",
}

type railwayDeploymentPayload struct {
	Type    string `json:"type"`
	Details struct {
		CommitAuthor  string `json:"commitAuthor"`
		CommitMessage string `json:"commitMessage"`
		ID            string `json:"id"`
	} `json:"details"`
	Resource struct {
		Service struct {
			Name string `json:"name"`
		} `json:"service"`
		Project struct {
			Name string `json:"name"`
		} `json:"project"`
	} `json:"resource"`
}

// parseRailwayWebhook recognizes a Railway deployment-status payload by its distinctive type/details/resource shape
// and fills out with a status embed. Reports whether the request was a recognized Railway deployment event.
func parseRailwayWebhook(c fiber.Ctx, out *receiveWebhookRequest) bool {
	var payload railwayDeploymentPayload
	if err := c.Bind().Body(&payload); err != nil {
		return false
	}
	if payload.Type == "" || payload.Resource.Service.Name == "" {
		return false
	}
	eventType := strings.ToLower(payload.Type)
	if !strings.HasPrefix(eventType, "deployment.") {
		return false
	}
	state := strings.TrimPrefix(eventType, "deployment.")

	author := payload.Details.CommitAuthor
	if author == "" {
		author = "somebody?"
	}
	commitMessage := payload.Details.CommitMessage
	if commitMessage == "" {
		commitMessage = "..no commit message.."
	}

	var description string
	switch state {
	case "deploying":
		description = payload.Resource.Service.Name + " is being deployed"
	case "deployed":
		description = payload.Resource.Service.Name + " was successfully deployed"
	case "failed":
		description = payload.Resource.Service.Name + " failed to deploy"
	case "removed":
		description = "deployment removed for " + payload.Resource.Service.Name
	default:
		return false
	}
	description += "\n\n" + commitMessage + " - pushed by " + author

	title := payload.Resource.Service.Name + " on Railway"
	color := railwayStateColor[state]
	footer := payload.Resource.Project.Name + " | " + payload.Details.ID

	out.Embeds = []message.Embed{{Title: &title, Description: &description, Color: &color, Footer: &footer}}
	return true
}

// publish encodes and fire-and-forget publishes an event envelope to the bus.
func (h *WebhookHandler) publish(t events.Type, payload any) {
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
			h.log.Error().Err(err).Str("event", string(t)).Msg("failed to publish event")
		}
	}()
}

func (h *WebhookHandler) mapWebhookError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotFound), errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, "webhook not found")
	case errors.Is(err, channel.ErrNotOwner):
		return httputil.Fail(c, fiber.StatusForbidden, "only the channel owner may manage its webhooks")
	case errors.Is(err, webhook.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, webhook.ErrNameLength), errors.Is(err, webhook.ErrInvalidColor):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "webhook").Msg("unhandled webhook service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func (h *WebhookHandler) mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrContentTooLong), errors.Is(err, message.ErrNonceTooLong),
		errors.Is(err, message.ErrTooManyFiles), errors.Is(err, message.ErrTooManyEmbeds),
		errors.Is(err, message.ErrEmptyMessage), errors.Is(err, message.ErrEmbedFieldLong),
		errors.Is(err, message.ErrEmbedBadColor), errors.Is(err, message.ErrEmbedBadURL):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "webhook").Msg("unhandled message service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
