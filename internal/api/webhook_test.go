package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/webhook"
)

// fakeWebhookRepo implements webhook.Repository for handler tests.
type fakeWebhookRepo struct {
	webhooks []webhook.Webhook
}

func (r *fakeWebhookRepo) Create(_ context.Context, params webhook.CreateParams) (*webhook.Webhook, error) {
	for _, w := range r.webhooks {
		if w.ChannelID == params.ChannelID && w.Name == params.Name {
			return nil, webhook.ErrAlreadyExists
		}
	}
	now := time.Now()
	w := webhook.Webhook{
		ID:        uuid.New(),
		ChannelID: params.ChannelID,
		OwnerID:   params.OwnerID,
		Name:      params.Name,
		Color:     params.Color,
		Secret:    "testsecret",
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.webhooks = append(r.webhooks, w)
	return &r.webhooks[len(r.webhooks)-1], nil
}

func (r *fakeWebhookRepo) GetByID(_ context.Context, id uuid.UUID) (*webhook.Webhook, error) {
	for i := range r.webhooks {
		if r.webhooks[i].ID == id {
			return &r.webhooks[i], nil
		}
	}
	return nil, webhook.ErrNotFound
}

func (r *fakeWebhookRepo) GetForReceive(_ context.Context, id, channelID uuid.UUID, secret string) (*webhook.Webhook, error) {
	for i := range r.webhooks {
		w := &r.webhooks[i]
		if w.ID == id && w.ChannelID == channelID && w.Secret == secret {
			return w, nil
		}
	}
	return nil, webhook.ErrNotFound
}

func (r *fakeWebhookRepo) ListByChannel(_ context.Context, channelID uuid.UUID) ([]webhook.Webhook, error) {
	var out []webhook.Webhook
	for _, w := range r.webhooks {
		if w.ChannelID == channelID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *fakeWebhookRepo) Update(_ context.Context, id uuid.UUID, params webhook.UpdateParams) (*webhook.Webhook, error) {
	for i := range r.webhooks {
		if r.webhooks[i].ID == id {
			if params.Name != nil {
				r.webhooks[i].Name = *params.Name
			}
			if params.Color != nil {
				r.webhooks[i].Color = *params.Color
			}
			return &r.webhooks[i], nil
		}
	}
	return nil, webhook.ErrNotFound
}

func (r *fakeWebhookRepo) Delete(_ context.Context, id, channelID uuid.UUID) error {
	for i := range r.webhooks {
		if r.webhooks[i].ID == id && r.webhooks[i].ChannelID == channelID {
			r.webhooks = append(r.webhooks[:i], r.webhooks[i+1:]...)
			return nil
		}
	}
	return webhook.ErrNotFound
}

func newTestWebhookApp(t *testing.T, webhooks webhook.Repository, channels channel.Repository, messages *fakeMessageRepo, userID uuid.UUID) *fiber.App {
	t.Helper()
	h := NewWebhookHandler(webhooks, channels, messages, nil, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if userID != uuid.Nil {
			c.Locals("userID", userID)
		}
		return c.Next()
	})
	app.Get("/v1/channels/:channelID/webhooks", h.ListWebhooks)
	app.Post("/v1/channels/:channelID/webhooks", h.CreateWebhook)
	app.Patch("/v1/channels/:channelID/webhooks/:webhookID", h.UpdateWebhook)
	app.Delete("/v1/channels/:channelID/webhooks/:webhookID", h.DeleteWebhook)
	app.Post("/v1/webhooks/:channelID/:webhookID/:secret", h.ReceiveWebhook)
	return app
}

func TestCreateWebhookForbidsNonOwner(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	callerID := uuid.New()
	ch := channel.Channel{ID: uuid.New(), Name: "general", AuthorID: ownerID}
	channels := &fakeChannelRepo{channels: []channel.Channel{ch}}
	webhooks := &fakeWebhookRepo{}
	messages := &fakeMessageRepo{}
	app := newTestWebhookApp(t, webhooks, channels, messages, callerID)

	body, _ := json.Marshal(map[string]string{"name": "deploys"})
	req := httptest.NewRequest(http.MethodPost, "/v1/channels/"+ch.ID.String()+"/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestCreateWebhookRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ch := channel.Channel{ID: uuid.New(), Name: "general", AuthorID: ownerID}
	channels := &fakeChannelRepo{channels: []channel.Channel{ch}}
	webhooks := &fakeWebhookRepo{webhooks: []webhook.Webhook{{ID: uuid.New(), ChannelID: ch.ID, OwnerID: ownerID, Name: "deploys"}}}
	messages := &fakeMessageRepo{}
	app := newTestWebhookApp(t, webhooks, channels, messages, ownerID)

	body, _ := json.Marshal(map[string]string{"name": "deploys"})
	req := httptest.NewRequest(http.MethodPost, "/v1/channels/"+ch.ID.String()+"/webhooks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestReceiveWebhookRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ch := channel.Channel{ID: uuid.New(), Name: "general", AuthorID: ownerID}
	channels := &fakeChannelRepo{channels: []channel.Channel{ch}}
	w := webhook.Webhook{ID: uuid.New(), ChannelID: ch.ID, OwnerID: ownerID, Name: "deploys", Secret: "correct"}
	webhooks := &fakeWebhookRepo{webhooks: []webhook.Webhook{w}}
	messages := &fakeMessageRepo{}
	app := newTestWebhookApp(t, webhooks, channels, messages, uuid.Nil)

	body, _ := json.Marshal(map[string]string{"content": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+ch.ID.String()+"/"+w.ID.String()+"/wrong", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
}

func TestReceiveWebhookCreatesMessageWithWebhookAuthor(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ch := channel.Channel{ID: uuid.New(), Name: "general", AuthorID: ownerID}
	channels := &fakeChannelRepo{channels: []channel.Channel{ch}}
	w := webhook.Webhook{ID: uuid.New(), ChannelID: ch.ID, OwnerID: ownerID, Name: "deploys", Color: "#123456", Secret: "correct"}
	webhooks := &fakeWebhookRepo{webhooks: []webhook.Webhook{w}}
	messages := &fakeMessageRepo{}
	app := newTestWebhookApp(t, webhooks, channels, messages, uuid.Nil)

	body, _ := json.Marshal(map[string]string{"content": "deployment complete"})
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+ch.ID.String()+"/"+w.ID.String()+"/correct", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	if len(messages.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages.messages))
	}
	m := messages.messages[0]
	if m.AuthorID != w.ID {
		t.Errorf("author id = %s, want webhook id %s", m.AuthorID, w.ID)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	author, ok := out["author"].(map[string]any)
	if !ok {
		t.Fatalf("response missing author object: %v", out)
	}
	if author["username"] != "deploys" {
		t.Errorf("author username = %v, want %q", author["username"], "deploys")
	}
	flags, ok := author["flags"].(map[string]any)
	if !ok || flags["webhook"] != true {
		t.Errorf("author flags = %v, want webhook=true", author["flags"])
	}
}

func TestReceiveWebhookRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ch := channel.Channel{ID: uuid.New(), Name: "general", AuthorID: ownerID}
	channels := &fakeChannelRepo{channels: []channel.Channel{ch}}
	w := webhook.Webhook{ID: uuid.New(), ChannelID: ch.ID, OwnerID: ownerID, Name: "deploys", Secret: "correct"}
	webhooks := &fakeWebhookRepo{webhooks: []webhook.Webhook{w}}
	messages := &fakeMessageRepo{}
	app := newTestWebhookApp(t, webhooks, channels, messages, uuid.Nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/"+ch.ID.String()+"/"+w.ID.String()+"/correct", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}
