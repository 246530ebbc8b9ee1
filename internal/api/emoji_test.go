package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/emoji"
)

// fakeEmojiRepo implements emoji.Repository for handler tests.
type fakeEmojiRepo struct {
	emojis []emoji.Emoji
}

func (r *fakeEmojiRepo) Create(_ context.Context, params emoji.CreateParams) (*emoji.Emoji, error) {
	for _, e := range r.emojis {
		if e.OwnerID == params.OwnerID && e.Name == params.Name {
			return nil, emoji.ErrAlreadyExists
		}
	}
	e := emoji.Emoji{
		ID:       uuid.New(),
		OwnerID:  params.OwnerID,
		Name:     params.Name,
		Animated: params.Image.Animated,
		Ext:      params.Image.Ext,
	}
	r.emojis = append(r.emojis, e)
	return &r.emojis[len(r.emojis)-1], nil
}

func (r *fakeEmojiRepo) GetByID(_ context.Context, id uuid.UUID) (*emoji.Emoji, error) {
	for i := range r.emojis {
		if r.emojis[i].ID == id {
			return &r.emojis[i], nil
		}
	}
	return nil, emoji.ErrNotFound
}

func (r *fakeEmojiRepo) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]emoji.Emoji, error) {
	var out []emoji.Emoji
	for _, e := range r.emojis {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEmojiRepo) Update(_ context.Context, id uuid.UUID, params emoji.UpdateParams) (*emoji.Emoji, error) {
	for i := range r.emojis {
		if r.emojis[i].ID == id {
			if params.Name != nil {
				r.emojis[i].Name = *params.Name
			}
			if params.Image != nil {
				r.emojis[i].Ext = params.Image.Ext
				r.emojis[i].Animated = params.Image.Animated
			}
			return &r.emojis[i], nil
		}
	}
	return nil, emoji.ErrNotFound
}

func (r *fakeEmojiRepo) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	for i := range r.emojis {
		if r.emojis[i].ID == id && r.emojis[i].OwnerID == ownerID {
			r.emojis = append(r.emojis[:i], r.emojis[i+1:]...)
			return nil
		}
	}
	return emoji.ErrNotFound
}

func newTestEmojiApp(t *testing.T, repo emoji.Repository, storage *fakeFileStorage, userID uuid.UUID) *fiber.App {
	t.Helper()
	h := NewEmojiHandler(repo, storage, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if userID != uuid.Nil {
			c.Locals("userID", userID)
		}
		return c.Next()
	})
	app.Get("/v1/users/:userID/emojis", h.ListEmojis)
	app.Post("/v1/users/@me/emojis", h.CreateEmoji)
	app.Patch("/v1/users/@me/emojis/:emojiID", h.UpdateEmoji)
	app.Delete("/v1/users/@me/emojis/:emojiID", h.DeleteEmoji)
	return app
}

func pngDataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nrest"))
}

func TestCreateEmojiWritesBothStorageKeys(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	repo := &fakeEmojiRepo{}
	storage := newFakeFileStorage()
	app := newTestEmojiApp(t, repo, storage, userID)

	body, _ := json.Marshal(map[string]string{"name": "blob", "image": pngDataURL()})
	req := httptest.NewRequest(http.MethodPost, "/v1/users/@me/emojis", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	if len(repo.emojis) != 1 {
		t.Fatalf("got %d emojis, want 1", len(repo.emojis))
	}
	e := repo.emojis[0]
	if _, ok := storage.objects[e.Key()]; !ok {
		t.Errorf("canonical key %s not written", e.Key())
	}
	if _, ok := storage.objects[e.LegacyKey()]; !ok {
		t.Errorf("legacy key %s not written", e.LegacyKey())
	}
}

func TestCreateEmojiRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	repo := &fakeEmojiRepo{emojis: []emoji.Emoji{{ID: uuid.New(), OwnerID: userID, Name: "blob", Ext: "png"}}}
	storage := newFakeFileStorage()
	app := newTestEmojiApp(t, repo, storage, userID)

	body, _ := json.Marshal(map[string]string{"name": "blob", "image": pngDataURL()})
	req := httptest.NewRequest(http.MethodPost, "/v1/users/@me/emojis", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestDeleteEmojiRemovesBothStorageKeys(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	id := uuid.New()
	repo := &fakeEmojiRepo{emojis: []emoji.Emoji{{ID: id, OwnerID: userID, Name: "blob", Ext: "png"}}}
	storage := newFakeFileStorage()
	storage.objects["emojis/"+id.String()] = []byte("x")
	storage.objects["emojis/"+id.String()+".png"] = []byte("x")
	app := newTestEmojiApp(t, repo, storage, userID)

	req := httptest.NewRequest(http.MethodDelete, "/v1/users/@me/emojis/"+id.String(), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusNoContent)
	}
	if len(storage.objects) != 0 {
		t.Errorf("storage objects not cleaned up: %v", storage.objects)
	}
}

func TestDeleteEmojiForbidsNonOwner(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	callerID := uuid.New()
	id := uuid.New()
	repo := &fakeEmojiRepo{emojis: []emoji.Emoji{{ID: id, OwnerID: ownerID, Name: "blob", Ext: "png"}}}
	storage := newFakeFileStorage()
	app := newTestEmojiApp(t, repo, storage, callerID)

	req := httptest.NewRequest(http.MethodDelete, "/v1/users/@me/emojis/"+id.String(), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusForbidden)
	}
}

func TestListEmojisResolvesMe(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	repo := &fakeEmojiRepo{emojis: []emoji.Emoji{{ID: uuid.New(), OwnerID: userID, Name: "blob", Ext: "png"}}}
	storage := newFakeFileStorage()
	app := newTestEmojiApp(t, repo, storage, userID)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/@me/emojis", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	data, _ := io.ReadAll(resp.Body)
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d emojis, want 1", len(out))
	}
}
