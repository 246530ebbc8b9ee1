package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/file"
	"github.com/uncord-chat/uncord-server/internal/member"
	"github.com/uncord-chat/uncord-server/internal/message"
)

// fakeMessageRepo implements message.Repository for handler tests.
type fakeMessageRepo struct {
	messages []message.Message
}

func (r *fakeMessageRepo) Create(_ context.Context, params message.CreateParams) (*message.Message, error) {
	now := time.Now()
	msgType := params.Type
	if msgType == "" {
		msgType = message.TypeDefault
	}
	m := message.Message{
		ID:         uuid.New(),
		ChannelID:  params.ChannelID,
		AuthorID:   params.AuthorID,
		Type:       msgType,
		Content:    params.Content,
		Nonce:      params.Nonce,
		FileIDs:    params.FileIDs,
		UserEmbeds: params.UserEmbeds,
		Mentions:   params.Mentions,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.messages = append(r.messages, m)
	return &r.messages[len(r.messages)-1], nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*message.Message, error) {
	for i := range r.messages {
		if r.messages[i].ID == id && r.messages[i].DeletedAt == nil {
			return &r.messages[i], nil
		}
	}
	return nil, message.ErrNotFound
}

func (r *fakeMessageRepo) List(_ context.Context, channelID uuid.UUID, params message.ListParams) ([]message.Message, error) {
	var out []message.Message
	for _, m := range r.messages {
		if m.ChannelID == channelID && m.DeletedAt == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) Update(_ context.Context, id uuid.UUID, params message.UpdateParams) (*message.Message, error) {
	for i := range r.messages {
		if r.messages[i].ID == id && r.messages[i].DeletedAt == nil {
			r.messages[i].Content = params.Content
			r.messages[i].Mentions = params.Mentions
			now := time.Now()
			r.messages[i].EditedAt = &now
			return &r.messages[i], nil
		}
	}
	return nil, message.ErrNotFound
}

func (r *fakeMessageRepo) UpdateSystemEmbeds(_ context.Context, id uuid.UUID, embeds []message.Embed) (bool, error) {
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].SystemEmbeds = embeds
			return false, nil
		}
	}
	return false, message.ErrNotFound
}

func (r *fakeMessageRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	for i := range r.messages {
		if r.messages[i].ID == id && r.messages[i].DeletedAt == nil {
			now := time.Now()
			r.messages[i].DeletedAt = &now
			return nil
		}
	}
	return message.ErrNotFound
}

// fakeFileRepo implements file.Repository for handler tests.
type fakeFileRepo struct {
	files map[uuid.UUID]file.File
}

func (r *fakeFileRepo) Create(_ context.Context, params file.CreateParams) (*file.File, error) {
	f := file.File{ID: params.ID, OwnerID: params.OwnerID, Name: params.Name, MimeType: params.MimeType, Size: params.Size, Key: params.Key}
	r.files[f.ID] = f
	return &f, nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id uuid.UUID) (*file.File, error) {
	if f, ok := r.files[id]; ok {
		return &f, nil
	}
	return nil, file.ErrNotFound
}

func (r *fakeFileRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]file.File, error) {
	var out []file.File
	for _, id := range ids {
		if f, ok := r.files[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) MarkUploaded(_ context.Context, id uuid.UUID, uploadedAt time.Time) (*file.File, error) {
	f, ok := r.files[id]
	if !ok {
		return nil, file.ErrNotFound
	}
	f.Uploaded = true
	f.UploadedAt = &uploadedAt
	r.files[id] = f
	return &f, nil
}

func (r *fakeFileRepo) PurgeOrphans(_ context.Context, olderThan time.Time) ([]string, error) {
	return nil, nil
}

func newTestMessageApp(t *testing.T, msgRepo message.Repository, fileRepo file.Repository, chRepo *fakeChannelRepo, memberRepo member.Repository, userRepo *fakeUserRepo, userID uuid.UUID) *fiber.App {
	t.Helper()
	h := NewMessageHandler(msgRepo, fileRepo, chRepo, memberRepo, userRepo, nil, nil, func(key string) string { return "http://localhost:8080/media/" + key }, zerolog.Nop())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if userID != uuid.Nil {
			c.Locals("userID", userID)
		}
		return c.Next()
	})
	app.Get("/v1/channels/:channelID/messages", h.ListMessages)
	app.Post("/v1/channels/:channelID/messages", h.CreateMessage)
	app.Patch("/v1/messages/:messageID", h.EditMessage)
	app.Delete("/v1/messages/:messageID", h.DeleteMessage)
	return app
}

func TestCreateMessageRequiresNonEmpty(t *testing.T) {
	t.Parallel()

	authorID := uuid.New()
	chRepo := &fakeChannelRepo{}
	ch, _ := chRepo.Create(context.Background(), channel.CreateParams{Name: "general", AuthorID: authorID})
	memberRepo := &fakeMemberRepo{members: map[uuid.UUID]map[uuid.UUID]bool{}}

	app := newTestMessageApp(t, &fakeMessageRepo{}, &fakeFileRepo{files: map[uuid.UUID]file.File{}}, chRepo, memberRepo, newFakeUserRepo(), authorID)

	resp := doJSON(t, app, http.MethodPost, "/v1/channels/"+ch.ID.String()+"/messages", "", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestCreateMessageSuccess(t *testing.T) {
	t.Parallel()

	authorID := uuid.New()
	chRepo := &fakeChannelRepo{}
	ch, _ := chRepo.Create(context.Background(), channel.CreateParams{Name: "general", AuthorID: authorID})
	memberRepo := &fakeMemberRepo{members: map[uuid.UUID]map[uuid.UUID]bool{}}
	userRepo := newFakeUserRepo()
	seedTestUser(userRepo, "alice", "alice@example.com")

	app := newTestMessageApp(t, &fakeMessageRepo{}, &fakeFileRepo{files: map[uuid.UUID]file.File{}}, chRepo, memberRepo, userRepo, authorID)

	resp := doJSON(t, app, http.MethodPost, "/v1/channels/"+ch.ID.String()+"/messages", "", map[string]any{"content": "hello world"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	body := decodeAuthResult(t, resp)
	if body["content"] != "hello world" {
		t.Errorf("content = %v, want %q", body["content"], "hello world")
	}
}

func TestCreateMessageForbiddenWhenPrivateAndNotMember(t *testing.T) {
	t.Parallel()

	authorID, strangerID := uuid.New(), uuid.New()
	chRepo := &fakeChannelRepo{}
	ch, _ := chRepo.Create(context.Background(), channel.CreateParams{Name: "secret", AuthorID: authorID, Private: true})
	memberRepo := &fakeMemberRepo{members: map[uuid.UUID]map[uuid.UUID]bool{}}

	app := newTestMessageApp(t, &fakeMessageRepo{}, &fakeFileRepo{files: map[uuid.UUID]file.File{}}, chRepo, memberRepo, newFakeUserRepo(), strangerID)

	resp := doJSON(t, app, http.MethodPost, "/v1/channels/"+ch.ID.String()+"/messages", "", map[string]any{"content": "hi"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestCreateMessageRejectsUnboundFile(t *testing.T) {
	t.Parallel()

	authorID := uuid.New()
	chRepo := &fakeChannelRepo{}
	ch, _ := chRepo.Create(context.Background(), channel.CreateParams{Name: "general", AuthorID: authorID})
	memberRepo := &fakeMemberRepo{members: map[uuid.UUID]map[uuid.UUID]bool{}}

	fileRepo := &fakeFileRepo{files: map[uuid.UUID]file.File{}}
	notUploaded := file.File{ID: uuid.New(), OwnerID: authorID, Name: "a.png", MimeType: "image/png", Size: 10, Key: "k", Uploaded: false}
	fileRepo.files[notUploaded.ID] = notUploaded

	app := newTestMessageApp(t, &fakeMessageRepo{}, fileRepo, chRepo, memberRepo, newFakeUserRepo(), authorID)

	resp := doJSON(t, app, http.MethodPost, "/v1/channels/"+ch.ID.String()+"/messages", "", map[string]any{"file_ids": []string{notUploaded.ID.String()}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestEditMessageRequiresAuthor(t *testing.T) {
	t.Parallel()

	authorID, otherID := uuid.New(), uuid.New()
	msgRepo := &fakeMessageRepo{}
	content := "original"
	created, _ := msgRepo.Create(context.Background(), message.CreateParams{ChannelID: uuid.New(), AuthorID: authorID, Content: &content})

	chRepo := &fakeChannelRepo{}
	_, _ = chRepo.Create(context.Background(), channel.CreateParams{Name: "general", AuthorID: authorID})
	memberRepo := &fakeMemberRepo{members: map[uuid.UUID]map[uuid.UUID]bool{}}

	app := newTestMessageApp(t, msgRepo, &fakeFileRepo{files: map[uuid.UUID]file.File{}}, chRepo, memberRepo, newFakeUserRepo(), otherID)

	resp := doJSON(t, app, http.MethodPatch, "/v1/messages/"+created.ID.String(), "", map[string]any{"content": "edited"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestDeleteMessageAllowsChannelOwner(t *testing.T) {
	t.Parallel()

	authorID, ownerID := uuid.New(), uuid.New()
	chRepo := &fakeChannelRepo{}
	ch, _ := chRepo.Create(context.Background(), channel.CreateParams{Name: "general", AuthorID: ownerID})

	msgRepo := &fakeMessageRepo{}
	content := "hi"
	created, _ := msgRepo.Create(context.Background(), message.CreateParams{ChannelID: ch.ID, AuthorID: authorID, Content: &content})

	memberRepo := &fakeMemberRepo{members: map[uuid.UUID]map[uuid.UUID]bool{}}

	app := newTestMessageApp(t, msgRepo, &fakeFileRepo{files: map[uuid.UUID]file.File{}}, chRepo, memberRepo, newFakeUserRepo(), ownerID)

	resp := doJSON(t, app, http.MethodDelete, "/v1/messages/"+created.ID.String(), "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}
