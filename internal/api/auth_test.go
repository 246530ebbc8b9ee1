package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// fakeUserRepo implements user.Repository for handler tests, keyed by user ID.
type fakeUserRepo struct {
	users      map[uuid.UUID]*user.User
	tombstones map[string]bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*user.User), tombstones: make(map[string]bool)}
}

func (r *fakeUserRepo) Create(_ context.Context, p user.CreateParams) (*user.User, error) {
	for _, u := range r.users {
		if u.Email == p.Email || u.Username == p.Username {
			return nil, user.ErrAlreadyExists
		}
	}
	u := &user.User{
		ID: uuid.New(), Username: p.Username, Email: p.Email, PasswordHash: p.PasswordHash,
		Token: p.Token, DefaultStatus: user.StatusOnline, VerificationCode: p.VerificationCode,
	}
	r.users[u.ID] = u
	cpy := *u
	return &cpy, nil
}

func (r *fakeUserRepo) ListAllIDs(_ context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cpy := *u
	return &cpy, nil
}

func (r *fakeUserRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*user.User, error) {
	var out []*user.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			cpy := *u
			out = append(out, &cpy)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*user.User, error) {
	for _, u := range r.users {
		if u.Username == username {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) GetByToken(_ context.Context, token string) (*user.User, error) {
	for _, u := range r.users {
		if u.Token == token {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, user.ErrNotFound
}

func (r *fakeUserRepo) VerifyEmail(_ context.Context, userID uuid.UUID, code string) error {
	u, ok := r.users[userID]
	if !ok || u.VerificationCode != code || u.Verified {
		return user.ErrInvalidToken
	}
	u.Verified = true
	return nil
}

func (r *fakeUserRepo) ReplaceVerificationCode(_ context.Context, userID uuid.UUID, code string) error {
	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.VerificationCode = code
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, id uuid.UUID, p user.UpdateParams) (*user.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.DefaultStatus != nil {
		u.DefaultStatus = *p.DefaultStatus
	}
	if p.Bio != nil {
		u.Bio = p.Bio
	}
	if p.Color != nil {
		u.Color = p.Color
	}
	if p.BackgroundColor != nil {
		u.BackgroundColor = p.BackgroundColor
	}
	cpy := *u
	return &cpy, nil
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, userID uuid.UUID, hash string) error {
	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *fakeUserRepo) RotateToken(_ context.Context, userID uuid.UUID, token string) error {
	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.Token = token
	return nil
}

func (r *fakeUserRepo) SetAvatarURL(_ context.Context, userID uuid.UUID, avatarURL *string) error {
	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.AvatarURL = avatarURL
	return nil
}

func (r *fakeUserRepo) IncrementBytes(_ context.Context, userID uuid.UUID, delta int64) error {
	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.Bytes += delta
	return nil
}

func (r *fakeUserRepo) DeleteWithTombstones(_ context.Context, id uuid.UUID, tombstones []user.Tombstone) error {
	if _, ok := r.users[id]; !ok {
		return user.ErrNotFound
	}
	for _, t := range tombstones {
		r.tombstones[string(t.IdentifierType)+":"+t.HMACHash] = true
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) CheckTombstone(_ context.Context, identifierType user.TombstoneType, hmacHash string) (bool, error) {
	return r.tombstones[string(identifierType)+":"+hmacHash], nil
}

func testAuthConfig() *config.Config {
	return &config.Config{
		Env:                        "production",
		ServerName:                 "Test Server",
		ServerURL:                  "https://chat.example.com",
		BcryptCost:                 4,
		ServerSecret:               "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd",
		DeletionTombstoneUsernames: true,
	}
}

func newTestAuthApp(t *testing.T, repo *fakeUserRepo) (*fiber.App, *AuthHandler) {
	t.Helper()
	svc, err := auth.NewService(repo, testAuthConfig(), nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("auth.NewService() error = %v", err)
	}
	h := NewAuthHandler(svc, zerolog.Nop())

	app := fiber.New()
	app.Post("/v1/signup", h.Register)
	app.Post("/v1/login", h.Login)

	authed := app.Group("/v1/users/@me", auth.RequireAuth(repo))
	authed.Post("/verify", h.VerifyEmail)
	authed.Post("/verify/resend", h.ResendVerification)
	authed.Post("/token/rotate", h.RotateToken)
	authed.Post("/verify-password", h.VerifyPassword)
	authed.Delete("/", h.DeleteAccount)

	return app, h
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func decodeAuthResult(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestRegisterHandlerSuccess(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	resp := doJSON(t, app, http.MethodPost, "/v1/signup", "", registerRequest{
		Email: "alice@example.com", Username: "alice", Password: "correcthorsebattery",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	body := decodeAuthResult(t, resp)
	if body["token"] == "" || body["token"] == nil {
		t.Error("expected a non-empty token")
	}
}

func TestRegisterHandlerInvalidBody(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	req := httptest.NewRequest(http.MethodPost, "/v1/signup", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestRegisterHandlerDuplicateEmail(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	req := registerRequest{Email: "alice@example.com", Username: "alice", Password: "correcthorsebattery"}

	if resp := doJSON(t, app, http.MethodPost, "/v1/signup", "", req); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("first signup status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	req.Username = "alice2"
	resp := doJSON(t, app, http.MethodPost, "/v1/signup", "", req)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestLoginHandlerSuccess(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	doJSON(t, app, http.MethodPost, "/v1/signup", "", registerRequest{
		Email: "alice@example.com", Username: "alice", Password: "correcthorsebattery",
	})

	resp := doJSON(t, app, http.MethodPost, "/v1/login", "", loginRequest{
		Username: "alice@example.com", Password: "correcthorsebattery",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	body := decodeAuthResult(t, resp)
	if body["token"] == "" || body["token"] == nil {
		t.Error("expected a non-empty token")
	}
}

func TestLoginHandlerAcceptsUsername(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	doJSON(t, app, http.MethodPost, "/v1/signup", "", registerRequest{
		Email: "alice@example.com", Username: "alice", Password: "correcthorsebattery",
	})

	resp := doJSON(t, app, http.MethodPost, "/v1/login", "", loginRequest{
		Username: "alice", Password: "correcthorsebattery",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	body := decodeAuthResult(t, resp)
	if body["token"] == "" || body["token"] == nil {
		t.Error("expected a non-empty token")
	}
}

func TestLoginHandlerWrongPassword(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	doJSON(t, app, http.MethodPost, "/v1/signup", "", registerRequest{
		Email: "alice@example.com", Username: "alice", Password: "correcthorsebattery",
	})

	resp := doJSON(t, app, http.MethodPost, "/v1/login", "", loginRequest{
		Username: "alice@example.com", Password: "wrong-password",
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestDeleteAccountRequiresAuth(t *testing.T) {
	t.Parallel()

	app, _ := newTestAuthApp(t, newFakeUserRepo())
	resp := doJSON(t, app, http.MethodDelete, "/v1/users/@me/", "", nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestRotateTokenEndToEnd(t *testing.T) {
	t.Parallel()

	repo := newFakeUserRepo()
	app, _ := newTestAuthApp(t, repo)

	reg := decodeAuthResult(t, doJSON(t, app, http.MethodPost, "/v1/signup", "", registerRequest{
		Email: "alice@example.com", Username: "alice", Password: "correcthorsebattery",
	}))
	oldToken, _ := reg["token"].(string)

	resp := doJSON(t, app, http.MethodPost, "/v1/users/@me/token/rotate", oldToken, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	rotated := decodeAuthResult(t, resp)
	newToken, _ := rotated["token"].(string)
	if newToken == "" || newToken == oldToken {
		t.Errorf("expected a fresh token, got %q (old %q)", newToken, oldToken)
	}

	// The old token must no longer authenticate.
	again := doJSON(t, app, http.MethodPost, "/v1/users/@me/token/rotate", oldToken, nil)
	defer func() { _ = again.Body.Close() }()
	if again.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status with stale token = %d, want %d", again.StatusCode, fiber.StatusUnauthorized)
	}
}
