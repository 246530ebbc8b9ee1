package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// fakeUserRepo implements the subset of user.Repository RunFirstInit needs.
type fakeUserRepo struct {
	users map[uuid.UUID]*user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*user.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, params user.CreateParams) (*user.User, error) {
	for _, u := range r.users {
		if u.Email == params.Email || u.Username == params.Username {
			return nil, user.ErrAlreadyExists
		}
	}
	u := &user.User{
		ID:               uuid.New(),
		Username:         params.Username,
		Email:            params.Email,
		PasswordHash:     params.PasswordHash,
		Token:            params.Token,
		VerificationCode: params.VerificationCode,
	}
	r.users[u.ID] = u
	cpy := *u
	return &cpy, nil
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
	if !ok || u.VerificationCode != code {
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

func (r *fakeUserRepo) Update(_ context.Context, id uuid.UUID, params user.UpdateParams) (*user.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	if params.Username != nil {
		u.Username = *params.Username
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

func (r *fakeUserRepo) ListAllIDs(_ context.Context) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	return out, nil
}

func (r *fakeUserRepo) IncrementBytes(_ context.Context, userID uuid.UUID, delta int64) error {
	u, ok := r.users[userID]
	if !ok {
		return user.ErrNotFound
	}
	u.Bytes += delta
	return nil
}

func (r *fakeUserRepo) DeleteWithTombstones(_ context.Context, id uuid.UUID, _ []user.Tombstone) error {
	if _, ok := r.users[id]; !ok {
		return user.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) CheckTombstone(_ context.Context, _ user.TombstoneType, _ string) (bool, error) {
	return false, nil
}

// fakeChannelRepo implements the subset of channel.Repository RunFirstInit needs.
type fakeChannelRepo struct {
	channels []channel.Channel
}

func (r *fakeChannelRepo) List(_ context.Context, _ uuid.UUID) ([]channel.Channel, error) {
	return r.channels, nil
}

func (r *fakeChannelRepo) GetByID(_ context.Context, id uuid.UUID) (*channel.Channel, error) {
	for i := range r.channels {
		if r.channels[i].ID == id {
			return &r.channels[i], nil
		}
	}
	return nil, channel.ErrNotFound
}

func (r *fakeChannelRepo) Create(_ context.Context, params channel.CreateParams) (*channel.Channel, error) {
	now := time.Now()
	ch := channel.Channel{
		ID:        uuid.New(),
		Name:      params.Name,
		Topic:     params.Topic,
		AuthorID:  params.AuthorID,
		Private:   params.Private,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.channels = append(r.channels, ch)
	return &ch, nil
}

func (r *fakeChannelRepo) Update(_ context.Context, id uuid.UUID, params channel.UpdateParams) (*channel.Channel, error) {
	for i := range r.channels {
		if r.channels[i].ID == id {
			if params.Name != nil {
				r.channels[i].Name = *params.Name
			}
			return &r.channels[i], nil
		}
	}
	return nil, channel.ErrNotFound
}

func (r *fakeChannelRepo) Delete(_ context.Context, id uuid.UUID) error {
	for i := range r.channels {
		if r.channels[i].ID == id {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			return nil
		}
	}
	return channel.ErrNotFound
}

func (r *fakeChannelRepo) TouchLastMessageAt(_ context.Context, id uuid.UUID, at time.Time) error {
	for i := range r.channels {
		if r.channels[i].ID == id {
			r.channels[i].LastMessageAt = &at
			return nil
		}
	}
	return channel.ErrNotFound
}

func testConfig() *config.Config {
	return &config.Config{
		BcryptCost:        4,
		InitOwnerEmail:    "owner@example.com",
		InitOwnerPassword: "a-strong-password-123",
	}
}

func TestRunFirstInitSeedsOwnerAndChannel(t *testing.T) {
	t.Parallel()

	users := newFakeUserRepo()
	channels := &fakeChannelRepo{}
	cfg := testConfig()

	if err := RunFirstInit(context.Background(), users, channels, cfg); err != nil {
		t.Fatalf("RunFirstInit() error = %v", err)
	}

	if len(users.users) != 1 {
		t.Fatalf("got %d users, want 1", len(users.users))
	}
	var owner *user.User
	for _, u := range users.users {
		owner = u
	}
	if owner.Username != "owner" {
		t.Errorf("owner username = %q, want %q", owner.Username, "owner")
	}
	if !owner.Verified {
		t.Error("owner should be verified after first-run init")
	}

	if len(channels.channels) != 1 {
		t.Fatalf("got %d channels, want 1", len(channels.channels))
	}
	ch := channels.channels[0]
	if ch.Name != defaultChannelName {
		t.Errorf("channel name = %q, want %q", ch.Name, defaultChannelName)
	}
	if ch.AuthorID != owner.ID {
		t.Errorf("channel author = %s, want owner %s", ch.AuthorID, owner.ID)
	}
	if ch.Private {
		t.Error("default channel should be public")
	}
}

func TestRunFirstInitRequiresOwnerCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.InitOwnerEmail = ""

	err := RunFirstInit(context.Background(), newFakeUserRepo(), &fakeChannelRepo{}, cfg)
	if err == nil {
		t.Fatal("expected error when owner credentials are missing")
	}
}
