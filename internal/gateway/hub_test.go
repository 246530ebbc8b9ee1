package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/presence"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// fakeChannelRepo implements channel.Repository with only the behavior the
// gateway exercises: listing a user's visible channels.
type fakeChannelRepo struct {
	channels []channel.Channel
}

func (r *fakeChannelRepo) List(_ context.Context, userID uuid.UUID) ([]channel.Channel, error) {
	var out []channel.Channel
	for _, ch := range r.channels {
		if !ch.Private || ch.AuthorID == userID {
			out = append(out, ch)
		}
	}
	return out, nil
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
	ch := channel.Channel{ID: uuid.New(), Name: params.Name, AuthorID: params.AuthorID, Private: params.Private, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	r.channels = append(r.channels, ch)
	return &r.channels[len(r.channels)-1], nil
}

func (r *fakeChannelRepo) Update(_ context.Context, id uuid.UUID, params channel.UpdateParams) (*channel.Channel, error) {
	return nil, channel.ErrNotFound
}

func (r *fakeChannelRepo) Delete(_ context.Context, id uuid.UUID) error { return nil }

func (r *fakeChannelRepo) TouchLastMessageAt(_ context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

// fakeUserSource implements UserSource for hub tests.
type fakeUserSource struct {
	users map[uuid.UUID]*user.User
}

func (s *fakeUserSource) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (s *fakeUserSource) ListAllIDs(_ context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	return ids, nil
}

func newTestHub(t *testing.T, channels *fakeChannelRepo, users *fakeUserSource) (*Hub, *eventbus.Bus, context.CancelFunc) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	bus := eventbus.New(rdb, zerolog.Nop())
	presenceStore := presence.New(rdb, "test", 600)
	hub := New(bus, presenceStore, channels, users, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, bus, cancel
}

func TestRegisterEmitsAuthorUpdatedAndUnregisterEmitsOffline(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	users := &fakeUserSource{users: map[uuid.UUID]*user.User{
		userID: {ID: userID, Username: "alice", DefaultStatus: user.StatusOnline},
	}}
	hub, bus, cancel := newTestHub(t, &fakeChannelRepo{}, users)
	defer cancel()

	ctx := context.Background()
	conn, err := hub.Register(ctx, userID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	entries, err := bus.Range(ctx, "", "+")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(entries) != 1 || entries[0].Envelope.T != events.TypeAuthorUpdated {
		t.Fatalf("expected a single author_updated after register, got %d entries", len(entries))
	}

	hub.Unregister(ctx, conn)

	entries, err = bus.Range(ctx, "", "+")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected a second author_updated after unregister, got %d entries", len(entries))
	}
}

func TestFanOutDeliversOnlyEntitledChannel(t *testing.T) {
	t.Parallel()

	ownerID, strangerID := uuid.New(), uuid.New()
	privateCh := channel.Channel{ID: uuid.New(), Name: "secret", AuthorID: ownerID, Private: true}
	channels := &fakeChannelRepo{channels: []channel.Channel{privateCh}}
	users := &fakeUserSource{users: map[uuid.UUID]*user.User{
		ownerID:    {ID: ownerID, Username: "owner", DefaultStatus: user.StatusOnline},
		strangerID: {ID: strangerID, Username: "stranger", DefaultStatus: user.StatusOnline},
	}}
	hub, bus, cancel := newTestHub(t, channels, users)
	defer cancel()

	ctx := context.Background()
	ownerConn, err := hub.Register(ctx, ownerID)
	if err != nil {
		t.Fatalf("Register owner: %v", err)
	}
	strangerConn, err := hub.Register(ctx, strangerID)
	if err != nil {
		t.Fatalf("Register stranger: %v", err)
	}

	env, _ := events.Encode(events.TypeChannelUpdated, events.ChannelUpdated{Channel: privateCh.ToModel()})
	if _, err := bus.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var ownerSaw bool
	for !ownerSaw {
		select {
		case frame := <-ownerConn.Outbound():
			if frame != nil {
				ownerSaw = true
			}
		case <-deadline:
			t.Fatal("owner never received channel_updated")
		}
	}

	select {
	case <-strangerConn.Outbound():
		t.Fatal("stranger should not have received a private channel's event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReplayFiltersByEntitlement(t *testing.T) {
	t.Parallel()

	ownerID, strangerID := uuid.New(), uuid.New()
	privateCh := channel.Channel{ID: uuid.New(), Name: "secret", AuthorID: ownerID, Private: true}
	channels := &fakeChannelRepo{channels: []channel.Channel{privateCh}}
	users := &fakeUserSource{users: map[uuid.UUID]*user.User{
		ownerID:    {ID: ownerID, Username: "owner", DefaultStatus: user.StatusOnline},
		strangerID: {ID: strangerID, Username: "stranger", DefaultStatus: user.StatusOnline},
	}}
	hub, bus, cancel := newTestHub(t, channels, users)
	defer cancel()

	ctx := context.Background()
	if _, err := hub.Register(ctx, ownerID); err != nil {
		t.Fatalf("Register owner: %v", err)
	}
	if _, err := hub.Register(ctx, strangerID); err != nil {
		t.Fatalf("Register stranger: %v", err)
	}

	env, _ := events.Encode(events.TypeChannelUpdated, events.ChannelUpdated{Channel: privateCh.ToModel()})
	if _, err := bus.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ownerReplay, err := hub.Replay(ctx, ownerID, eventbus.ZeroCursor)
	if err != nil {
		t.Fatalf("Replay owner: %v", err)
	}
	if len(ownerReplay) != 1 {
		t.Fatalf("owner replay got %d entries, want 1", len(ownerReplay))
	}

	strangerReplay, err := hub.Replay(ctx, strangerID, eventbus.ZeroCursor)
	if err != nil {
		t.Fatalf("Replay stranger: %v", err)
	}
	if len(strangerReplay) != 0 {
		t.Fatalf("stranger replay got %d entries, want 0", len(strangerReplay))
	}
}

func TestCachePopulateBurstCoversEveryUser(t *testing.T) {
	t.Parallel()

	u1, u2 := uuid.New(), uuid.New()
	users := &fakeUserSource{users: map[uuid.UUID]*user.User{
		u1: {ID: u1, Username: "a", DefaultStatus: user.StatusOnline},
		u2: {ID: u2, Username: "b", DefaultStatus: user.StatusAway},
	}}
	hub, _, cancel := newTestHub(t, &fakeChannelRepo{}, users)
	defer cancel()

	burst, err := hub.CachePopulateBurst(context.Background())
	if err != nil {
		t.Fatalf("CachePopulateBurst: %v", err)
	}
	if len(burst) != 2 {
		t.Fatalf("got %d roster entries, want 2", len(burst))
	}
	for _, env := range burst {
		if env.T != events.TypeAuthorUpdated {
			t.Errorf("roster entry T = %q, want author_updated", env.T)
		}
	}
}
