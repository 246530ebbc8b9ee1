// Package gateway implements the real-time connection manager: the
// per-node fan-out loop that tails the durable event log and dispatches
// to every locally held SSE stream, filtered through the node-local
// entitlement cache and backed by the distributed presence registry.
// Adapted from a single-writer-goroutine-per-connection fan-out shape
// to an accept/replay/live state machine, with the flusher-driven
// chunked-write pattern for long-lived streaming responses.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/channel"
	"github.com/uncord-chat/uncord-server/internal/entitlement"
	"github.com/uncord-chat/uncord-server/internal/eventbus"
	"github.com/uncord-chat/uncord-server/internal/events"
	"github.com/uncord-chat/uncord-server/internal/presence"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// HeartbeatInterval is the per-connection SSE heartbeat cadence.
const HeartbeatInterval = 15 * time.Second

// ErrHubStopped is returned by Hub methods called after Run's context has
// been cancelled.
var ErrHubStopped = errors.New("gateway hub stopped")

// UserSource is the subset of internal/user.Repository the gateway needs:
// looking up a single author for an author_updated payload, and listing
// every known user for the cache-populate roster burst.
type UserSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	ListAllIDs(ctx context.Context) ([]uuid.UUID, error)
}

// hubState is every piece of mutable state the command loop owns
// exclusively. entitlement.Cache documents that it is not safe for
// concurrent use by design; conns and byUser are kept alongside it under
// the same single-goroutine discipline so a fan-out pass and a
// register/unregister can never race.
type hubState struct {
	entitlements *entitlement.Cache
	conns        map[string]*Connection            // connID -> connection
	byUser       map[uuid.UUID]map[string]struct{} // userID -> set of connIDs
}

// Hub is the per-node connection manager. One Hub is constructed per
// gateway process and its Run method is started once at boot.
type Hub struct {
	bus      *eventbus.Bus
	presence *presence.Store
	users    UserSource
	log      zerolog.Logger

	state    *hubState
	commands chan func(*hubState)
	stopped  chan struct{}
}

// New creates a Hub. channels resolves a user's initial entitlement set on
// first local connection.
func New(bus *eventbus.Bus, presenceStore *presence.Store, channels channel.Repository, users UserSource, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:      bus,
		presence: presenceStore,
		users:    users,
		log:      logger,
		state: &hubState{
			entitlements: entitlement.New(newRecordStoreSource(channels)),
			conns:        make(map[string]*Connection),
			byUser:       make(map[uuid.UUID]map[string]struct{}),
		},
		commands: make(chan func(*hubState), 256),
		stopped:  make(chan struct{}),
	}
}

// Run starts the command loop and the bus fan-out tail. It blocks until ctx
// is cancelled; callers should run it in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	go h.tail(ctx)
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			return
		case fn := <-h.commands:
			fn(h.state)
		}
	}
}

// do round-trips fn through the command loop and blocks until it has run,
// so callers observe a consistent view of hubState without ever touching it
// directly from another goroutine.
func (h *Hub) do(fn func(*hubState)) error {
	done := make(chan struct{})
	cmd := func(s *hubState) {
		fn(s)
		close(done)
	}
	select {
	case h.commands <- cmd:
	case <-h.stopped:
		return ErrHubStopped
	}
	select {
	case <-done:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	}
}

func (h *Hub) tail(ctx context.Context) {
	err := h.bus.Tail(ctx, eventbus.ZeroCursor, func(e eventbus.Entry) error {
		return h.do(func(s *hubState) { h.fanOut(s, e.Envelope) })
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, ErrHubStopped) {
		h.log.Error().Err(err).Msg("gateway fan-out tail stopped")
	}
}

// fanOut applies any incremental entitlement change the envelope carries,
// then dispatches it to every locally held connection entitled to observe
// it. A connection whose outbound queue overflows is closed immediately;
// the client is expected to reconnect with a cursor.
func (h *Hub) fanOut(s *hubState, env events.Envelope) {
	payload, err := events.Decode(env)
	if err != nil {
		return
	}

	h.applyIncrementalEntitlements(s, env.T, payload)

	channelID, scoped := events.ChannelIDOf(env.T, payload)
	frame, err := EncodeFrame(env)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(env.T)).Msg("failed to encode fan-out frame")
		return
	}

	for connID, conn := range s.conns {
		if scoped && !s.entitlements.CanObserve(conn.UserID.String(), channelID) {
			continue
		}
		if !conn.Send(frame) {
			h.closeLocal(s, connID, conn)
		}
	}
}

// applyIncrementalEntitlements keeps each connected user's entitlement set
// current as events arrive, consumed from the bus before fan-out so the
// same pass that grants or revokes access also decides delivery.
func (h *Hub) applyIncrementalEntitlements(s *hubState, t events.Type, payload any) {
	switch t {
	case events.TypeChannelCreated:
		p := payload.(events.ChannelCreated)
		if s.entitlements.Connected(p.Channel.AuthorID) {
			s.entitlements.AddChannel(p.Channel.AuthorID, p.Channel.ID)
		}
	case events.TypeChannelDeleted:
		p := payload.(events.ChannelDeleted)
		s.entitlements.RemoveChannelEveryone(p.ChannelID)
	case events.TypeMessageCreated:
		p := payload.(events.MessageCreated)
		if p.Author == nil {
			return
		}
		switch p.Message.Type {
		case "join":
			s.entitlements.AddChannel(p.Author.ID, p.Message.ChannelID)
		case "leave":
			s.entitlements.RemoveChannel(p.Author.ID, p.Message.ChannelID)
		}
	}
}

// closeLocal removes a connection from the local tables and marks it
// closed so the API layer's write loop tears down the underlying stream.
// Callers must already be running on the command loop.
func (h *Hub) closeLocal(s *hubState, connID string, conn *Connection) {
	delete(s.conns, connID)
	if peers, ok := s.byUser[conn.UserID]; ok {
		delete(peers, connID)
		if len(peers) == 0 {
			delete(s.byUser, conn.UserID)
			s.entitlements.Release(conn.UserID.String())
		}
	}
	conn.MarkClosed()
}

// Register performs the accept -> REGISTERING transition: it assigns a
// connection id, registers it in the distributed presence set, builds or
// references the caller's entitlement cache entry, and emits author_updated
// so peers observe the caller coming online.
func (h *Hub) Register(ctx context.Context, userID uuid.UUID) (*Connection, error) {
	connID := uuid.New().String()
	conn := newConnection(connID, userID)

	if err := h.presence.Register(ctx, userID.String(), connID); err != nil {
		return nil, fmt.Errorf("register presence: %w", err)
	}

	var acquireErr error
	err := h.do(func(s *hubState) {
		if err := s.entitlements.Acquire(userID.String()); err != nil {
			acquireErr = err
			return
		}
		s.conns[connID] = conn
		if s.byUser[userID] == nil {
			s.byUser[userID] = make(map[string]struct{})
		}
		s.byUser[userID][connID] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	if acquireErr != nil {
		_ = h.presence.Unregister(ctx, userID.String(), connID)
		return nil, fmt.Errorf("build entitlements: %w", acquireErr)
	}

	h.publishAuthorUpdated(ctx, userID)
	return conn, nil
}

// Unregister performs the CLOSED transition: it removes the connection from
// presence and the local tables, drops the entitlement entry if this was
// the user's last local connection, and emits author_updated so peers can
// observe a possible offline transition.
func (h *Hub) Unregister(ctx context.Context, conn *Connection) {
	_ = h.presence.Unregister(ctx, conn.UserID.String(), conn.ID)
	_ = h.do(func(s *hubState) {
		if _, ok := s.conns[conn.ID]; ok {
			h.closeLocal(s, conn.ID, conn)
		}
	})
	h.publishAuthorUpdated(ctx, conn.UserID)
}

// Replay serves the PRIMED -> REPLAYING transition: every event published
// strictly after cursor, filtered through the caller's entitlement set,
// in order. An error here must close the connection.
func (h *Hub) Replay(ctx context.Context, userID uuid.UUID, cursor string) ([]events.Envelope, error) {
	entries, err := h.bus.Range(ctx, cursor, "+")
	if err != nil {
		return nil, err
	}

	var channels map[string]struct{}
	_ = h.do(func(s *hubState) {
		ids := s.entitlements.Channels(userID.String())
		channels = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			channels[id] = struct{}{}
		}
	})

	out := make([]events.Envelope, 0, len(entries))
	for _, e := range entries {
		payload, err := events.Decode(e.Envelope)
		if err != nil {
			continue
		}
		channelID, scoped := events.ChannelIDOf(e.Envelope.T, payload)
		if scoped {
			if _, ok := channels[channelID]; !ok {
				continue
			}
		}
		out = append(out, e.Envelope)
	}
	return out, nil
}

// CachePopulateBurst serves the PRIMED (no cursor) transition: one
// author_updated envelope per known user, carrying their current derived
// status, so a client with no prior cursor receives a complete roster.
func (h *Hub) CachePopulateBurst(ctx context.Context) ([]events.Envelope, error) {
	ids, err := h.users.ListAllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users for roster burst: %w", err)
	}

	out := make([]events.Envelope, 0, len(ids))
	for _, id := range ids {
		env, err := h.authorUpdatedEnvelope(ctx, id)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", id.String()).Msg("skipping roster entry")
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// publishAuthorUpdated builds and fire-and-forget publishes an
// author_updated envelope for userID onto the durable event log.
func (h *Hub) publishAuthorUpdated(ctx context.Context, userID uuid.UUID) {
	env, err := h.authorUpdatedEnvelope(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to build author_updated")
		return
	}
	if _, err := h.bus.Publish(ctx, env); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to publish author_updated")
	}
}

func (h *Hub) authorUpdatedEnvelope(ctx context.Context, userID uuid.UUID) (events.Envelope, error) {
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return events.Envelope{}, err
	}
	active, err := h.presence.CountActive(ctx, userID.String())
	if err != nil {
		return events.Envelope{}, err
	}
	status := presence.Status(active, string(u.DefaultStatus))

	author := u.ToAuthor()
	author.CurrentStatus = status

	return events.Encode(events.TypeAuthorUpdated, events.AuthorUpdated{Author: author})
}
