// Package presence implements the distributed gateway connection registry
// a sorted set per user of (connection_id, last_seen_ms), supporting
// multiple simultaneous connections and stale eviction. It replaces the
// teacher's TTL-keyed presence store (internal/presence/presence.go in the
// teacher tree), which could not represent more than one live connection per
// user.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStaleSeconds is GATEWAY_CONN_STALE_SEC's default.
const DefaultStaleSeconds = 600

// Store is the Valkey-backed presence registry.
type Store struct {
	rdb         *redis.Client
	env         string
	staleWindow time.Duration
}

// New creates a Store. env namespaces the sorted-set keys per deployment
// (e.g. "prod", "staging"), matching the {env}-gateway-connections-v2 key
// format. staleSeconds is GATEWAY_CONN_STALE_SEC.
func New(rdb *redis.Client, env string, staleSeconds int) *Store {
	if staleSeconds <= 0 {
		staleSeconds = DefaultStaleSeconds
	}
	return &Store{rdb: rdb, env: env, staleWindow: time.Duration(staleSeconds) * time.Second}
}

func (s *Store) key(userID string) string {
	return fmt.Sprintf("%s-gateway-connections-v2:%s", s.env, userID)
}

func nowMillis() float64 {
	return float64(time.Now().UnixMilli())
}

// Register adds connectionID to userID's active set with the current
// timestamp as its score.
func (s *Store) Register(ctx context.Context, userID, connectionID string) error {
	if err := s.rdb.ZAdd(ctx, s.key(userID), redis.Z{Score: nowMillis(), Member: connectionID}).Err(); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	return nil
}

// Touch refreshes connectionID's last-seen score to now, called on each
// successful heartbeat.
func (s *Store) Touch(ctx context.Context, userID, connectionID string) error {
	if err := s.rdb.ZAdd(ctx, s.key(userID), redis.Z{Score: nowMillis(), Member: connectionID}).Err(); err != nil {
		return fmt.Errorf("touch connection: %w", err)
	}
	return nil
}

// Unregister removes connectionID from userID's active set.
func (s *Store) Unregister(ctx context.Context, userID, connectionID string) error {
	if err := s.rdb.ZRem(ctx, s.key(userID), connectionID).Err(); err != nil {
		return fmt.Errorf("unregister connection: %w", err)
	}
	return nil
}

// CountActive evicts stale members (score older than the stale window) and
// returns the number of connections remaining. Eviction is performed with
// ZREMRANGEBYSCORE, which is idempotent under concurrent callers.
func (s *Store) CountActive(ctx context.Context, userID string) (int64, error) {
	key := s.key(userID)
	threshold := nowMillis() - float64(s.staleWindow.Milliseconds())

	if err := s.rdb.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%f", threshold)).Err(); err != nil {
		return 0, fmt.Errorf("evict stale connections: %w", err)
	}

	count, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count active connections: %w", err)
	}
	return count, nil
}

// Status derives the effective presence status (P4): offline iff no active
// connections remain, otherwise the user's own default status.
func Status(activeCount int64, defaultStatus string) string {
	if activeCount == 0 {
		return "offline"
	}
	return defaultStatus
}
