// Package entitlement implements the node-local entitlement cache: one
// entry per locally connected user, holding the set of channel ids that user
// may observe, reference-counted by connection and mutated only through the
// owning gateway node's fan-out loop — no shared locks, message passing
// instead.
package entitlement

// ChannelSource resolves which channels a user is entitled to observe when
// their entry is first built.
type ChannelSource interface {
	// EntitledChannelIDs returns the ids of every channel userID may observe:
	// every non-private channel, channels they own, and private channels
	// they are a member of.
	EntitledChannelIDs(userID string) ([]string, error)
}

type entry struct {
	channels map[string]struct{}
	refCount int
}

// Cache is the node-local entitlement table. It is not safe for concurrent
// use from multiple goroutines by design: only the fan-out loop that owns a
// Cache value may call its methods; other tasks must route mutations
// through that loop rather than locking this structure directly.
type Cache struct {
	source ChannelSource
	byUser map[string]*entry
}

// New creates an empty Cache backed by source for first-connection builds.
func New(source ChannelSource) *Cache {
	return &Cache{source: source, byUser: make(map[string]*entry)}
}

// Acquire increments userID's reference count, building its entitlement set
// from the record store on the first local connection for that user.
func (c *Cache) Acquire(userID string) error {
	if e, ok := c.byUser[userID]; ok {
		e.refCount++
		return nil
	}

	ids, err := c.source.EntitledChannelIDs(userID)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.byUser[userID] = &entry{channels: set, refCount: 1}
	return nil
}

// Release decrements userID's reference count, dropping the entry entirely
// once it reaches zero (the user's last local connection closed).
func (c *Cache) Release(userID string) {
	e, ok := c.byUser[userID]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(c.byUser, userID)
	}
}

// Connected reports whether userID has at least one local connection.
func (c *Cache) Connected(userID string) bool {
	_, ok := c.byUser[userID]
	return ok
}

// ConnectedUsers returns every user id with at least one local connection.
// The caller owns the returned slice.
func (c *Cache) ConnectedUsers() []string {
	users := make([]string, 0, len(c.byUser))
	for u := range c.byUser {
		users = append(users, u)
	}
	return users
}

// Channels returns a copy of userID's entitlement set, used to filter a
// reconnect replay range read. Returns nil for a user with no local
// connection.
func (c *Cache) Channels(userID string) []string {
	e, ok := c.byUser[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.channels))
	for id := range e.channels {
		ids = append(ids, id)
	}
	return ids
}

// CanObserve reports whether userID's entitlement set contains channelID.
// Unknown users (no local connection) are never entitled to anything.
func (c *Cache) CanObserve(userID, channelID string) bool {
	e, ok := c.byUser[userID]
	if !ok {
		return false
	}
	_, ok = e.channels[channelID]
	return ok
}

// AddChannel grants userID access to channelID, e.g. on channel_created by
// that user, or on being added as a member.
func (c *Cache) AddChannel(userID, channelID string) {
	e, ok := c.byUser[userID]
	if !ok {
		return
	}
	e.channels[channelID] = struct{}{}
}

// RemoveChannel revokes userID's access to channelID, e.g. on leaving a
// channel.
func (c *Cache) RemoveChannel(userID, channelID string) {
	e, ok := c.byUser[userID]
	if !ok {
		return
	}
	delete(e.channels, channelID)
}

// RemoveChannelEveryone revokes channelID from every locally connected
// user's entitlement set, called on channel_deleted.
func (c *Cache) RemoveChannelEveryone(channelID string) {
	for _, e := range c.byUser {
		delete(e.channels, channelID)
	}
}
