package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/channel"
)

// recordStoreSource adapts internal/channel's repository to
// entitlement.ChannelSource, resolving a user's observable channel set from
// Postgres the first time that user connects locally ("built on first
// connection from the record store"). channel.Repository.List already
// returns exactly that set: public channels, owned channels, and private
// channels the caller is an explicit member of.
type recordStoreSource struct {
	channels channel.Repository
}

func newRecordStoreSource(channels channel.Repository) *recordStoreSource {
	return &recordStoreSource{channels: channels}
}

func (s *recordStoreSource) EntitledChannelIDs(userID string) ([]string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	chans, err := s.channels.List(context.Background(), id)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(chans))
	for i, ch := range chans {
		ids[i] = ch.ID.String()
	}
	return ids, nil
}
