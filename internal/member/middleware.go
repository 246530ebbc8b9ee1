package member

import (
	"context"

	"github.com/google/uuid"
)

// CanAccess reports whether userID may observe a channel's messages and
// membership: the channel is non-private, or userID is its author, or
// userID is an explicit member. This mirrors the authorization rule used
// throughout the API ("Non-private channel OR author OR
// member").
func CanAccess(ctx context.Context, members Repository, channelID uuid.UUID, private bool, authorID, userID uuid.UUID) (bool, error) {
	if !private || authorID == userID {
		return true, nil
	}
	return members.IsMember(ctx, channelID, userID)
}
