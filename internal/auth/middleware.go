package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/uncord-chat/uncord-server/internal/httputil"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// localsUserID is the fiber.Ctx Locals key RequireAuth stores the
// authenticated user's ID under.
const localsUserID = "userID"

// UserLookup is the subset of user.Repository the auth middleware needs: a
// lookup by bearer-token equality. No signature or expiry is involved —
// rotation is the only revocation mechanism.
type UserLookup interface {
	GetByToken(ctx context.Context, token string) (*user.User, error)
}

// RequireAuth returns Fiber middleware that resolves the Authorization
// header's bearer token to a user by direct equality lookup and stores the
// user ID in c.Locals("userID"). It rejects with 401 on any mismatch; the
// token itself carries no expiry.
func RequireAuth(users UserLookup) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, "missing authorization header")
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return httputil.Fail(c, fiber.StatusUnauthorized, "invalid authorization format")
		}
		token := strings.TrimPrefix(header, prefix)

		u, err := users.GetByToken(c.Context(), token)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return httputil.Fail(c, fiber.StatusUnauthorized, "invalid token")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
		}

		c.Locals(localsUserID, u.ID)
		return c.Next()
	}
}

// UserIDFromContext extracts the authenticated user's ID stashed by
// RequireAuth. Handlers registered behind RequireAuth can rely on this
// always succeeding.
func UserIDFromContext(c fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(localsUserID).(uuid.UUID)
	return id, ok
}
