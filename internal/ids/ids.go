// Package ids implements collision-resistant identifiers and the opaque
// bearer token scheme used across the service: entities get a UUID-backed
// short id, and authenticated sessions get a non-expiring token carrying the
// user id and issue time in its own encoding rather than in a database row.
package ids

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedToken is returned by Deconstruct when a token does not match
// the expected three-part shape.
var ErrMalformedToken = errors.New("malformed bearer token")

// New returns a fresh opaque entity id.
func New() string {
	return uuid.New().String()
}

const randomPartBytes = 10

// GenerateToken builds a bearer token of the form
// b64(user_id) "." b64(issued_unix) "." random10 for the given user id,
// stamped with the current time. No expiry is encoded; rotation happens by
// issuing a new token and overwriting the stored one.
func GenerateToken(userID string) (string, error) {
	return generateToken(userID, time.Now())
}

func generateToken(userID string, issuedAt time.Time) (string, error) {
	random := make([]byte, randomPartBytes)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}

	idPart := base64.RawURLEncoding.EncodeToString([]byte(userID))
	tsPart := base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(issuedAt.Unix(), 10)))
	randomPart := base64.RawURLEncoding.EncodeToString(random)

	return idPart + "." + tsPart + "." + randomPart, nil
}

// Deconstruct reverses GenerateToken's encoding, returning the embedded user
// id and issue time without validating the random suffix against any store
// (that check is the auth middleware's job — see internal/auth).
func Deconstruct(token string) (userID string, issuedAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, ErrMalformedToken
	}

	idBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", time.Time{}, ErrMalformedToken
	}
	tsBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", time.Time{}, ErrMalformedToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(parts[2]); err != nil {
		return "", time.Time{}, ErrMalformedToken
	}

	unixSeconds, err := strconv.ParseInt(string(tsBytes), 10, 64)
	if err != nil {
		return "", time.Time{}, ErrMalformedToken
	}

	return string(idBytes), time.Unix(unixSeconds, 0).UTC(), nil
}
