package auth

import (
	"net/mail"
	"regexp"
	"strings"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateEmail parses and normalizes an email address, returning the
// normalized form and domain. Returns ErrInvalidEmail if the format is invalid.
func ValidateEmail(email string) (normalized, domain string, err error) {
	addr, parseErr := mail.ParseAddress(email)
	if parseErr != nil {
		return "", "", ErrInvalidEmail
	}

	normalized = strings.ToLower(addr.Address)

	parts := strings.SplitN(normalized, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidEmail
	}

	return normalized, parts[1], nil
}

// ValidateUsername checks that a username is 3-32 characters of
// [A-Za-z0-9_-] and returns it lowercased, per the data model's
// "username (lowercase, unique, 3-32 of [A-Za-z0-9_-])" requirement.
func ValidateUsername(username string) (string, error) {
	if len(username) < 3 || len(username) > 32 {
		return "", ErrUsernameLength
	}
	if !usernameRegex.MatchString(username) {
		return "", ErrUsernameInvalidChars
	}
	return strings.ToLower(username), nil
}

// ValidatePassword checks that a password is non-empty and at most 128 characters. There is no minimum length
// beyond "non-empty" to match.
func ValidatePassword(password string) error {
	if len(password) < 1 {
		return ErrPasswordTooShort
	}
	if len(password) > 128 {
		return ErrPasswordTooLong
	}
	return nil
}
