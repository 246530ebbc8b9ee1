package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/config"
	"github.com/uncord-chat/uncord-server/internal/disposable"
	"github.com/uncord-chat/uncord-server/internal/ids"
	"github.com/uncord-chat/uncord-server/internal/models"
	"github.com/uncord-chat/uncord-server/internal/user"
)

// verificationCodeBytes is the number of random bytes used to generate email verification codes. 16 bytes yields 32
// hex characters, plenty of entropy for a code that is invalidated the moment it is consumed.
const verificationCodeBytes = 16

// Sender sends transactional emails such as verification messages. Implementations must be safe for concurrent use.
type Sender interface {
	SendVerification(to, token, serverURL, serverName string) error
}

// Service implements authentication business logic, keeping HTTP handlers thin and focused on request parsing /
// response formatting.
type Service struct {
	users     user.Repository
	config    *config.Config
	blocklist *disposable.Blocklist
	sender    Sender
	log       zerolog.Logger
	// dummyHash is a precomputed bcrypt hash used to keep login timing constant when a user is not found, preventing
	// email enumeration via response-time analysis.
	dummyHash string
}

// NewService creates a new authentication service. The sender parameter may be nil when SMTP is not configured; in
// that case, verification emails are silently skipped. It returns an error if bcrypt hashing fails at startup, since
// password hashing is fundamental to every auth operation.
func NewService(users user.Repository, cfg *config.Config, bl *disposable.Blocklist, sender Sender, logger zerolog.Logger) (*Service, error) {
	// Generate a dummy hash at startup so Login always runs a bcrypt comparison even when the user does not exist. A
	// failure here means BcryptCost is broken and no password operation will succeed.
	dummy, err := HashPassword("uncord-dummy-password", cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		config:    cfg,
		blocklist: bl,
		sender:    sender,
		log:       logger,
		dummyHash: dummy,
	}, nil
}

// RegisterRequest is the input for Service.Register.
type RegisterRequest struct {
	Email    string
	Username string
	Password string
}

// LoginRequest is the input for Service.Login. Username is looked up against both the username and email columns,
// matching whichever identifier the caller supplied.
type LoginRequest struct {
	Username string
	Password string
}

// AuthResult is the output for Register and Login.
type AuthResult struct {
	User  models.User
	Token string
}

// Register validates inputs, checks the disposable-email and tombstone blocklists, creates the user with a bcrypt
// password hash and an opaque bearer token, and returns the newly created user along with that token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	email, domain, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	username, err := ValidateUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	if s.blocklist != nil {
		blocked, err := s.blocklist.IsBlocked(ctx, domain)
		if err != nil {
			s.log.Warn().Err(err).Msg("Disposable email check failed")
		}
		if blocked {
			return nil, ErrDisposableEmail
		}
	}

	emailHMAC, err := HMACIdentifier(email, s.config.ServerSecret)
	if err != nil {
		return nil, fmt.Errorf("compute email HMAC: %w", err)
	}
	if tombstoned, err := s.users.CheckTombstone(ctx, user.TombstoneEmail, emailHMAC); err != nil {
		return nil, fmt.Errorf("check email tombstone: %w", err)
	} else if tombstoned {
		return nil, ErrAccountTombstoned
	}

	usernameHMAC, err := HMACIdentifier(username, s.config.ServerSecret)
	if err != nil {
		return nil, fmt.Errorf("compute username HMAC: %w", err)
	}
	if tombstoned, err := s.users.CheckTombstone(ctx, user.TombstoneUsername, usernameHMAC); err != nil {
		return nil, fmt.Errorf("check username tombstone: %w", err)
	} else if tombstoned {
		return nil, ErrAccountTombstoned
	}

	hash, err := HashPassword(req.Password, s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	verificationCode, err := generateSecureToken(verificationCodeBytes)
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	tempID := ids.New()
	token, err := ids.GenerateToken(tempID)
	if err != nil {
		return nil, fmt.Errorf("generate bearer token: %w", err)
	}

	u, err := s.users.Create(ctx, user.CreateParams{
		Username:         username,
		Email:            email,
		PasswordHash:     hash,
		Token:            token,
		VerificationCode: verificationCode,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			return nil, ErrEmailAlreadyTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.config.IsDevelopment() {
		s.log.Info().
			Str("user_id", u.ID.String()).
			Str("code", verificationCode).
			Msg("Email verification code (dev mode)")
	}

	if s.sender != nil {
		if err := s.sender.SendVerification(email, verificationCode, s.config.ServerURL, s.config.ServerName); err != nil {
			s.log.Error().Err(err).Str("user_id", u.ID.String()).Msg("Failed to send verification email")
		}
	}

	s.log.Debug().Str("user_id", u.ID.String()).Msg("User registered")

	return &AuthResult{
		User:  u.ToModel(string(u.DefaultStatus), true),
		Token: token,
	}, nil
}

// Login verifies credentials against the stored bcrypt hash and returns the user along with their existing bearer
// token. It does not rotate the token; clients reuse the token returned at registration until RotateToken is called
// explicitly (e.g. by a future "log out everywhere" action).
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	identifier := strings.ToLower(strings.TrimSpace(req.Username))
	if identifier == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.lookupByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Hash against a dummy value to prevent timing-based username/email enumeration. Without this, "user not
			// found" returns faster than "wrong password" because bcrypt is skipped entirely.
			_, _ = VerifyPassword(req.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	match, err := VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	return &AuthResult{
		User:  u.ToModel(string(u.DefaultStatus), true),
		Token: u.Token,
	}, nil
}

// lookupByUsernameOrEmail resolves a login identifier against the username column first, falling back to email so
// either one logs a user in, matching the original Or(User.username == x, User.email == x) lookup.
func (s *Service) lookupByUsernameOrEmail(ctx context.Context, identifier string) (*user.User, error) {
	u, err := s.users.GetByUsername(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}
	return s.users.GetByEmail(ctx, identifier)
}

// RotateToken issues the user a new bearer token, invalidating the previous one. Use this for a "log out everywhere"
// action; there is no per-session revocation since the token carries no session identifier beyond the user itself.
func (s *Service) RotateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := ids.GenerateToken(userID.String())
	if err != nil {
		return "", fmt.Errorf("generate bearer token: %w", err)
	}
	if err := s.users.RotateToken(ctx, userID, token); err != nil {
		return "", fmt.Errorf("rotate token: %w", err)
	}
	return token, nil
}

// VerifyEmail consumes a verification code and marks the user as verified.
func (s *Service) VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error {
	if err := s.users.VerifyEmail(ctx, userID, code); err != nil {
		if errors.Is(err, user.ErrInvalidToken) {
			return ErrInvalidToken
		}
		return fmt.Errorf("verify email: %w", err)
	}
	s.log.Debug().Str("user_id", userID.String()).Msg("User email verified")
	return nil
}

// ResendVerification generates a new verification code and sends a verification email. It is a no-op error-wise for
// already-verified accounts; callers should check the User's Verified flag before calling this to avoid sending an
// unnecessary email.
func (s *Service) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for resend verification: %w", err)
	}
	if u.Verified {
		return nil
	}

	code, err := generateSecureToken(verificationCodeBytes)
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	if err := s.users.ReplaceVerificationCode(ctx, userID, code); err != nil {
		return fmt.Errorf("replace verification code: %w", err)
	}

	if s.config.IsDevelopment() {
		s.log.Info().
			Str("user_id", userID.String()).
			Str("code", code).
			Msg("Email verification code (dev mode)")
	}

	if s.sender != nil {
		if err := s.sender.SendVerification(u.Email, code, s.config.ServerURL, s.config.ServerName); err != nil {
			s.log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to send verification email")
		}
	}

	s.log.Debug().Str("user_id", userID.String()).Msg("Verification email resent")
	return nil
}

// VerifyUserPassword confirms that the provided password matches the stored hash for the given user. It is used by
// the verify-password endpoint to let clients gate sensitive workflows behind a password prompt without performing
// any mutation.
func (s *Service) VerifyUserPassword(ctx context.Context, userID uuid.UUID, password string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password verification: %w", err)
	}

	match, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	return nil
}

// DeleteAccount verifies the user's password, computes HMAC tombstones for the email (always) and optionally the
// username, and atomically deletes the user and inserts the tombstones.
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID, password string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for account deletion: %w", err)
	}

	match, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password for account deletion: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	tombstones := make([]user.Tombstone, 0, 2)

	emailHMAC, err := HMACIdentifier(u.Email, s.config.ServerSecret)
	if err != nil {
		return fmt.Errorf("compute email HMAC: %w", err)
	}
	tombstones = append(tombstones, user.Tombstone{
		IdentifierType: user.TombstoneEmail,
		HMACHash:       emailHMAC,
	})

	if s.config.DeletionTombstoneUsernames {
		usernameHMAC, err := HMACIdentifier(strings.ToLower(u.Username), s.config.ServerSecret)
		if err != nil {
			return fmt.Errorf("compute username HMAC: %w", err)
		}
		tombstones = append(tombstones, user.Tombstone{
			IdentifierType: user.TombstoneUsername,
			HMACHash:       usernameHMAC,
		})
	}

	if err := s.users.DeleteWithTombstones(ctx, userID, tombstones); err != nil {
		return fmt.Errorf("delete user with tombstones: %w", err)
	}

	s.log.Info().Str("user_id", userID.String()).Msg("Account deleted")
	return nil
}

func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
