package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/uncord-chat/uncord-server/internal/auth"
	"github.com/uncord-chat/uncord-server/internal/httputil"
)

// AuthHandler serves authentication endpoints.
type AuthHandler struct {
	Auth *auth.Service
	log  zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{Auth: svc, log: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

func authResultResponse(result *auth.AuthResult) fiber.Map {
	return fiber.Map{
		"user":  result.User,
		"token": result.Token,
	}
}

// Register handles POST /v1/signup.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.Auth.Register(c.Context(), auth.RegisterRequest{
		Email:    body.Email,
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, authResultResponse(result))
}

// Login handles POST /v1/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.Auth.Login(c.Context(), auth.LoginRequest{
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, authResultResponse(result))
}

// VerifyEmail handles POST /v1/users/@me/verify.
func (h *AuthHandler) VerifyEmail(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body verifyEmailRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if body.Code == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "code is required")
	}

	if err := h.Auth.VerifyEmail(c.Context(), userID, body.Code); err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "email verified"})
}

// ResendVerification handles POST /v1/users/@me/verify/resend.
func (h *AuthHandler) ResendVerification(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	if err := h.Auth.ResendVerification(c.Context(), userID); err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "verification email sent"})
}

// RotateToken handles POST /v1/users/@me/token/rotate, invalidating every previously issued bearer token.
func (h *AuthHandler) RotateToken(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	token, err := h.Auth.RotateToken(c.Context(), userID)
	if err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"token": token})
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

// DeleteAccount handles DELETE /v1/users/@me.
func (h *AuthHandler) DeleteAccount(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body deleteAccountRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Auth.DeleteAccount(c.Context(), userID, body.Password); err != nil {
		return mapAuthError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

// VerifyPassword handles POST /v1/users/@me/verify-password.
func (h *AuthHandler) VerifyPassword(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, "missing user identity")
	}

	var body verifyPasswordRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Auth.VerifyUserPassword(c.Context(), userID, body.Password); err != nil {
		return mapAuthError(c, err)
	}

	return httputil.Success(c, fiber.Map{"message": "password verified"})
}

// mapAuthError converts auth-layer errors to appropriate HTTP responses.
func mapAuthError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrUsernameLength),
		errors.Is(err, auth.ErrUsernameInvalidChars),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, auth.ErrDisposableEmail):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken), errors.Is(err, auth.ErrAccountTombstoned):
		return httputil.Fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal server error")
	}
}
