package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/uncord-chat/uncord-server/internal/apierr"
)

// ErrorBody is the literal `{"message": "<text>"}` error shape the API uses.
type ErrorBody struct {
	Message string `json:"message"`
}

// Success sends a 200 JSON response with the given data, unwrapped (the
// entity itself, not an envelope).
func Success(c fiber.Ctx, data any) error {
	return c.JSON(data)
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(data)
}

// Fail sends the literal error body at the given status.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorBody{Message: message})
}

// FailErr sends the error body implied by an *apierr.Error's Kind, or a 500
// for anything else.
func FailErr(c fiber.Ctx, err error) error {
	if apiErr, ok := err.(*apierr.Error); ok {
		return Fail(c, apiErr.Status(), apiErr.Message)
	}
	return Fail(c, fiber.StatusInternalServerError, "internal server error")
}
