package httputil

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/llm_gateway/internal/auth"
	"github.com/ncecere/llm_gateway/internal/modelaccess"
	"github.com/ncecere/llm_gateway/internal/quota"
	"github.com/ncecere/llm_gateway/internal/store"
)

// WriteError standardizes JSON error responses across the API surface.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// MapError translates pipeline errors into HTTP responses. Anything
// unrecognized is a 500 with a generic message so internals never leak.
func MapError(c *fiber.Ctx, err error) error {
	var exceeded *quota.ExceededError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return WriteError(c, fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, modelaccess.ErrForbidden):
		return WriteError(c, fiber.StatusForbidden, "model access denied")
	case errors.As(err, &exceeded):
		return WriteError(c, fiber.StatusTooManyRequests, exceeded.Error())
	case errors.Is(err, quota.ErrStoreConflict):
		return WriteError(c, fiber.StatusServiceUnavailable, "quota check contention, retry")
	case errors.Is(err, store.ErrDuplicate):
		return WriteError(c, fiber.StatusConflict, "already exists")
	case errors.Is(err, store.ErrNotFound):
		return WriteError(c, fiber.StatusNotFound, "not found")
	default:
		return WriteError(c, fiber.StatusInternalServerError, "internal error")
	}
}
