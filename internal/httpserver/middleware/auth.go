// Package middleware holds fiber handlers shared across route groups.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/llm_gateway/internal/app"
	"github.com/ncecere/llm_gateway/internal/httpserver/httputil"
	"github.com/ncecere/llm_gateway/internal/requestctx"
)

const bearerPrefix = "bearer "

// RequireAuth resolves the Authorization credential to a principal and
// attaches it to the request context.
func RequireAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization header required")
		}
		if !strings.HasPrefix(strings.ToLower(raw), bearerPrefix) {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "bearer credential required")
		}
		credential := strings.TrimSpace(raw[len(bearerPrefix):])

		principal, err := container.Resolver.Resolve(c.UserContext(), credential, c.Path())
		if err != nil {
			return httputil.MapError(c, err)
		}

		c.SetUserContext(requestctx.WithPrincipal(c.UserContext(), principal))
		return c.Next()
	}
}
