// Package user serves self-service account routes.
package user

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/llm_gateway/internal/app"
	"github.com/ncecere/llm_gateway/internal/auth"
	"github.com/ncecere/llm_gateway/internal/httpserver/httputil"
	"github.com/ncecere/llm_gateway/internal/httpserver/middleware"
	"github.com/ncecere/llm_gateway/internal/requestctx"
	"github.com/ncecere/llm_gateway/internal/store"
)

// Register mounts the API key management routes. Key management requires
// an interactive identity, so API key credentials are rejected here.
func Register(router fiber.Router, container *app.Container) {
	h := &handler{container: container}

	group := router.Group("/user/api-keys", middleware.RequireAuth(container), requireInteractive)
	group.Get("/", h.listKeys)
	group.Post("/", h.createKey)
	group.Delete("/:name", h.deleteKey)
}

type handler struct {
	container *app.Container
}

func requireInteractive(c *fiber.Ctx) error {
	principal, ok := requestctx.Principal(c.UserContext())
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if principal.Kind == auth.CredentialAPIKey {
		return httputil.WriteError(c, fiber.StatusForbidden, "api keys cannot manage api keys")
	}
	return c.Next()
}

type apiKeyInfo struct {
	Name      string     `json:"name"`
	Username  string     `json:"username"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func keyInfo(key store.APIKey) apiKeyInfo {
	return apiKeyInfo{
		Name:      key.Name,
		Username:  key.Username,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	}
}

func (h *handler) listKeys(c *fiber.Ctx) error {
	principal, _ := requestctx.Principal(c.UserContext())

	username := principal.Username
	if other := c.Query("username"); other != "" && other != principal.Username {
		if !principal.IsAdmin {
			return httputil.WriteError(c, fiber.StatusForbidden, "forbidden")
		}
		username = other
	}

	keys, err := h.container.Keys.ListKeys(c.UserContext(), username)
	if err != nil {
		return httputil.MapError(c, err)
	}

	out := make([]apiKeyInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, keyInfo(key))
	}
	return c.JSON(fiber.Map{"api_keys": out})
}

type createKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *handler) createKey(c *fiber.Ctx) error {
	principal, _ := requestctx.Principal(c.UserContext())

	var req createKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "expires_at must be in the future")
	}

	plaintext, key, err := h.container.Keys.CreateKey(c.UserContext(), principal.Username, req.Name, req.ExpiresAt)
	if errors.Is(err, auth.ErrInvalidKeyName) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "a key name of at most 128 characters is required")
	}
	if err != nil {
		return httputil.MapError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"api_key":  plaintext,
		"name":     key.Name,
		"username": key.Username,
	})
}

func (h *handler) deleteKey(c *fiber.Ctx) error {
	principal, _ := requestctx.Principal(c.UserContext())

	if err := h.container.Keys.DeleteKey(c.UserContext(), principal.Username, c.Params("name")); err != nil {
		return httputil.MapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
