// Package admin serves the operator-only configuration routes.
package admin

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ncecere/llm_gateway/internal/app"
	"github.com/ncecere/llm_gateway/internal/httpserver/httputil"
	"github.com/ncecere/llm_gateway/internal/httpserver/middleware"
	"github.com/ncecere/llm_gateway/internal/modelaccess"
	"github.com/ncecere/llm_gateway/internal/quota"
	"github.com/ncecere/llm_gateway/internal/requestctx"
	"github.com/ncecere/llm_gateway/internal/store"
)

// ConfigStore is the slice of the durable store the admin surface needs.
type ConfigStore interface {
	GetQuotaConfig(ctx context.Context, username string) (store.QuotaConfig, error)
	UpsertQuotaConfig(ctx context.Context, cfg store.QuotaConfig) error
	DeleteQuotaConfig(ctx context.Context, username string) error
	GetAllowedModels(ctx context.Context, username string) ([]string, error)
	UpsertModelAccess(ctx context.Context, username string, models []string) error
	DeleteModelAccess(ctx context.Context, username string) error
}

// Register mounts the per-user quota and model-access config routes.
// All of them require an admin principal.
func Register(router fiber.Router, container *app.Container) {
	register(router, container, container.Store)
}

func register(router fiber.Router, container *app.Container, cfg ConfigStore) {
	h := &handler{
		store:      cfg,
		accountant: container.Accountant,
		access:     container.ModelAccess,
	}

	group := router.Group("/admin", middleware.RequireAuth(container), requireAdmin)
	group.Get("/users/:username/quota", h.getQuota)
	group.Put("/users/:username/quota", h.putQuota)
	group.Delete("/users/:username/quota", h.deleteQuota)
	group.Get("/users/:username/model-access", h.getModelAccess)
	group.Put("/users/:username/model-access", h.putModelAccess)
	group.Delete("/users/:username/model-access", h.deleteModelAccess)
}

type handler struct {
	store      ConfigStore
	accountant *quota.Accountant
	access     *modelaccess.Authorizer
}

func requireAdmin(c *fiber.Ctx) error {
	principal, ok := requestctx.Principal(c.UserContext())
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if !principal.IsAdmin {
		return httputil.WriteError(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

type quotaConfigDoc struct {
	Username  string          `json:"username"`
	Frequency string          `json:"frequency"`
	LimitUSD  decimal.Decimal `json:"limit_usd"`
}

func (h *handler) getQuota(c *fiber.Ctx) error {
	cfg, err := h.store.GetQuotaConfig(c.UserContext(), c.Params("username"))
	if err != nil {
		return httputil.MapError(c, err)
	}
	return c.JSON(quotaConfigDoc{Username: cfg.Username, Frequency: cfg.Frequency, LimitUSD: cfg.LimitUSD})
}

func (h *handler) putQuota(c *fiber.Ctx) error {
	username := c.Params("username")

	var req quotaConfigDoc
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	freq, err := quota.ParseFrequency(req.Frequency)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	if req.LimitUSD.IsNegative() {
		return httputil.WriteError(c, fiber.StatusBadRequest, "limit_usd must not be negative")
	}

	cfg := store.QuotaConfig{Username: username, Frequency: string(freq), LimitUSD: req.LimitUSD}
	if err := h.store.UpsertQuotaConfig(c.UserContext(), cfg); err != nil {
		return httputil.MapError(c, err)
	}
	h.accountant.InvalidateConfig(username)

	return c.JSON(quotaConfigDoc{Username: username, Frequency: cfg.Frequency, LimitUSD: cfg.LimitUSD})
}

func (h *handler) deleteQuota(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := h.store.DeleteQuotaConfig(c.UserContext(), username); err != nil {
		return httputil.MapError(c, err)
	}
	h.accountant.InvalidateConfig(username)
	return c.SendStatus(fiber.StatusNoContent)
}

type modelAccessDoc struct {
	Username      string   `json:"username"`
	AllowedModels []string `json:"allowed_models"`
}

func (h *handler) getModelAccess(c *fiber.Ctx) error {
	username := c.Params("username")
	models, err := h.store.GetAllowedModels(c.UserContext(), username)
	if err != nil {
		return httputil.MapError(c, err)
	}
	return c.JSON(modelAccessDoc{Username: username, AllowedModels: models})
}

func (h *handler) putModelAccess(c *fiber.Ctx) error {
	username := c.Params("username")

	var req modelAccessDoc
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	models := make([]string, 0, len(req.AllowedModels))
	for _, m := range req.AllowedModels {
		m = strings.TrimSpace(m)
		if m == "" {
			return httputil.WriteError(c, fiber.StatusBadRequest, "allowed_models must not contain empty names")
		}
		models = append(models, m)
	}

	if err := h.store.UpsertModelAccess(c.UserContext(), username, models); err != nil {
		return httputil.MapError(c, err)
	}
	h.access.Invalidate(username)

	return c.JSON(modelAccessDoc{Username: username, AllowedModels: models})
}

func (h *handler) deleteModelAccess(c *fiber.Ctx) error {
	username := c.Params("username")
	if err := h.store.DeleteModelAccess(c.UserContext(), username); err != nil {
		return httputil.MapError(c, err)
	}
	h.access.Invalidate(username)
	return c.SendStatus(fiber.StatusNoContent)
}
