package public

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ncecere/llm_gateway/internal/app"
	"github.com/ncecere/llm_gateway/internal/audit"
	"github.com/ncecere/llm_gateway/internal/auth"
	"github.com/ncecere/llm_gateway/internal/httpserver/httputil"
	"github.com/ncecere/llm_gateway/internal/models"
	"github.com/ncecere/llm_gateway/internal/pricing"
	"github.com/ncecere/llm_gateway/internal/quota"
	"github.com/ncecere/llm_gateway/internal/requestctx"
)

type handler struct {
	container *app.Container
}

func (h *handler) chatCompletions(c *fiber.Ctx) error {
	principal, ok := requestctx.Principal(c.UserContext())
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" || len(req.Messages) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model and messages are required")
	}

	if err := h.admit(c, principal, req.Model); err != nil {
		return err
	}

	resp, err := h.container.Upstream.Chat(c.UserContext(), req)
	if err != nil {
		h.container.Logger.Error("upstream chat failed", "model", req.Model, "error", err)
		return httputil.WriteError(c, fiber.StatusBadGateway, "upstream request failed")
	}

	inTokens := int(resp.Usage.PromptTokens)
	outTokens := int(resp.Usage.CompletionTokens)
	if inTokens == 0 {
		inTokens = pricing.EstimateTokens(req.PromptText())
	}
	if outTokens == 0 {
		outTokens = pricing.EstimateTokens(resp.CompletionText())
	}

	cost, err := h.settle(c, principal, req.Model, inTokens, outTokens)
	if err != nil {
		return err
	}

	h.container.Audit.Record(audit.Entry{
		Username:      principal.Username,
		APIKeyName:    principal.APIKeyName,
		Model:         req.Model,
		Endpoint:      c.Path(),
		Outcome:       audit.OutcomeCompleted,
		InputTokens:   int64(inTokens),
		OutputTokens:  int64(outTokens),
		EstimatedCost: cost,
	})

	return c.JSON(resp)
}

func (h *handler) embeddings(c *fiber.Ctx) error {
	principal, ok := requestctx.Principal(c.UserContext())
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req models.EmbeddingsRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" || len(req.Input) == 0 {
		return httputil.WriteError(c, fiber.StatusBadRequest, "model and input are required")
	}

	if err := h.admit(c, principal, req.Model); err != nil {
		return err
	}

	resp, err := h.container.Upstream.Embeddings(c.UserContext(), req)
	if err != nil {
		h.container.Logger.Error("upstream embeddings failed", "model", req.Model, "error", err)
		return httputil.WriteError(c, fiber.StatusBadGateway, "upstream request failed")
	}

	inTokens := int(resp.Usage.PromptTokens)
	if inTokens == 0 {
		inTokens = pricing.EstimateTokens(req.InputText())
	}

	cost, err := h.settle(c, principal, req.Model, inTokens, 0)
	if err != nil {
		return err
	}

	h.container.Audit.Record(audit.Entry{
		Username:      principal.Username,
		APIKeyName:    principal.APIKeyName,
		Model:         req.Model,
		Endpoint:      c.Path(),
		Outcome:       audit.OutcomeCompleted,
		InputTokens:   int64(inTokens),
		EstimatedCost: cost,
	})

	return c.JSON(resp)
}

func (h *handler) listModels(c *fiber.Ctx) error {
	principal, ok := requestctx.Principal(c.UserContext())
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	allowed, err := h.container.ModelAccess.AllowedModels(c.UserContext(), principal.Username)
	if err != nil {
		return httputil.MapError(c, err)
	}

	list := models.ModelList{Object: "list", Data: make([]models.ModelInfo, 0, len(allowed))}
	for _, id := range allowed {
		list.Data = append(list.Data, models.ModelInfo{ID: id, Object: "model", OwnedBy: "organization"})
	}
	return c.JSON(list)
}

// admit runs the pre-flight gates: model entitlement, then quota.
func (h *handler) admit(c *fiber.Ctx, principal auth.Principal, model string) error {
	ctx := c.UserContext()
	if err := h.container.ModelAccess.Enforce(ctx, principal.Username, model, c.Path()); err != nil {
		return httputil.MapError(c, err)
	}
	if err := h.container.Accountant.Check(ctx, principal.Username, model, c.Path()); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			h.container.Observability.RecordQuotaRejection(c.Path())
		}
		return httputil.MapError(c, err)
	}
	return nil
}

// settle prices the finished exchange and accumulates it locally.
func (h *handler) settle(c *fiber.Ctx, principal auth.Principal, model string, inTokens, outTokens int) (decimal.Decimal, error) {
	cost, err := h.container.Pricing.Cost(model, h.container.Config.Pricing.Region, inTokens, outTokens)
	if err != nil {
		h.container.Logger.Error("cost lookup failed", "model", model, "error", err)
		return decimal.Decimal{}, httputil.MapError(c, err)
	}
	h.container.Deltas.Accumulate(principal.Username, cost)
	h.container.Observability.RecordTokens(model, int64(inTokens), int64(outTokens))
	return cost, nil
}
