// Package public serves the OpenAI-compatible inference surface.
package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/llm_gateway/internal/app"
	"github.com/ncecere/llm_gateway/internal/httpserver/middleware"
)

// Register mounts the inference routes behind credential resolution.
func Register(router fiber.Router, container *app.Container) {
	h := &handler{container: container}

	group := router.Group("/v1", middleware.RequireAuth(container))
	group.Post("/chat/completions", h.chatCompletions)
	group.Post("/embeddings", h.embeddings)
	group.Get("/models", h.listModels)
}
