// Package upstream forwards admitted requests to the model backend.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ncecere/llm_gateway/internal/models"
)

// Invoker is the model backend the admission pipeline hands requests to.
type Invoker interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
	Embeddings(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error)
}

// Client talks to an OpenAI-compatible backend over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	var resp models.ChatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return models.ChatResponse{}, err
	}
	return resp, nil
}

func (c *Client) Embeddings(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	var resp models.EmbeddingsResponse
	if err := c.post(ctx, "/v1/embeddings", req, &resp); err != nil {
		return models.EmbeddingsResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call upstream: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("upstream %s returned %d: %s", path, httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}
