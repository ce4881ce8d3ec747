package models

import "strings"

type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// InputText concatenates the inputs for token estimation.
func (r EmbeddingsRequest) InputText() string {
	return strings.Join(r.Input, "\n")
}

type Embedding struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"embedding"`
}

type EmbeddingsResponse struct {
	Object string      `json:"object"`
	Model  string      `json:"model"`
	Data   []Embedding `json:"data"`
	Usage  Usage       `json:"usage"`
}

// ModelList is the /v1/models response body.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}
