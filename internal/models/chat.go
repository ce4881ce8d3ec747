// Package models holds the OpenAI-compatible wire types the gateway
// accepts and returns.
package models

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	MaxTokens   *int32        `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

// PromptText concatenates the message contents for token estimation.
func (r ChatRequest) PromptText() string {
	var out string
	for i, msg := range r.Messages {
		if i > 0 {
			out += "\n"
		}
		out += msg.Content
	}
	return out
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// CompletionText concatenates the choice contents for token estimation.
func (r ChatResponse) CompletionText() string {
	var out string
	for i, choice := range r.Choices {
		if i > 0 {
			out += "\n"
		}
		out += choice.Message.Content
	}
	return out
}
