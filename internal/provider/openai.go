package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAI talks to a hosted chat-completion API.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAI creates a provider for a hosted chat-completion endpoint. An
// alternative BaseURL points it at any API-compatible service.
func NewOpenAI(cfg *config.OpenAIConfig) *OpenAI {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBase
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: base,
		client:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends the prompt as a single user message and returns the first
// choice's text.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   1000,
		Temperature: 0.7,
	})
	if err != nil {
		return "", &BackendError{Provider: "openai", Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &BackendError{Provider: "openai", Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &BackendError{Provider: "openai", Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &BackendError{
			Provider: "openai",
			Reason:   fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &BackendError{Provider: "openai", Reason: "decode response", Err: err}
	}
	if out.Error != nil {
		return "", &BackendError{Provider: "openai", Reason: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", &BackendError{Provider: "openai", Reason: "no choices in response"}
	}
	return out.Choices[0].Message.Content, nil
}

// Close is a no-op for the hosted-API variant.
func (o *OpenAI) Close() error { return nil }
