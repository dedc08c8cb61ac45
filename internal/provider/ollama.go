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

// Ollama talks to a local model server's /api/generate endpoint.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama creates a provider for a local model endpoint.
func NewOllama(cfg *config.LlamaConfig) *Ollama {
	return &Ollama{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Response *string `json:"response"`
}

// Generate issues one non-streaming generate request and returns the
// response text.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Stream: false,
		Prompt: prompt,
	})
	if err != nil {
		return "", &BackendError{Provider: "llama", Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &BackendError{Provider: "llama", Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &BackendError{Provider: "llama", Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &BackendError{
			Provider: "llama",
			Reason:   fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)),
		}
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &BackendError{Provider: "llama", Reason: "decode response", Err: err}
	}
	if out.Response == nil {
		return "", &BackendError{Provider: "llama", Reason: "response field missing"}
	}
	return *out.Response, nil
}

// Close is a no-op; the HTTP client owns no resources worth releasing.
func (o *Ollama) Close() error { return nil }
