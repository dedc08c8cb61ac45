// Package provider abstracts the text-generation backends the honeypot can
// forward commands to. All variants implement the same single capability:
// turn a prompt into response text.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/SomethingGeneric/aihoneypot/internal/config"
)

// Provider generates response text for a prompt via some external service.
//
// Generate performs no retries; a failed call is reported once and the caller
// decides what to do with it. Close releases whatever the variant owns (a
// child process for the stdio variant, nothing for the HTTP ones).
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// BackendError reports a failure talking to a backend: transport trouble, a
// non-success status, a malformed reply, or a dead child process.
type BackendError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s backend: %s", e.Provider, e.Reason)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsBackendError reports whether err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// FromConfig constructs the provider selected by the configuration. The
// stdio variant spawns its child process here; everything else is pure
// construction.
func FromConfig(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderLlama:
		if cfg.Llama == nil {
			return nil, &config.Error{Setting: "LLAMA_ENDPOINT", Reason: "llama provider selected but not configured"}
		}
		return NewOllama(cfg.Llama), nil
	case config.ProviderOpenAI:
		if cfg.OpenAI == nil || cfg.OpenAI.APIKey == "" {
			return nil, &config.Error{Setting: "OPENAI_API_KEY", Reason: "openai provider selected but not configured"}
		}
		return NewOpenAI(cfg.OpenAI), nil
	case config.ProviderMCP:
		if cfg.MCP == nil || cfg.MCP.ServerPath == "" {
			return nil, &config.Error{Setting: "MCP_SERVER_PATH", Reason: "mcp provider selected but not configured"}
		}
		return NewStdio(cfg.MCP)
	default:
		return nil, &config.Error{Setting: "AI_PROVIDER", Reason: "unknown provider: " + string(cfg.Provider)}
	}
}
