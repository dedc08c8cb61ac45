// Package config loads honeypot configuration from the environment.
//
// Settings come from environment variables, optionally seeded from a .env
// file in the working directory. Configuration is loaded once at startup and
// never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderType selects which backend provider variant to construct.
type ProviderType string

const (
	ProviderLlama  ProviderType = "llama"
	ProviderOpenAI ProviderType = "openai"
	ProviderMCP    ProviderType = "mcp"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultLlamaEndpoint = "http://localhost:11434"
	DefaultLlamaModel    = "llama3.2"
	DefaultOpenAIModel   = "gpt-3.5-turbo"
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 2222
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultMCPTimeout    = 30 * time.Second
)

// LlamaConfig holds settings for the local-model endpoint provider.
type LlamaConfig struct {
	Endpoint string
	Model    string
}

// OpenAIConfig holds settings for the hosted-API provider.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// MCPConfig holds settings for the subprocess-protocol provider.
type MCPConfig struct {
	ServerPath string
	ServerArgs []string
	Timeout    time.Duration
}

// Config is the full honeypot configuration.
type Config struct {
	Provider ProviderType
	Llama    *LlamaConfig
	OpenAI   *OpenAIConfig
	MCP      *MCPConfig

	Host        string
	Port        int
	HostKeyPath string
	IdleTimeout time.Duration
}

// Error reports a missing or invalid configuration setting. Configuration
// errors are fatal at startup; the server never starts with a partial config.
type Error struct {
	Setting string
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Setting, e.Reason)
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Provider:    ProviderType(getenv("AI_PROVIDER", string(ProviderLlama))),
		Host:        getenv("HONEYPOT_HOST", DefaultHost),
		Port:        DefaultPort,
		HostKeyPath: getenv("HONEYPOT_HOST_KEY", "honeypot_host_key.pem"),
		IdleTimeout: DefaultIdleTimeout,
	}

	if v := os.Getenv("HONEYPOT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return nil, &Error{Setting: "HONEYPOT_PORT", Reason: "not a valid port: " + v}
		}
		cfg.Port = port
	}

	if v := os.Getenv("HONEYPOT_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, &Error{Setting: "HONEYPOT_IDLE_TIMEOUT", Reason: "not a valid duration: " + v}
		}
		cfg.IdleTimeout = d
	}

	switch cfg.Provider {
	case ProviderLlama, ProviderOpenAI, ProviderMCP:
	default:
		return nil, &Error{Setting: "AI_PROVIDER", Reason: "unknown provider: " + string(cfg.Provider)}
	}

	// A section is loaded when it is the selected provider or when its
	// variables are present, so switching AI_PROVIDER needs no other change.
	if cfg.Provider == ProviderLlama || os.Getenv("LLAMA_ENDPOINT") != "" {
		cfg.Llama = &LlamaConfig{
			Endpoint: getenv("LLAMA_ENDPOINT", DefaultLlamaEndpoint),
			Model:    getenv("LLAMA_MODEL", DefaultLlamaModel),
		}
	}

	if cfg.Provider == ProviderOpenAI || os.Getenv("OPENAI_API_KEY") != "" {
		cfg.OpenAI = &OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getenv("OPENAI_MODEL", DefaultOpenAIModel),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		}
	}

	if cfg.Provider == ProviderMCP || os.Getenv("MCP_SERVER_PATH") != "" {
		mcp := &MCPConfig{
			ServerPath: os.Getenv("MCP_SERVER_PATH"),
			Timeout:    DefaultMCPTimeout,
		}
		if v := os.Getenv("MCP_SERVER_ARGS"); v != "" {
			mcp.ServerArgs = strings.Fields(v)
		}
		if v := os.Getenv("MCP_TIMEOUT"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				return nil, &Error{Setting: "MCP_TIMEOUT", Reason: "not a positive integer: " + v}
			}
			mcp.Timeout = time.Duration(secs) * time.Second
		}
		cfg.MCP = mcp
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected provider's section is present and usable.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLlama:
		if c.Llama == nil || c.Llama.Endpoint == "" {
			return &Error{Setting: "LLAMA_ENDPOINT", Reason: "required for the llama provider"}
		}
	case ProviderOpenAI:
		if c.OpenAI == nil || c.OpenAI.APIKey == "" {
			return &Error{Setting: "OPENAI_API_KEY", Reason: "required for the openai provider"}
		}
	case ProviderMCP:
		if c.MCP == nil || c.MCP.ServerPath == "" {
			return &Error{Setting: "MCP_SERVER_PATH", Reason: "required for the mcp provider"}
		}
	default:
		return &Error{Setting: "AI_PROVIDER", Reason: "unknown provider: " + string(c.Provider)}
	}
	return nil
}

// Addr returns the host:port the server should bind.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
