package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/joebot/toolbot/internal/mcp"
)

// Provider runs one model turn over the whole conversation and normalizes
// the vendor reply into an Outcome.
type Provider interface {
	Name() string
	SendTurn(ctx context.Context, conv []Message, tools []mcp.Tool) (Outcome, error)
}

// Config selects and parameterizes a Provider.
type Config struct {
	// Provider is "groq", "openai", "google" or "gemini".
	Provider string
	APIKey   string
	APIBase  string
	Model    string
	// Temperature is sent as given; 0 is a valid, deterministic setting.
	// config.DefaultConfig supplies the 0.7 default.
	Temperature float64
	// MaxTokens defaults to 2000 when 0.
	MaxTokens    int
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
}

const defaultMaxTokens = 2000

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case "google", "gemini":
		return "gemini-2.0-flash-exp"
	case "openai":
		return "gpt-4o-mini"
	default:
		return "llama-3.1-8b-instant"
	}
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "groq":
		if cfg.APIBase == "" {
			cfg.APIBase = GroqBaseURL
		}
		return NewOpenAIProvider("groq", cfg), nil
	case "openai":
		return NewOpenAIProvider("openai", cfg), nil
	case "google", "gemini":
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
