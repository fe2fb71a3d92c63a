package llm

import (
	"fmt"
	"os"
	"strconv"

	"github.com/corepilot/corepilot/internal/config"
)

// firstEnv returns the first non-empty value among the named environment
// variables, checked in order.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// New builds a Client from configuration and the environment, following
// spec.md §6's resolution order for each field: config file value first,
// then environment variable, then the literal default. This mirrors
// original_source/compiler_mvp/llm_client.py's constructor precedence
// (explicit constructor arg > OPENAI_API_KEY/API_KEY env > hard failure).
func New(cfg config.Config) (Client, error) {
	provider := cfg.LLM.Provider
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "anthropic":
		apiKey := cfg.LLM.APIKey
		if apiKey == "" {
			apiKey = firstEnv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not configured, cannot call the LLM")
		}
		return NewAnthropicClient(apiKey, cfg.LLM.Model), nil

	case "ollama":
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = firstEnv("OLLAMA_BASE_URL")
		}
		return NewOllamaClient(baseURL, cfg.LLM.Model), nil

	default: // "openai" and OpenAI-compatible gateways
		apiKey := cfg.LLM.APIKey
		if apiKey == "" {
			apiKey = firstEnv("OPENAI_API_KEY", "API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY (or API_KEY) is not configured, cannot call the LLM")
		}

		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = firstEnv("OPENAI_BASE_URL", "BASE_URL")
		}
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}

		model := cfg.LLM.Model
		if model == "" {
			model = firstEnv("OPENAI_MODEL", "MODEL_STD")
		}
		if model == "" {
			return nil, fmt.Errorf("OPENAI_MODEL (or MODEL_STD) is not configured, cannot determine the default model")
		}

		return NewOpenAIClient(apiKey, baseURL, model), nil
	}
}

// ResolveTimeout applies spec.md §6's LLM_TIMEOUT env override on top of
// the configured value, defaulting to 60 seconds.
func ResolveTimeout(cfg config.Config) float64 {
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	if cfg.LLM.APITimeoutS > 0 {
		return cfg.LLM.APITimeoutS
	}
	return 60.0
}
