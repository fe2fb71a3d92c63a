package llm

import (
	"os"
	"testing"

	"github.com/corepilot/corepilot/internal/config"
)

func clearLLMEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"ANTHROPIC_API_KEY", "OLLAMA_BASE_URL",
		"OPENAI_API_KEY", "API_KEY", "OPENAI_BASE_URL", "BASE_URL",
		"OPENAI_MODEL", "MODEL_STD", "LLM_TIMEOUT",
	}
	saved := map[string]string{}
	for _, v := range vars {
		saved[v] = os.Getenv(v)
		os.Unsetenv(v)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			if v != "" {
				os.Setenv(k, v)
			}
		}
	})
}

func TestNewOpenAIPrefersConfigOverEnv(t *testing.T) {
	clearLLMEnv(t)
	os.Setenv("OPENAI_API_KEY", "env-key")

	cfg := config.Config{}
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "config-key"
	cfg.LLM.Model = "gpt-4o"

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	openaiClient, ok := client.(*OpenAIClient)
	if !ok {
		t.Fatalf("expected *OpenAIClient, got %T", client)
	}
	_ = openaiClient
}

func TestNewOpenAIFallsBackToEnvAPIKey(t *testing.T) {
	clearLLMEnv(t)
	os.Setenv("OPENAI_API_KEY", "env-key")
	os.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	cfg := config.Config{}
	if _, err := New(cfg); err != nil {
		t.Fatalf("expected env fallback to succeed, got %v", err)
	}
}

func TestNewOpenAIErrorsWithoutAnyAPIKey(t *testing.T) {
	clearLLMEnv(t)
	cfg := config.Config{}
	cfg.LLM.Model = "gpt-4o-mini"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error when no OpenAI API key is configured anywhere")
	}
}

func TestNewOpenAIErrorsWithoutModel(t *testing.T) {
	clearLLMEnv(t)
	cfg := config.Config{}
	cfg.LLM.APIKey = "key"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error when no model is configured anywhere")
	}
}

func TestNewAnthropicRequiresAPIKey(t *testing.T) {
	clearLLMEnv(t)
	cfg := config.Config{}
	cfg.LLM.Provider = "anthropic"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error when ANTHROPIC_API_KEY is not configured")
	}

	cfg.LLM.APIKey = "anthropic-key"
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, ok := client.(*AnthropicClient); !ok {
		t.Errorf("expected *AnthropicClient, got %T", client)
	}
}

func TestNewOllamaHasNoRequiredCredential(t *testing.T) {
	clearLLMEnv(t)
	cfg := config.Config{}
	cfg.LLM.Provider = "ollama"
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, ok := client.(*OllamaClient); !ok {
		t.Errorf("expected *OllamaClient, got %T", client)
	}
}

func TestResolveTimeoutPrefersEnvOverConfig(t *testing.T) {
	clearLLMEnv(t)
	os.Setenv("LLM_TIMEOUT", "15.5")
	cfg := config.Config{}
	cfg.LLM.APITimeoutS = 90
	if got := ResolveTimeout(cfg); got != 15.5 {
		t.Errorf("ResolveTimeout = %v, want 15.5", got)
	}
}

func TestResolveTimeoutFallsBackToConfigThenDefault(t *testing.T) {
	clearLLMEnv(t)
	cfg := config.Config{}
	cfg.LLM.APITimeoutS = 45
	if got := ResolveTimeout(cfg); got != 45 {
		t.Errorf("ResolveTimeout = %v, want 45", got)
	}

	cfg.LLM.APITimeoutS = 0
	if got := ResolveTimeout(cfg); got != 60.0 {
		t.Errorf("ResolveTimeout = %v, want default 60", got)
	}
}
