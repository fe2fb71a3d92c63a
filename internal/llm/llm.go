// Package llm provides the single capability every LLM-driven component
// (the Profile Annotator and the Plan Compiler) depends on: one blocking
// chat-completion call with no tool-calling. The teacher's internal/agent/ai
// package builds full streaming, tool-calling providers for an interactive
// chat agent; this package keeps its transport construction (client
// options, base URL handling) but drops streaming and tool plumbing
// entirely, since neither caller here is a chat agent.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client is the capability both C3 and C5 depend on.
type Client interface {
	// ChatCompletion sends messages and returns the model's reply text.
	// model, if empty, falls back to the client's configured default.
	ChatCompletion(ctx context.Context, messages []Message, model string, temperature float64, timeout time.Duration) (string, error)
}

// Error wraps a provider failure, mirroring original_source/compiler_mvp's
// LLMClientError.
type Error struct {
	Provider string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s chat completion failed: %v", e.Provider, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Options configures a Client. Resolution order for each field, per
// spec.md §6: explicit Options field, then the matching environment
// variable pair, then the literal default.
type Options struct {
	Provider    string // "openai" | "anthropic" | "ollama"
	APIKey      string
	BaseURL     string
	Model       string
	TimeoutS    float64
	Temperature float64
}

const defaultTimeout = 60 * time.Second
