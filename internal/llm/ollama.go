package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient implements Client against a local or remote Ollama server.
type OllamaClient struct {
	client       *api.Client
	defaultModel string
}

// NewOllamaClient builds an Ollama-backed Client.
func NewOllamaClient(baseURL, defaultModel string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if defaultModel == "" {
		defaultModel = "qwen3:4b"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaClient{
		client:       api.NewClient(parsed, &http.Client{Timeout: 5 * time.Minute}),
		defaultModel: defaultModel,
	}
}

// ChatCompletion implements Client. Unlike the teacher's OllamaProvider,
// this disables streaming (Stream: false) since the only thing the caller
// wants is the final text.
func (c *OllamaClient) ChatCompletion(ctx context.Context, messages []Message, model string, temperature float64, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targetModel := model
	if targetModel == "" {
		targetModel = c.defaultModel
	}

	var msgs []api.Message
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    targetModel,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": temperature},
	}

	var reply string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", &Error{Provider: "ollama", Cause: err}
	}
	if reply == "" {
		return "", &Error{Provider: "ollama", Cause: fmt.Errorf("response contains no text content")}
	}
	return reply, nil
}
