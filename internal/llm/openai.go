package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements Client via the OpenAI Chat Completions API,
// and works unmodified against any OpenAI-compatible endpoint by setting
// BaseURL — the same override the teacher's OpenAIProvider supports for
// Janus/NeboLoop-style gateways.
type OpenAIClient struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIClient builds an OpenAI-backed Client.
func NewOpenAIClient(apiKey, baseURL, defaultModel string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

// ChatCompletion implements Client.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, messages []Message, model string, temperature float64, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targetModel := model
	if targetModel == "" {
		targetModel = c.defaultModel
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(targetModel),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: "openai", Cause: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: "openai", Cause: fmt.Errorf("empty choices in response")}
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", &Error{Provider: "openai", Cause: fmt.Errorf("response contains no text content")}
	}
	return content, nil
}
