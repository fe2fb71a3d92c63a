package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient implements Client via the Anthropic Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicClient builds an Anthropic-backed Client.
func NewAnthropicClient(apiKey, defaultModel string) *AnthropicClient {
	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

// ChatCompletion implements Client. Anthropic's Messages API separates the
// system prompt from the conversational turns, so a leading "system"
// message is hoisted into params.System rather than sent as a turn.
func (c *AnthropicClient) ChatCompletion(ctx context.Context, messages []Message, model string, temperature float64, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targetModel := model
	if targetModel == "" {
		targetModel = c.defaultModel
	}

	var system string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(targetModel),
		MaxTokens:   anthropicDefaultMaxTokens,
		Messages:    turns,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: "anthropic", Cause: err}
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &Error{Provider: "anthropic", Cause: fmt.Errorf("response contains no text content")}
}
