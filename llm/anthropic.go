package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicClient adapts github.com/anthropics/anthropic-sdk-go to Client.
// Anthropic's Messages API treats a leading system message specially
// (top-level `system` field rather than a message in the list), so Chat
// splits it out before calling Messages.New.
type AnthropicClient struct {
	inner        anthropic.Client
	defaultModel string
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Kind: ErrConfig, Message: "anthropic: APIKey is required"}
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &AnthropicClient{
		inner:        anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	var system string
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// tool-role messages are folded into user turns; Anthropic
			// models tool results as content blocks, which is out of
			// scope for this adapter's plain-text bridging.
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(1024)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, classifyAnthropicError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return ChatResponse{
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: text},
			FinishReason: string(resp.StopReason),
		}},
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		Model: string(resp.Model),
	}, nil
}

func (c *AnthropicClient) Close() error { return nil }

func classifyAnthropicError(err error) *Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &Error{Kind: ErrAuth, Message: apiErr.Error(), Cause: err}
		case 429:
			return &Error{Kind: ErrRateLimit, Message: apiErr.Error(), Cause: err}
		default:
			return &Error{Kind: ErrClient, Message: fmt.Sprintf("status %d: %s", apiErr.StatusCode, apiErr.Error()), Cause: err}
		}
	}
	return &Error{Kind: ErrClient, Message: "anthropic: request failed", Cause: err}
}
