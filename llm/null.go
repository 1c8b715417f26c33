package llm

import "context"

// NullClient echoes a canned response without any network activity; used
// by tests and as a safe default when no provider is configured.
type NullClient struct {
	// Response is returned verbatim as the sole choice's message content
	// for every call; defaults to an empty string if unset.
	Response string
}

func (c *NullClient) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	text := c.Response
	return ChatResponse{
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
		Usage: Usage{},
		Model: "null",
	}, nil
}

func (c *NullClient) Close() error { return nil }
