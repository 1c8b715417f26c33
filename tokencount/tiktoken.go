package tokencount

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter counts tokens using the real tiktoken tokenizer:
// resolve an encoding for the model, falling back to o200k_base when the
// model is unknown, and apply the chat message-overhead formula of
// 3 tokens/message + 1 token if a "name" field is present, + 3 tokens for
// the trailing response primer.
type TiktokenCounter struct {
	enc          *tiktoken.Tiktoken
	encodingName string
}

const fallbackEncoding = "o200k_base"

// NewTiktokenCounter uses encodingName directly when non-empty (an
// unrecognized name is an error); otherwise it resolves the encoding for
// model, falling back to o200k_base when the model is not recognized.
func NewTiktokenCounter(model, encodingName string) (*TiktokenCounter, error) {
	if encodingName != "" {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			return nil, fmt.Errorf("tokencount: get encoding %q: %w", encodingName, err)
		}
		return &TiktokenCounter{enc: enc, encodingName: encodingName}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("tokencount: fallback encoding %q: %w", fallbackEncoding, err)
		}
		return &TiktokenCounter{enc: enc, encodingName: fallbackEncoding}, nil
	}
	return &TiktokenCounter{enc: enc, encodingName: modelEncodingName(model)}, nil
}

func modelEncodingName(model string) string {
	// tiktoken-go does not expose the resolved encoding's name directly
	// off EncodingForModel; approximate provenance reporting the model
	// alias, which is what callers care about for compiled-context
	// metadata.
	return model
}

func (c *TiktokenCounter) EncodingName() string { return c.encodingName }

func (c *TiktokenCounter) Identity() string { return "tiktoken:" + c.encodingName }

func (c *TiktokenCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountMessages(messages []Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += 3
		if m.Role != "" {
			total += len(c.enc.Encode(m.Role, nil, nil))
		}
		if m.Content != "" {
			total += len(c.enc.Encode(m.Content, nil, nil))
		}
		if m.Name != "" {
			total += len(c.enc.Encode(m.Name, nil, nil))
			total++
		}
	}
	total += 3
	return total
}
