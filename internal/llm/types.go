package llm

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ResponseFormat selects what the provider is asked to emit.
type ResponseFormat string

const (
	FormatJSON ResponseFormat = "json"
	FormatText ResponseFormat = "text"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the immutable input of one provider call. Messages,
// SystemPrompt and ResponseFormat also feed the cache fingerprint.
type CompletionRequest struct {
	Messages       []Message      `json:"messages"`
	SystemPrompt   string         `json:"systemPrompt"`
	Temperature    float32        `json:"temperature,omitempty"`
	ResponseFormat ResponseFormat `json:"responseFormat"`
	MaxTokens      int            `json:"maxTokens,omitempty"`
}

func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}

	for i, m := range r.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("invalid role %q in messages[%d]", m.Role, i)
		}
		if m.Content == "" {
			return fmt.Errorf("content is required for messages[%d]", i)
		}
	}

	switch r.ResponseFormat {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("unknown response format %q", r.ResponseFormat)
	}

	if r.Temperature < 0 || r.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

// StreamResult is one item read from a provider stream: a text delta or a
// terminal error.
type StreamResult struct {
	Delta        string
	FinishReason string
	Err          error
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client interface {
	// Complete performs one single-shot call and returns the first choice's content.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
	// CompleteStream performs one streaming call, invoking onDelta for every
	// non-empty delta, and returns the accumulated text.
	CompleteStream(ctx context.Context, req *CompletionRequest, onDelta func(string)) (string, error)
}
