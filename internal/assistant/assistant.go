// Package assistant runs one assistant request: it builds the completion
// request, consults the response cache, calls the provider, and validates
// the model output.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/cache"
	"fitcoach-gateway/internal/command"
	"fitcoach-gateway/internal/llm"
	"fitcoach-gateway/internal/metrics"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/pkg/logging/logging"
)

const (
	MaxMessageRunes = 4000
	MaxHistory      = 4
)

// Input is the inbound request body.
type Input struct {
	Message             string             `json:"message"`
	ConversationHistory []llm.Message      `json:"conversationHistory,omitempty"`
	ContextHints        map[string]any     `json:"contextHints,omitempty"`
	ResponseFormat      llm.ResponseFormat `json:"responseFormat,omitempty"`
}

// Reply is the single-shot response body and the stream's complete payload.
type Reply struct {
	Result         command.ParsedCommand `json:"result"`
	RemainingQuota int                   `json:"remainingQuota"`
	Message        string                `json:"message"`
}

// Completion is raw model output and whether it came from the cache.
type Completion struct {
	Text   string
	Cached bool
}

type Config struct {
	Temperature float32
	MaxTokens   int
	Retry       llm.RetryPolicy
	CacheTTL    time.Duration
}

type Service struct {
	client llm.Client
	cache  *cache.ResponseCache
	gate   *quota.Gate
	cfg    Config
	logger *zap.Logger
}

// New wires the pipeline. A nil cache disables caching.
func New(client llm.Client, rc *cache.ResponseCache, gate *quota.Gate, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client: client,
		cache:  rc,
		gate:   gate,
		cfg:    cfg,
		logger: logger.Named("assistant"),
	}
}

// Prepare validates in and builds the completion request for kind.
func (s *Service) Prepare(kind command.Kind, in Input) (llm.CompletionRequest, error) {
	prompt, ok := systemPrompts[kind]
	if !ok {
		return llm.CompletionRequest{}, &InvalidInputError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}

	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return llm.CompletionRequest{}, &InvalidInputError{Field: "message", Reason: "is required"}
	}
	if n := utf8.RuneCountInString(msg); n > MaxMessageRunes {
		return llm.CompletionRequest{}, &InvalidInputError{
			Field:  "message",
			Reason: fmt.Sprintf("is too long (%d characters, max %d)", n, MaxMessageRunes),
		}
	}

	format := in.ResponseFormat
	if format == "" {
		format = llm.FormatJSON
	}
	if format != llm.FormatJSON && format != llm.FormatText {
		return llm.CompletionRequest{}, &InvalidInputError{Field: "responseFormat", Reason: "must be json or text"}
	}

	history := in.ConversationHistory
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	for i, m := range history {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return llm.CompletionRequest{}, &InvalidInputError{
				Field:  fmt.Sprintf("conversationHistory[%d].role", i),
				Reason: "must be user or assistant",
			}
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: msg})

	if len(in.ContextHints) > 0 {
		// map keys are marshalled sorted, so equal hints give equal prompts
		hints, err := json.Marshal(in.ContextHints)
		if err != nil {
			return llm.CompletionRequest{}, &InvalidInputError{Field: "contextHints", Reason: err.Error()}
		}
		prompt += "\n\nContext: " + string(hints)
	}

	return llm.CompletionRequest{
		Messages:       messages,
		SystemPrompt:   prompt,
		Temperature:    s.cfg.Temperature,
		ResponseFormat: format,
		MaxTokens:      s.cfg.MaxTokens,
	}, nil
}

// Complete returns the cached output for req or calls the provider under the
// retry policy. A non-nil onDelta selects the streaming call; on a cache hit
// it is never invoked.
func (s *Service) Complete(ctx context.Context, req llm.CompletionRequest, onDelta func(string)) (Completion, error) {
	if payload, ok := s.cache.Lookup(ctx, req); ok {
		return Completion{Text: string(payload), Cached: true}, nil
	}

	var (
		text string
		err  error
	)
	if onDelta != nil {
		text, err = llm.CompleteStreamWithRetry(ctx, s.client, &req, s.cfg.Retry, onDelta)
	} else {
		text, err = llm.CompleteWithRetry(ctx, s.client, &req, s.cfg.Retry)
	}
	if err != nil {
		return Completion{}, err
	}
	return Completion{Text: text}, nil
}

// Finish validates the output and, for fresh output, remembers it. Nothing
// is cached for output that fails validation or for a cancelled request.
func (s *Service) Finish(ctx context.Context, kind command.Kind, req llm.CompletionRequest, c Completion) (command.ParsedCommand, error) {
	cmd, err := command.Parse(kind, c.Text)
	if err != nil {
		var verr *command.ValidationError
		if errors.As(err, &verr) {
			metrics.ValidationFailuresTotal.WithLabelValues(string(kind)).Inc()
			logging.FromContext(ctx).Warn("model output rejected",
				zap.String("kind", string(kind)),
				zap.String("path", verr.Path),
				zap.String("reason", verr.Reason),
				zap.Bool("cached", c.Cached),
			)
		}
		return nil, err
	}

	if !c.Cached && ctx.Err() == nil {
		s.cache.Store(ctx, req, []byte(c.Text), s.cfg.CacheTTL)
	}
	return cmd, nil
}

// Handle runs the single-shot path: validate, authorize, complete, parse,
// count.
func (s *Service) Handle(ctx context.Context, subject auth.Subject, kind command.Kind, in Input) (*Reply, error) {
	req, err := s.Prepare(kind, in)
	if err != nil {
		return nil, err
	}

	res, err := s.gate.AuthorizeAndRun(ctx, subject, func(ctx context.Context) (any, error) {
		c, err := s.Complete(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		return s.Finish(ctx, kind, req, c)
	})
	if err != nil {
		return nil, err
	}

	cmd := res.Value.(command.ParsedCommand)
	return &Reply{
		Result:         cmd,
		RemainingQuota: res.Remaining,
		Message:        cmd.Summary(),
	}, nil
}

// Gate exposes the quota gate for the streaming path and usage reporting.
func (s *Service) Gate() *quota.Gate { return s.gate }
