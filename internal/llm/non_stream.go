package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/metrics"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize = 512 * 1024      // 512KB per message content
	maxErrorBody   = 64 * 1024
)

// buildBody validates req and produces the provider payload. Single-shot and
// streaming calls share it and differ only in the stream flag.
func (c *client) buildBody(req *CompletionRequest, stream bool) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}

	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"llmclient: message[%d] content too large (%d bytes, max %d)",
				i, len(m.Content), maxMessageSize,
			)
		}
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	pReq := providerChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.ResponseFormat == FormatJSON {
		pReq.ResponseFormat = &providerResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	if len(body) > maxRequestSize {
		return nil, fmt.Errorf(
			"llmclient: request too large (%d bytes, max %d)",
			len(body), maxRequestSize,
		)
	}
	return body, nil
}

// send performs exactly one HTTP attempt. Non-2xx answers are returned as
// *ProviderError with the body already consumed.
func (c *client) send(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, contextError(ctx, err)
		}
	}

	url := c.cfg.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, contextError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.providerError(resp)
	}
	return resp, nil
}

func (c *client) providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	perr := &ProviderError{Status: resp.StatusCode, Body: string(raw)}

	var structured providerErrorResponse
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Error.Message != "" {
		perr.Message = structured.Error.Message
		perr.Type = structured.Error.Type
		c.logger.Error("llm provider error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", perr.Type),
			zap.String("error_message", perr.Message),
		)
		return perr
	}

	c.logger.Error("llm upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(perr.Body, 200)),
	)
	return perr
}

func (c *client) Complete(parentCtx context.Context, req *CompletionRequest) (string, error) {
	start := time.Now()

	body, err := c.buildBody(req, false)
	if err != nil {
		return "", err
	}

	c.logger.Debug("llm request starting",
		zap.String("model", c.cfg.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	content, err := c.complete(ctx, body)
	observe("complete", start, err)
	if err != nil {
		c.logger.Warn("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return "", err
	}

	c.logger.Info("llm request completed",
		zap.String("model", c.cfg.Model),
		zap.Int("content_bytes", len(content)),
		zap.Duration("duration", time.Since(start)),
	)
	return content, nil
}

func (c *client) complete(ctx context.Context, body []byte) (string, error) {
	resp, err := c.send(ctx, body, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var pResp providerChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, err)
		}
		return "", fmt.Errorf("llmclient: decode upstream response: %w", err)
	}

	if len(pResp.Choices) == 0 {
		return "", fmt.Errorf("%w: provider returned no choices", ErrEmptyResponse)
	}
	content := pResp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	if pResp.Usage != nil {
		c.logger.Debug("llm usage",
			zap.Int("prompt_tokens", pResp.Usage.PromptTokens),
			zap.Int("completion_tokens", pResp.Usage.CompletionTokens),
		)
	}
	return content, nil
}

func observe(mode string, start time.Time, err error) {
	metrics.ProviderLatencySeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	metrics.ProviderRequestsTotal.WithLabelValues(mode, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsRateLimited(err):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	default:
		return "error"
	}
}
