package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CompleteStream opens a streaming call and drains it, forwarding each
// non-empty delta to onDelta. The caller's ctx cancels the outbound request.
func (c *client) CompleteStream(parentCtx context.Context, req *CompletionRequest, onDelta func(string)) (string, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	results, err := c.openStream(ctx, req)
	if err != nil {
		observe("stream", start, err)
		return "", err
	}

	var sb strings.Builder
	for res := range results {
		if res.Err != nil {
			err = res.Err
			// keep draining so the reader goroutine can exit
			continue
		}
		if res.Delta == "" {
			continue
		}
		sb.WriteString(res.Delta)
		if onDelta != nil {
			onDelta(res.Delta)
		}
	}

	if err == nil && strings.TrimSpace(sb.String()) == "" {
		err = ErrEmptyResponse
	}
	observe("stream", start, err)
	if err != nil {
		c.logger.Warn("llm stream failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return "", err
	}

	c.logger.Info("llm stream completed",
		zap.String("model", c.cfg.Model),
		zap.Int("content_bytes", sb.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	return sb.String(), nil
}

// openStream connects synchronously so status errors surface to the caller
// (and to the retry policy), then reads frames in a goroutine. The returned
// channel is closed when the stream ends, fails, or ctx is done.
func (c *client) openStream(ctx context.Context, req *CompletionRequest) (<-chan StreamResult, error) {
	body, err := c.buildBody(req, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("llm stream request starting",
		zap.String("model", c.cfg.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	resp, err := c.send(ctx, body, true)
	if err != nil {
		return nil, err
	}

	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		chunkCount := 0
		skipped := 0

		emit := func(r StreamResult) bool {
			select {
			case <-ctx.Done():
				return false
			case results <- r:
				return true
			}
		}

		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				done, res, ok := parseStreamLine(line)
				switch {
				case done:
					c.logger.Debug("llm stream received [DONE]",
						zap.Int("chunks", chunkCount),
						zap.Int("skipped", skipped),
					)
					return
				case !ok:
					skipped++
				case res != nil:
					chunkCount++
					if !emit(*res) {
						c.logger.Info("llm stream cancelled while sending chunk",
							zap.Int("chunks", chunkCount),
							zap.Error(ctx.Err()),
						)
						results <- StreamResult{Err: contextError(ctx, ctx.Err())}
						return
					}
				}
			}

			if err != nil {
				if errors.Is(err, io.EOF) {
					// Normal end of stream without explicit [DONE]
					c.logger.Debug("llm stream completed (EOF)",
						zap.Int("chunks", chunkCount),
					)
					return
				}
				if ctx.Err() != nil {
					results <- StreamResult{Err: contextError(ctx, err)}
					return
				}
				results <- StreamResult{Err: fmt.Errorf("llmclient: read stream line: %w", err)}
				return
			}
		}
	}()

	return results, nil
}

// parseStreamLine decodes one SSE line. done reports the [DONE] sentinel;
// ok=false marks a malformed data frame, which callers skip.
func parseStreamLine(line []byte) (done bool, res *StreamResult, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false, nil, true
	}

	const prefix = "data:"
	if !bytes.HasPrefix(line, []byte(prefix)) {
		// Ignore non-data SSE lines (comments, event names, ids)
		return false, nil, true
	}

	payload := bytes.TrimSpace(line[len(prefix):])
	if bytes.Equal(payload, []byte("[DONE]")) {
		return true, nil, true
	}

	var chunk providerStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return false, nil, false
	}

	var delta strings.Builder
	finish := ""
	for _, choice := range chunk.Choices {
		delta.WriteString(choice.Delta.Content)
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
	}
	if delta.Len() == 0 && finish == "" {
		return false, nil, true
	}
	return false, &StreamResult{Delta: delta.String(), FinishReason: finish}, true
}
