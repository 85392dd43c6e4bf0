package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/apierror"
	"fitcoach-gateway/internal/assistant"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/command"
	"fitcoach-gateway/internal/relay"
	"fitcoach-gateway/pkg/logging/logging"
)

// AssistantHandler serves the workout and nutrition assistant endpoints.
type AssistantHandler struct {
	Service *assistant.Service
	Relay   *relay.Relay
}

func NewAssistantHandler(svc *assistant.Service, rl *relay.Relay) *AssistantHandler {
	return &AssistantHandler{Service: svc, Relay: rl}
}

// Complete handles POST /v1/assistant/{kind}.
func (h *AssistantHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	subject, kind, in, err := readRequest(r)
	if err != nil {
		h.fail(w, logger, err, start)
		return
	}

	reply, err := h.Service.Handle(ctx, subject, kind, in)
	if err != nil {
		h.fail(w, logger, err, start)
		return
	}

	logger.Info("assistant_request",
		zap.String("kind", string(kind)),
		zap.Int("remaining_quota", reply.RemainingQuota),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	apierror.WriteJSON(w, http.StatusOK, reply)
}

// Stream handles POST /v1/assistant/{kind}/stream. Once the stream has
// started every outcome, including a malformed body, is reported as an
// event.
func (h *AssistantHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	subject, kind, in, reqErr := readRequest(r)
	if errors.Is(reqErr, auth.ErrUnauthenticated) {
		h.fail(w, logger, reqErr, start)
		return
	}

	sse, err := relay.NewSSEWriter(w)
	if err != nil {
		h.fail(w, logger, err, start)
		return
	}

	if reqErr != nil {
		_, body := apierror.Describe(reqErr)
		_ = sse.Send(relay.EventError, body)
		logger.Info("assistant_stream_rejected", zap.Error(reqErr))
		return
	}

	state, err := h.Relay.Run(ctx, sse, subject, kind, in)
	logger.Info("assistant_stream",
		zap.String("kind", string(kind)),
		zap.Stringer("state", state),
		zap.Bool("ok", err == nil),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
}

func (h *AssistantHandler) fail(w http.ResponseWriter, logger *zap.Logger, err error, start time.Time) {
	status, body := apierror.Describe(err)
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("error_code", body.Error),
		zap.Error(err),
		zap.Duration("total_latency_ms", time.Since(start)),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("assistant_request_failed", fields...)
	} else {
		logger.Info("assistant_request_rejected", fields...)
	}
	apierror.WriteJSON(w, status, body)
}

// readRequest collects the authenticated subject, the {kind} URL parameter
// and the decoded body.
func readRequest(r *http.Request) (auth.Subject, command.Kind, assistant.Input, error) {
	var in assistant.Input

	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		return subject, "", in, auth.ErrUnauthenticated
	}

	kind, err := command.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return subject, "", in, &assistant.InvalidInputError{Field: "kind", Reason: "must be workout or nutrition"}
	}

	if err := decodeJSON(r.Body, &in); err != nil {
		return subject, kind, in, err
	}
	return subject, kind, in, nil
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &assistant.InvalidInputError{
				Field:  "body",
				Reason: fmt.Sprintf("exceeds %d bytes", maxErr.Limit),
			}
		case errors.Is(err, io.EOF):
			return &assistant.InvalidInputError{Field: "body", Reason: "is empty"}
		default:
			return &assistant.InvalidInputError{Field: "body", Reason: "is not valid JSON"}
		}
	}
	return nil
}
