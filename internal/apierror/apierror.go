// Package apierror maps gateway errors to the status code, discriminator and
// user-facing message returned by the JSON and stream endpoints.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"fitcoach-gateway/internal/assistant"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/command"
	"fitcoach-gateway/internal/llm"
	"fitcoach-gateway/internal/quota"
)

const (
	CodeUnauthenticated      = "unauthenticated"
	CodeSubscriptionRequired = "subscription_required"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeInvalidInput         = "invalid_input"
	CodeProviderTimeout      = "provider_timeout"
	CodeProviderError        = "provider_error"
	CodeEmptyResponse        = "empty_response"
	CodeValidationFailed     = "validation_failed"
	CodeInternal             = "internal_error"
	CodeGatewayTimeout       = "gateway_timeout"
)

// Body is the error payload. LimitReached is only set for quota rejections.
type Body struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	LimitReached bool   `json:"limitReached,omitempty"`
}

// Describe classifies err. Unknown errors become a generic 500 so internal
// details never reach the client.
func Describe(err error) (int, Body) {
	var (
		entErr   *quota.EntitlementError
		quotaErr *quota.QuotaExceededError
		inErr    *assistant.InvalidInputError
		provErr  *llm.ProviderError
		valErr   *command.ValidationError
	)

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, Body{
			Error:   CodeUnauthenticated,
			Message: "Sign in to use the assistant.",
		}
	case errors.As(err, &entErr):
		return http.StatusForbidden, Body{
			Error:   CodeSubscriptionRequired,
			Message: "The assistant requires an active subscription or trial.",
		}
	case errors.As(err, &quotaErr):
		return http.StatusTooManyRequests, Body{
			Error: CodeQuotaExceeded,
			Message: fmt.Sprintf("You have used all %d assistant requests for today. Try again after %s UTC.",
				quotaErr.Limit, quotaErr.ResetAt.UTC().Format("15:04")),
			LimitReached: true,
		}
	case errors.As(err, &inErr):
		return http.StatusBadRequest, Body{
			Error:   CodeInvalidInput,
			Message: fmt.Sprintf("Invalid %s: %s.", inErr.Field, inErr.Reason),
		}
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, Body{
			Error:   CodeProviderTimeout,
			Message: "The assistant took too long to answer. Please try again.",
		}
	case errors.As(err, &provErr):
		msg := "The assistant is unavailable right now. Please try again."
		if llm.IsRateLimited(err) {
			msg = "The assistant is busy right now. Please try again in a minute."
		}
		return http.StatusInternalServerError, Body{Error: CodeProviderError, Message: msg}
	case errors.Is(err, llm.ErrEmptyResponse):
		return http.StatusInternalServerError, Body{
			Error:   CodeEmptyResponse,
			Message: "The assistant returned an empty answer. Please rephrase your request.",
		}
	case errors.As(err, &valErr):
		return http.StatusInternalServerError, Body{
			Error:   CodeValidationFailed,
			Message: "The assistant could not understand that request. Please rephrase it.",
		}
	default:
		return http.StatusInternalServerError, Body{
			Error:   CodeInternal,
			Message: "Something went wrong. Please try again.",
		}
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write describes err and writes it as JSON.
func Write(w http.ResponseWriter, err error) {
	status, body := Describe(err)
	WriteJSON(w, status, body)
}
