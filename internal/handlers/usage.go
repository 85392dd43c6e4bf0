package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/apierror"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/pkg/logging/logging"
)

type UsageHandler struct {
	Gate *quota.Gate
}

func NewUsageHandler(g *quota.Gate) *UsageHandler {
	return &UsageHandler{Gate: g}
}

// Usage handles GET /v1/usage: today's count for the caller.
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, ok := auth.SubjectFromContext(ctx)
	if !ok {
		apierror.Write(w, auth.ErrUnauthenticated)
		return
	}

	st, err := h.Gate.Status(ctx, subject)
	if err != nil {
		logging.L(ctx).Error("usage_status_failed", zap.Error(err))
		apierror.Write(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, st)
}
