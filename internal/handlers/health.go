package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/apierror"
	"fitcoach-gateway/pkg/logging/logging"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Health answers 200 when every check passes and 503 naming the failing
// ones otherwise.
func Health(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}

		if len(failed) > 0 {
			logging.L(ctx).Warn("health_check_failed", zap.Any("failed", failed))
			apierror.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"failed": failed,
			})
			return
		}
		apierror.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
