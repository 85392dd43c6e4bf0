package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/apierror"
	"fitcoach-gateway/pkg/logging/logging"
)

// Timeout bounds the request context to d. The handler runs on the calling
// goroutine and must honour ctx; if it returns after the deadline without
// having written anything, a JSON 504 is sent.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if ww.Status() != 0 || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}

			logging.L(ctx).Warn("request timeout", zap.Duration("timeout", d))
			apierror.WriteJSON(ww, http.StatusGatewayTimeout, apierror.Body{
				Error:   apierror.CodeGatewayTimeout,
				Message: "The request took too long. Please try again.",
			})
		})
	}
}
