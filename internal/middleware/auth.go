package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/apierror"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/pkg/logging/logging"
)

// Authenticate requires a valid bearer token. The subject is stored in the
// context and added to the request logger; failures answer 401 before any
// handler runs.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, err := auth.ExtractToken(r.Header.Get("Authorization"))
			if err == nil {
				var subject auth.Subject
				subject, err = verifier.Verify(token)
				if err == nil {
					ctx = auth.WithSubject(ctx, subject)
					ctx = logging.WithFields(ctx, zap.String("subject_id", subject.ID))
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			logging.L(ctx).Info("request not authenticated", zap.Error(err))
			apierror.Write(w, err)
		})
	}
}
