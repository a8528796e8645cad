package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hpatro/valkey-http/internal/auth"
	apierrors "github.com/hpatro/valkey-http/internal/errors"
)

// BasicAuth challenges every request whose Basic-Auth credentials the engine
// does not accept. The verified login is stored as the request identity.
func BasicAuth(verifier *auth.Verifier, realm string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, err := verifier.VerifyRequest(r)
			if err != nil {
				apiErr := apierrors.ErrAuthRejected
				if errors.Is(err, auth.ErrMissingCredentials) {
					apiErr = apierrors.ErrAuthMissing
				}
				logger.DebugContext(r.Context(), "authentication challenge",
					slog.String("path", r.URL.Path),
					slog.String("reason", apiErr.ErrorCode))
				apierrors.WriteAuthChallenge(w, r, realm, apiErr)
				return
			}

			ctx := auth.WithIdentity(r.Context(), creds.Login)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
