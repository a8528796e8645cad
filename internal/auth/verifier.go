// Package auth verifies HTTP Basic-Auth credentials against the engine and
// carries the resulting identity through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hpatro/valkey-http/internal/engine"
	"github.com/hpatro/valkey-http/internal/infrastructure"
)

var (
	// ErrMissingCredentials means the request carried no Basic-Auth header
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrInvalidCredentials means the engine rejected the login
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// DefaultIdentity is used where no authenticated login is carried into execution
const DefaultIdentity = "default"

// Credentials are parsed once per request and never cached
type Credentials struct {
	Login    string
	Password string
}

// Verifier checks credentials with the engine on every call
type Verifier struct {
	authenticator engine.Authenticator
	logger        *slog.Logger
	metrics       *infrastructure.GatewayMetrics
}

// NewVerifier creates a Verifier delegating to authenticator
func NewVerifier(authenticator engine.Authenticator, logger *slog.Logger, metrics *infrastructure.GatewayMetrics) *Verifier {
	return &Verifier{
		authenticator: authenticator,
		logger:        infrastructure.WithComponent(logger, "auth.verifier"),
		metrics:       metrics,
	}
}

// VerifyRequest extracts Basic-Auth credentials from r and verifies them
func (v *Verifier) VerifyRequest(r *http.Request) (Credentials, error) {
	login, password, ok := r.BasicAuth()
	if !ok {
		v.metrics.RecordAuthFailure(r.Context(), "missing")
		return Credentials{}, ErrMissingCredentials
	}
	creds := Credentials{Login: login, Password: password}
	if err := v.Verify(r.Context(), creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Verify asks the engine to authenticate creds
func (v *Verifier) Verify(ctx context.Context, creds Credentials) error {
	ok, err := v.authenticator.Authenticate(ctx, creds.Login, creds.Password)
	if err != nil {
		v.metrics.RecordAuthFailure(ctx, "engine_error")
		v.logger.ErrorContext(ctx, "engine failed to verify credentials",
			slog.String("login", creds.Login),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !ok {
		v.metrics.RecordAuthFailure(ctx, "rejected")
		v.logger.InfoContext(ctx, "credentials rejected", slog.String("login", creds.Login))
		return ErrInvalidCredentials
	}
	return nil
}

type identityKey struct{}

// WithIdentity stores the authenticated login in ctx
func WithIdentity(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, identityKey{}, login)
}

// IdentityFromContext returns the authenticated login, or DefaultIdentity
func IdentityFromContext(ctx context.Context) string {
	if login, ok := ctx.Value(identityKey{}).(string); ok && login != "" {
		return login
	}
	return DefaultIdentity
}
