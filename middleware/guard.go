package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	authlab "github.com/ksm067300-arch/auth-lab"
)

// ErrMissingBearer is passed to the error handler when the request carries
// no usable Authorization header.
var ErrMissingBearer = errors.New("middleware: missing bearer token")

// Authenticator resolves a Session Token. *authlab.Engine satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionToken string) (*authlab.Principal, error)
}

// ErrorHandler writes the rejection response for err.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type principalContextKey struct{}
type tokenContextKey struct{}

// PrincipalFromContext returns the principal stored by Guard.
func PrincipalFromContext(ctx context.Context) (*authlab.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authlab.Principal)
	return p, ok
}

// TokenFromContext returns the bearer token Guard accepted.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenContextKey{}).(string)
	return tok, ok && tok != ""
}

// Guard rejects requests without a valid Session Token. onError may be nil,
// in which case a plain 401 is written.
func Guard(auth Authenticator, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				onError(w, r, authlab.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, ErrMissingBearer)
				return
			}

			principal, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
