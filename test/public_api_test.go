package test

import (
	"context"
	"net/http"
	"testing"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/httpapi"
	"github.com/ksm067300-arch/auth-lab/middleware"
	"github.com/ksm067300-arch/auth-lab/store/sqlite"
)

// This test guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = authlab.New
	_ = authlab.NewFlow

	var _ *authlab.Engine
	var _ authlab.Config
	var _ authlab.LoginResult
	var _ authlab.TOTPSetup
	var _ authlab.Principal
	var _ authlab.IdentityStore = (*sqlite.Store)(nil)
	var _ authlab.Backend = (*authlab.Engine)(nil)
	var _ authlab.Backend = (*httpapi.Client)(nil)
	var _ httpapi.Service = (*authlab.Engine)(nil)
	var _ middleware.Authenticator = (*authlab.Engine)(nil)
	var _ authlab.AuditSink

	var _ error = authlab.ErrInvalidCredentials
	var _ error = authlab.ErrTokenExpired
	var _ error = authlab.ErrTokenAlreadyUsed
	var _ error = authlab.ErrTokenWrongPurpose
	var _ error = authlab.ErrTokenInvalid
	var _ error = authlab.ErrCodeInvalid
	var _ error = authlab.ErrCodeReplayed
	var _ error = authlab.ErrTooManyAttempts
	var _ error = authlab.ErrSecretAlreadyActive
	var _ error = authlab.ErrSecretNotPending
	var _ error = authlab.ErrUpstreamUnavailable
	var _ error = authlab.ErrMalformedInput

	var _ func(middleware.Authenticator, middleware.ErrorHandler) func(http.Handler) http.Handler = middleware.Guard

	var _ func(*authlab.Engine, context.Context, string, string) (*authlab.LoginResult, error) = (*authlab.Engine).Login
	var _ func(*authlab.Engine, context.Context, string, string) (*authlab.LoginResult, error) = (*authlab.Engine).VerifySecondFactor
	var _ func(*authlab.Engine, context.Context, string) (*authlab.TOTPSetup, error) = (*authlab.Engine).SetupTOTP
	var _ func(*authlab.Engine, context.Context, string, string, string) error = (*authlab.Engine).ActivateTOTP
	var _ func(*authlab.Engine, context.Context, string) error = (*authlab.Engine).Logout
}
