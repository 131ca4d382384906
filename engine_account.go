package authlab

import (
	"context"
	"errors"

	"github.com/ksm067300-arch/auth-lab/internal/limiters"
	"github.com/ksm067300-arch/auth-lab/password"
)

// Register creates an identity with an Argon2id password hash and no TOTP
// secret. It does not log the caller in.
//
// Errors: ErrMalformedInput, ErrSignupRateLimited, ErrPasswordPolicy,
// ErrIdentityExists, ErrUpstreamUnavailable.
func (e *Engine) Register(ctx context.Context, username, pw string) (Identity, error) {
	if err := e.ready(); err != nil {
		return Identity{}, err
	}
	username = e.normalizeUsername(username)
	if !e.validUsername(username) {
		return Identity{}, ErrMalformedInput
	}

	if err := e.signupLimiter.Enforce(ctx, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, limiters.ErrSignupRateLimited) {
			e.metricInc(MetricRegisterRateLimited)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrSignupRateLimited, nil)
			return Identity{}, ErrSignupRateLimited
		}
		return Identity{}, e.upstream(ctx, "signup limiter", err)
	}

	hash, err := e.hasher.Hash(ctx, pw)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, nil)
			return Identity{}, ErrPasswordPolicy
		}
		return Identity{}, e.upstream(ctx, "password hash", err)
	}

	identity, err := e.identities.CreateIdentity(ctx, username, hash)
	if err != nil {
		if errors.Is(err, ErrIdentityExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrIdentityExists, nil)
			return Identity{}, ErrIdentityExists
		}
		return Identity{}, e.upstream(ctx, "identity create", err)
	}

	identity.PasswordHash = ""
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, identity.ID, "", nil, nil)
	return identity, nil
}
