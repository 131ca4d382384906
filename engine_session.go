package authlab

import (
	"context"
	"strconv"
	"time"

	"github.com/ksm067300-arch/auth-lab/session"
)

// Authenticate resolves a session token to its Principal. Pre-auth tokens
// are rejected with ErrTokenWrongPurpose.
func (e *Engine) Authenticate(ctx context.Context, sessionToken string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sess, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return &Principal{
		IdentityID: sess.IdentityID,
		Username:   sess.Username,
		SessionID:  sess.SessionID,
		TwoFactor:  sess.Via == session.ViaTOTP,
		IssuedAt:   time.Unix(sess.CreatedAt, 0).UTC(),
		ExpiresAt:  time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// Logout revokes the session behind sessionToken. Revoking an already
// revoked session reports ErrTokenInvalid.
func (e *Engine) Logout(ctx context.Context, sessionToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	sess, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return err
	}
	existed, err := e.sessions.Delete(ctx, sess.IdentityID, sess.SessionID)
	if err != nil {
		return e.upstream(ctx, "session delete", err)
	}
	if !existed {
		return ErrTokenInvalid
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogout, true, sess.IdentityID, sess.SessionID, nil, nil)
	return nil
}

// LogoutAll revokes every other session of the token's identity and returns
// how many were revoked. The presented session stays valid.
func (e *Engine) LogoutAll(ctx context.Context, sessionToken string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	sess, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return 0, err
	}
	n, err := e.sessions.DeleteAllForIdentity(ctx, sess.IdentityID, sess.SessionID)
	if err != nil {
		return 0, e.upstream(ctx, "session delete", err)
	}

	e.metricInc(MetricLogout)
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsRevoked, true, sess.IdentityID, sess.SessionID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(n), "reason": "logout_all"}
	})
	return n, nil
}
