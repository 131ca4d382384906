package authlab

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ksm067300-arch/auth-lab/session"
)

// SessionInfo is the safe introspection view of a session. It carries no
// token material.
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	TwoFactor bool      `json:"twoFactor"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// ListSessions returns the live sessions of the token's identity, oldest
// first. Index entries whose session already expired are skipped.
func (e *Engine) ListSessions(ctx context.Context, sessionToken string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	current, err := e.verifySession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, current.IdentityID)
	if err != nil {
		return nil, e.upstream(ctx, "session index", err)
	}

	now := e.now()
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := e.sessions.Get(ctx, id, now)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrExpired) || errors.Is(err, session.ErrCorrupt) {
				continue
			}
			return nil, e.upstream(ctx, "session lookup", err)
		}
		out = append(out, toSessionInfo(sess, current.SessionID))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Health pings the token backend.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.sessions == nil {
		return HealthStatus{}
	}

	latency, err := e.sessions.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

// GetLoginAttempts returns the failed step-one attempts counted for
// username in the current window.
func (e *Engine) GetLoginAttempts(ctx context.Context, username string) (int, error) {
	if e == nil || e.rateLimiter == nil {
		return 0, ErrEngineNotReady
	}
	username = e.normalizeUsername(username)
	if username == "" {
		return 0, nil
	}

	return e.rateLimiter.GetLoginAttempts(ctx, username)
}

func toSessionInfo(sess *session.Session, currentID string) SessionInfo {
	return SessionInfo{
		SessionID: sess.SessionID,
		TwoFactor: sess.Via == session.ViaTOTP,
		Current:   sess.SessionID == currentID,
		CreatedAt: time.Unix(sess.CreatedAt, 0).UTC(),
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}
}
