package authlab

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/ksm067300-arch/auth-lab/internal/audit"
)

// Identity is an authenticated principal as known to the IdentityStore.
type Identity struct {
	ID       string
	Username string
	// PasswordHash is the Argon2id PHC string. Stores that delegate password
	// checks to an external CredentialVerifier may leave it empty.
	PasswordHash string
}

// SecretStatus is the lifecycle state of a stored TOTP secret.
type SecretStatus uint8

const (
	// SecretPending was generated by setup and awaits a confirming code.
	SecretPending SecretStatus = iota + 1
	// SecretActive is the one secret consulted at login.
	SecretActive
	// SecretRevoked was replaced and is never consulted again.
	SecretRevoked
)

func (s SecretStatus) String() string {
	switch s {
	case SecretPending:
		return "PENDING"
	case SecretActive:
		return "ACTIVE"
	case SecretRevoked:
		return "REVOKED"
	default:
		return "UNKNOWN"
	}
}

// ParseSecretStatus is the inverse of SecretStatus.String.
func ParseSecretStatus(s string) (SecretStatus, bool) {
	switch s {
	case "PENDING":
		return SecretPending, true
	case "ACTIVE":
		return SecretActive, true
	case "REVOKED":
		return SecretRevoked, true
	default:
		return 0, false
	}
}

// TOTPSecret is one stored secret of an identity.
type TOTPSecret struct {
	IdentityID  string
	Secret      []byte
	Status      SecretStatus
	CreatedAt   time.Time
	ActivatedAt time.Time
}

// IdentityStore persists identities and their TOTP secrets.
//
// An identity has at most one ACTIVE and at most one PENDING secret.
// ActivateTOTPSecret must be atomic: promote the matching PENDING secret and
// demote any prior ACTIVE one to REVOKED in a single step, returning
// ErrSecretAlreadyActive when secret is the current ACTIVE one and
// ErrSecretNotPending when no PENDING secret matches. Lookups for an
// identity without such a secret return (nil, nil). Any other error is
// treated as the store being unavailable.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, username, passwordHash string) (Identity, error)
	IdentityByUsername(ctx context.Context, username string) (Identity, error)
	IdentityByID(ctx context.Context, id string) (Identity, error)
	ActiveTOTPSecret(ctx context.Context, identityID string) (*TOTPSecret, error)
	PendingTOTPSecret(ctx context.Context, identityID string) (*TOTPSecret, error)
	SavePendingTOTPSecret(ctx context.Context, identityID string, secret []byte) error
	ActivateTOTPSecret(ctx context.Context, identityID string, secret []byte) error
}

// PasswordHashUpdater is optionally implemented by an IdentityStore. When
// present, the built-in PasswordVerifier re-hashes a password after a
// successful check if the stored hash used weaker Argon2 parameters.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, identityID, passwordHash string) error
}

// CredentialVerifier checks a username/password pair. It returns
// ErrInvalidCredentials for a wrong pair or unknown username, and any other
// error when it cannot decide. The Engine bounds each call with
// VerifierConfig.Timeout.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (Identity, error)
}

// LoginResult is returned by Login and VerifySecondFactor. Exactly one of
// PreAuthToken and AccessToken is set.
type LoginResult struct {
	RequiresTwoFactor bool      `json:"requiresTwoFactor"`
	PreAuthToken      string    `json:"preAuthToken,omitempty"`
	AccessToken       string    `json:"accessToken,omitempty"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Message           string    `json:"message,omitempty"`
}

// TOTPSetup carries a freshly generated PENDING secret in base32 and its
// otpauth:// provisioning URI.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// Principal describes the holder of a valid session token.
type Principal struct {
	IdentityID string    `json:"identityId"`
	Username   string    `json:"username"`
	SessionID  string    `json:"sessionId"`
	TwoFactor  bool      `json:"twoFactor"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// AuditStats counts what happened to emitted audit events.
type AuditStats = internalaudit.Stats

// SlogSink is an [AuditSink] that logs each event through slog.
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
