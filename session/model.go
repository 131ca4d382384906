package session

// Session is the server-side record behind a session token. SessionID is the
// random token id carried in the envelope.
type Session struct {
	SessionID  string
	IdentityID string
	Username   string

	// Via records how the session was established.
	Via uint8

	CreatedAt int64
	ExpiresAt int64
}

const (
	// ViaPassword marks sessions issued directly after step one.
	ViaPassword uint8 = 1
	// ViaTOTP marks sessions issued after a second-factor check.
	ViaTOTP uint8 = 2
)
