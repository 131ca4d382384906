package audit

import (
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is one security-relevant record. It never holds passwords, TOTP
// secrets, one-time codes or bearer tokens.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	IdentityID string            `json:"identity_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewEventID returns a ULID for t, so ids sort by emission time.
func NewEventID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// attrs flattens the event for structured logging. Empty optional fields
// are omitted; metadata keys are prefixed with "meta.".
func (e Event) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, 8+len(e.Metadata))
	out = append(out,
		slog.String("event_id", e.ID),
		slog.Time("at", e.Timestamp),
		slog.Bool("success", e.Success),
	)
	optional := [...]struct{ key, val string }{
		{"identity_id", e.IdentityID},
		{"session_id", e.SessionID},
		{"ip", e.IP},
		{"error", e.Error},
	}
	for _, o := range optional {
		if o.val != "" {
			out = append(out, slog.String(o.key, o.val))
		}
	}
	for k, v := range e.Metadata {
		out = append(out, slog.String("meta."+k, v))
	}
	return out
}
