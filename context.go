package authlab

import "context"

type ctxKey uint8

const (
	ctxKeyClientIP ctxKey = iota
	ctxKeyUserAgent
)

// WithClientIP records the caller's IP on ctx. It feeds per-IP login and
// sign-up throttling and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithUserAgent records the HTTP User-Agent on ctx for audit metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

func clientIPFromContext(ctx context.Context) string { return ctxString(ctx, ctxKeyClientIP) }

func userAgentFromContext(ctx context.Context) string { return ctxString(ctx, ctxKeyUserAgent) }

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
