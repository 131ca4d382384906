package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/middleware"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// Service is the engine surface the server exposes. *authlab.Engine
// satisfies it.
type Service interface {
	authlab.Backend
	Register(ctx context.Context, username, password string) (authlab.Identity, error)
	Authenticate(ctx context.Context, sessionToken string) (*authlab.Principal, error)
	PendingTOTPURI(ctx context.Context, sessionToken string) (string, error)
	LogoutAll(ctx context.Context, sessionToken string) (int, error)
	ListSessions(ctx context.Context, sessionToken string) ([]authlab.SessionInfo, error)
	Health(ctx context.Context) authlab.HealthStatus
}

var _ Service = (*authlab.Engine)(nil)

// Options configures a Server.
type Options struct {
	Logger *slog.Logger
	// AllowedOrigins enables CORS for the listed origins when non-empty.
	AllowedOrigins []string
	// TrustProxy makes client IP extraction honour forwarding headers.
	TrustProxy bool
	// RateLimit is the per-IP bucket applied to every route.
	RateLimit middleware.RateLimitConfig
	// Metrics is mounted at MetricsPath (default /metrics) when set.
	Metrics     http.Handler
	MetricsPath string
	// QRSize is the edge length in pixels of the enrollment QR image.
	QRSize int
}

// Server is an http.Handler serving the auth API.
type Server struct {
	svc      Service
	opts     Options
	log      *slog.Logger
	validate *requestValidator
	router   *httprouter.Router
	handler  http.Handler
}

// handlerFunc is the application-style endpoint signature. A nil response with
// a nil error writes 204.
type handlerFunc func(r *http.Request) (any, error)

// statusCoder lets a response pick its own success status.
type statusCoder interface {
	StatusCode() int
}

// NewServer builds the router and middleware chain around svc.
func NewServer(svc Service, opts Options) (*Server, error) {
	if svc == nil {
		return nil, authlab.ErrEngineNotReady
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	v, err := newRequestValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{svc: svc, opts: opts, log: opts.Logger, validate: v}
	s.router = &httprouter.Router{
		RedirectTrailingSlash:  true,
		RedirectFixedPath:      true,
		HandleMethodNotAllowed: true,
		HandleOPTIONS:          true,
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Code: "not_found", Message: "endpoint not found"}})
		}),
		MethodNotAllowed: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Code: "method_not_allowed", Message: "method not allowed"}})
		}),
	}
	s.routes()

	var h http.Handler = s.router
	h = middleware.RateLimit(opts.RateLimit, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errRateLimited)
	}))(h)
	h = middleware.ClientIP(opts.TrustProxy)(h)
	h = s.recoverer(h)
	if len(opts.AllowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler(h)
	}
	s.handler = h
	return s, nil
}

func (s *Server) routes() {
	guard := middleware.Guard(s.svc, s.writeError)

	s.post("/api/auth/signup", s.handleSignup)
	s.post("/api/auth/login", s.handleLogin)
	s.post("/api/auth/login/2fa", s.handleLoginTwoFactor)

	s.get("/api/auth/me", s.handleMe, guard)
	s.get("/api/auth/sessions", s.handleSessions, guard)
	s.get("/api/auth/totp/setup", s.handleTOTPSetup, guard)
	s.router.Handler(http.MethodGet, "/api/auth/totp/qr", guard(http.HandlerFunc(s.handleTOTPQR)))
	s.post("/api/auth/totp/activate", s.handleTOTPActivate, guard)
	s.post("/api/auth/logout", s.handleLogout, guard)
	s.post("/api/auth/logout/all", s.handleLogoutAll, guard)

	s.router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.Handler(http.MethodGet, s.opts.MetricsPath, s.opts.Metrics)
	}
}

func (s *Server) get(path string, h handlerFunc, mws ...func(http.Handler) http.Handler) {
	s.endpoint(http.MethodGet, path, h, mws...)
}

func (s *Server) post(path string, h handlerFunc, mws ...func(http.Handler) http.Handler) {
	s.endpoint(http.MethodPost, path, h, mws...)
}

func (s *Server) endpoint(method, path string, h handlerFunc, mws ...func(http.Handler) http.Handler) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := h(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status := http.StatusOK
		if sc, ok := resp.(statusCoder); ok {
			status = sc.StatusCode()
		}
		writeJSON(w, status, resp)
	})
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	s.router.Handler(method, path, handler)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("code", detail.Code),
		)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authlab"`)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rvr)
				}
				s.log.ErrorContext(r.Context(), "panic serving request",
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Code: codeInternal, Message: "internal error"}})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// decodeBody decodes exactly one JSON object into dst and validates it.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return authlab.ErrMalformedInput
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return authlab.ErrMalformedInput
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return authlab.ErrMalformedInput
	}
	return s.validate.Struct(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("httpapi: encode response", slog.Any("error", err))
	}
}
