package httpapi

import (
	"context"
	"image/png"
	"net/http"
	"time"

	authlab "github.com/ksm067300-arch/auth-lab"
	"github.com/ksm067300-arch/auth-lab/middleware"
	"github.com/ksm067300-arch/auth-lab/totp"
)

// Size bounds only; content rules stay with the engine so its error
// precedence holds over HTTP too.
type credentialsRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"max=4096"`
}

type twoFactorRequest struct {
	PreAuthToken string `json:"preAuthToken" validate:"max=4096"`
	Code         string `json:"code" validate:"max=64"`
}

type activateRequest struct {
	SecretKey string `json:"secretKey" validate:"max=512"`
	Code      string `json:"code" validate:"max=64"`
}

type identityResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type createdIdentity struct{ identityResponse }

func (createdIdentity) StatusCode() int { return http.StatusCreated }

type meResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	TwoFactor bool      `json:"twoFactor"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionsResponse struct {
	Sessions []authlab.SessionInfo `json:"sessions"`
}

type logoutAllResponse struct {
	Revoked int `json:"revoked"`
}

type healthResponse struct {
	Status         string `json:"status"`
	RedisAvailable bool   `json:"redisAvailable"`
	RedisLatencyMS int64  `json:"redisLatencyMs"`
}

func (s *Server) handleSignup(r *http.Request) (any, error) {
	var req credentialsRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}
	ident, err := s.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	return createdIdentity{identityResponse{ID: ident.ID, Username: ident.Username}}, nil
}

func (s *Server) handleLogin(r *http.Request) (any, error) {
	var req credentialsRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.svc.Login(r.Context(), req.Username, req.Password)
}

func (s *Server) handleLoginTwoFactor(r *http.Request) (any, error) {
	var req twoFactorRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.svc.VerifySecondFactor(r.Context(), req.PreAuthToken, req.Code)
}

func (s *Server) handleMe(r *http.Request) (any, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return nil, authlab.ErrTokenInvalid
	}
	return meResponse{ID: p.IdentityID, Username: p.Username, TwoFactor: p.TwoFactor, ExpiresAt: p.ExpiresAt}, nil
}

func (s *Server) handleSessions(r *http.Request) (any, error) {
	token, _ := middleware.TokenFromContext(r.Context())
	sessions, err := s.svc.ListSessions(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []authlab.SessionInfo{}
	}
	return sessionsResponse{Sessions: sessions}, nil
}

func (s *Server) handleTOTPSetup(r *http.Request) (any, error) {
	token, _ := middleware.TokenFromContext(r.Context())
	return s.svc.SetupTOTP(r.Context(), token)
}

func (s *Server) handleTOTPQR(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	uri, err := s.svc.PendingTOTPURI(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := totp.ParseURI(uri)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := key.Image(s.opts.QRSize, s.opts.QRSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		s.log.WarnContext(r.Context(), "qr encode failed", "error", err)
	}
}

func (s *Server) handleTOTPActivate(r *http.Request) (any, error) {
	var req activateRequest
	if err := s.decodeBody(r, &req); err != nil {
		return nil, err
	}
	token, _ := middleware.TokenFromContext(r.Context())
	if err := s.svc.ActivateTOTP(r.Context(), token, req.SecretKey, req.Code); err != nil {
		return nil, err
	}
	return messageResponse{Message: "two-factor authentication enabled"}, nil
}

func (s *Server) handleLogout(r *http.Request) (any, error) {
	token, _ := middleware.TokenFromContext(r.Context())
	return nil, s.svc.Logout(r.Context(), token)
}

func (s *Server) handleLogoutAll(r *http.Request) (any, error) {
	token, _ := middleware.TokenFromContext(r.Context())
	n, err := s.svc.LogoutAll(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return logoutAllResponse{Revoked: n}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h := s.svc.Health(ctx)
	resp := healthResponse{
		Status:         "ok",
		RedisAvailable: h.RedisAvailable,
		RedisLatencyMS: h.RedisLatency.Milliseconds(),
	}
	status := http.StatusOK
	if !h.RedisAvailable {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
