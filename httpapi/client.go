package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	authlab "github.com/ksm067300-arch/auth-lab"
)

// Client calls a Server. It implements authlab.Backend, so an
// authlab.Flow can run against a remote engine. Every error it returns
// matches one authlab sentinel with errors.Is.
type Client struct {
	base *url.URL
	hc   *http.Client
}

var _ authlab.Backend = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("httpapi: invalid base url %q", baseURL)
	}
	c := &Client{base: u, hc: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (authlab.Identity, error) {
	var out identityResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/signup", "", credentialsRequest{Username: username, Password: password}, &out)
	if err != nil {
		return authlab.Identity{}, err
	}
	return authlab.Identity{ID: out.ID, Username: out.Username}, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*authlab.LoginResult, error) {
	var out authlab.LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", credentialsRequest{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifySecondFactor(ctx context.Context, preAuthToken, code string) (*authlab.LoginResult, error) {
	var out authlab.LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login/2fa", "", twoFactorRequest{PreAuthToken: preAuthToken, Code: code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetupTOTP(ctx context.Context, sessionToken string) (*authlab.TOTPSetup, error) {
	var out authlab.TOTPSetup
	if err := c.do(ctx, http.MethodGet, "/api/auth/totp/setup", sessionToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActivateTOTP(ctx context.Context, sessionToken, secret, code string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/totp/activate", sessionToken, activateRequest{SecretKey: secret, Code: code}, nil)
}

func (c *Client) Logout(ctx context.Context, sessionToken string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", sessionToken, nil, nil)
}

// LogoutAll revokes every other session of the token's identity.
func (c *Client) LogoutAll(ctx context.Context, sessionToken string) (int, error) {
	var out logoutAllResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/logout/all", sessionToken, nil, &out); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// Me returns the principal behind sessionToken. SessionID and IssuedAt are
// not transmitted.
func (c *Client) Me(ctx context.Context, sessionToken string) (*authlab.Principal, error) {
	var out meResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", sessionToken, nil, &out); err != nil {
		return nil, err
	}
	return &authlab.Principal{
		IdentityID: out.ID,
		Username:   out.Username,
		TwoFactor:  out.TwoFactor,
		ExpiresAt:  out.ExpiresAt,
	}, nil
}

func (c *Client) ListSessions(ctx context.Context, sessionToken string) ([]authlab.SessionInfo, error) {
	var out sessionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/sessions", sessionToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// TOTPQR fetches the PNG rendering of the pending enrollment URI.
func (c *Client) TOTPQR(ctx context.Context, sessionToken string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/auth/totp/qr", sessionToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read qr: %v", authlab.ErrUpstreamUnavailable, err)
	}
	return img, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	resp, err := c.send(ctx, method, path, token, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", authlab.ErrUpstreamUnavailable, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, token string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", authlab.ErrMalformedInput, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authlab.ErrMalformedInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Only the method and path are reported; the url error may embed more.
		return nil, fmt.Errorf("%w: %s %s", authlab.ErrUpstreamUnavailable, method, path)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	if kind := kindForCode(body.Error.Code); kind != nil {
		if len(body.Error.Fields) > 0 {
			return validationError(body.Error.Fields)
		}
		return kind
	}
	return fmt.Errorf("%w: unexpected status %d", authlab.ErrUpstreamUnavailable, resp.StatusCode)
}
