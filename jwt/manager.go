package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names the envelope signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Purpose binds an envelope to one use. A pre-auth envelope is only
// accepted by second-factor verification, a session envelope only by
// session authentication.
type Purpose string

const (
	PurposeTwoFactor Purpose = "2fa-challenge"
	PurposeSession   Purpose = "authenticated"
)

var (
	ErrExpired      = errors.New("token expired")
	ErrWrongPurpose = errors.New("token purpose mismatch")
	// ErrInvalid covers malformed, forged and otherwise unusable envelopes.
	ErrInvalid = errors.New("token invalid")
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
	maxMaxFutureIAT     = 24 * time.Hour
)

// Config holds keys and validation rules. VerifyKeys, when set, maps kid
// header values to verification keys for rotation.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock for iat, exp and validation.
	Now func() time.Time
}

// Claims is the envelope payload; RegisteredClaims.ID is the token id.
type Claims struct {
	Purpose Purpose `json:"pur"`
	jwt.RegisteredClaims
}

// Manager issues and parses envelopes. Safe for concurrent use.
type Manager struct {
	keys         *keyring
	parser       *jwt.Parser
	issuer       string
	audience     string
	maxFutureIAT time.Duration
	now          func() time.Time
}

// NewManager validates cfg, resolves its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("jwt: leeway %s out of range", cfg.Leeway)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > maxMaxFutureIAT {
		return nil, fmt.Errorf("jwt: MaxFutureIAT %s out of range", cfg.MaxFutureIAT)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	keys, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{
		keys:         keys,
		parser:       jwt.NewParser(opts...),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		maxFutureIAT: cfg.MaxFutureIAT,
		now:          cfg.Now,
	}, nil
}

// Issue signs an envelope for id, valid from issuedAt for ttl.
func (m *Manager) Issue(purpose Purpose, id string, issuedAt time.Time, ttl time.Duration) (string, error) {
	switch {
	case id == "" || purpose == "":
		return "", errors.New("jwt: token id and purpose required")
	case ttl <= 0:
		return "", fmt.Errorf("jwt: ttl %s must be positive", ttl)
	case m.keys.sign == nil:
		return "", errors.New("jwt: manager has no signing key")
	}

	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	tok := jwt.NewWithClaims(m.keys.method, claims)
	if m.keys.kid != "" {
		tok.Header["kid"] = m.keys.kid
	}
	return tok.SignedString(m.keys.sign)
}

// Parse checks signature, time claims and purpose, in that order. Errors
// are ErrExpired, ErrWrongPurpose or a wrapped ErrInvalid; none carries key
// material.
func (m *Manager) Parse(token string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}
	tok, err := m.parser.ParseWithClaims(token, claims, m.keys.lookup)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	case !tok.Valid || claims.ID == "":
		return nil, ErrInvalid
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(m.maxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
	}
	if claims.Purpose != purpose {
		return nil, ErrWrongPurpose
	}
	return claims, nil
}
