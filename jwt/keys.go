package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// keyring is the resolved key material for one Manager. Keys are parsed
// once at construction so Parse never touches PEM.
type keyring struct {
	method   jwt.SigningMethod
	sign     any
	kid      string
	byKid    map[string]any
	fallback any
}

func newKeyring(cfg Config) (*keyring, error) {
	kr := &keyring{kid: strings.TrimSpace(cfg.KeyID), byKid: make(map[string]any, len(cfg.VerifyKeys))}

	var decode func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("jwt: hs256 key must be at least 32 bytes")
		}
		kr.method = jwt.SigningMethodHS256
		kr.sign = cfg.PrivateKey
		kr.fallback = cfg.PrivateKey
		decode = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		kr.method = jwt.SigningMethodEdDSA
		decode = func(b []byte) (any, error) { return edPublic(b) }
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivate(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			kr.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := edPublic(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			kr.fallback = pub
		}
		if kr.fallback == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("jwt: ed25519 needs a public key or verify keys")
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify keys contain an empty kid")
		}
		key, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
		}
		kr.byKid[kid] = key
	}
	if kr.kid != "" && len(kr.byKid) > 0 {
		if _, ok := kr.byKid[kr.kid]; !ok {
			return nil, errors.New("jwt: KeyID missing from verify keys")
		}
	}
	return kr, nil
}

// lookup is the jwt.Keyfunc. With verify keys configured the kid header is
// mandatory; with only KeyID set it must match.
func (kr *keyring) lookup(t *jwt.Token) (any, error) {
	if t.Method.Alg() != kr.method.Alg() {
		return nil, fmt.Errorf("unexpected alg %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	switch {
	case len(kr.byKid) > 0:
		key, ok := kr.byKid[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	case kr.kid != "" && kid != kr.kid:
		return nil, errors.New("unknown kid")
	case kr.fallback == nil:
		return nil, errors.New("no verification key")
	}
	return kr.fallback, nil
}

func edPrivate(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	k, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: private key is not ed25519")
	}
	return priv, nil
}

func edPublic(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: public key is not ed25519")
	}
	return pub, nil
}
