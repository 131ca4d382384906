package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const tokenIDEncodedLen = 22

// TokenID is the random identifier behind a pre-auth or session token.
type TokenID [16]byte

func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (t TokenID) Bytes() []byte {
	return t[:]
}

func (t TokenID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(t[:])
}

// ParseTokenID decodes the String form and rejects anything of another size.
func ParseTokenID(s string) (TokenID, error) {
	var id TokenID
	if len(s) != tokenIDEncodedLen {
		return id, errors.New("invalid token id size")
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid token id size")
	}

	copy(id[:], raw)
	return id, nil
}
