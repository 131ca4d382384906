package authlab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ksm067300-arch/auth-lab/password"
)

// PasswordVerifier is the built-in CredentialVerifier: it looks the username
// up in an IdentityStore and checks the stored Argon2id hash.
type PasswordVerifier struct {
	identities IdentityStore
	hasher     *password.Argon2
	// decoy is verified for unknown usernames so that both paths cost one
	// Argon2 evaluation.
	decoy string
}

// NewPasswordVerifier returns a verifier over identities using hasher.
func NewPasswordVerifier(identities IdentityStore, hasher *password.Argon2, minPasswordBytes int) (*PasswordVerifier, error) {
	if identities == nil || hasher == nil {
		return nil, errors.New("identity store and hasher are required")
	}
	n := minPasswordBytes
	if n < 16 {
		n = 16
	}
	decoy, err := hasher.Hash(context.Background(), strings.Repeat("d", n))
	if err != nil {
		return nil, fmt.Errorf("decoy hash: %w", err)
	}
	return &PasswordVerifier{identities: identities, hasher: hasher, decoy: decoy}, nil
}

// VerifyCredentials implements CredentialVerifier.
func (v *PasswordVerifier) VerifyCredentials(ctx context.Context, username, pw string) (Identity, error) {
	identity, err := v.identities.IdentityByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			_, _ = v.hasher.Verify(ctx, pw, v.decoy)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	ok, err := v.hasher.Verify(ctx, pw, identity.PasswordHash)
	switch {
	case errors.Is(err, password.ErrTooLong):
		return Identity{}, ErrInvalidCredentials
	case errors.Is(err, password.ErrMalformedHash):
		return Identity{}, fmt.Errorf("stored hash unusable: %w", err)
	case err != nil:
		return Identity{}, err
	}
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	v.rehash(ctx, identity, pw)
	identity.PasswordHash = ""
	return identity, nil
}

// rehash upgrades a hash produced with weaker parameters. Failures are
// ignored; the next successful login tries again.
func (v *PasswordVerifier) rehash(ctx context.Context, identity Identity, pw string) {
	updater, ok := v.identities.(PasswordHashUpdater)
	if !ok {
		return
	}
	if weaker, err := v.hasher.NeedsUpgrade(identity.PasswordHash); err != nil || !weaker {
		return
	}
	hash, err := v.hasher.Hash(ctx, pw)
	if err != nil {
		return
	}
	_ = updater.UpdatePasswordHash(ctx, identity.ID, hash)
}
