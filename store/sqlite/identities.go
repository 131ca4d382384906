package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	authlab "github.com/ksm067300-arch/auth-lab"
)

var (
	_ authlab.IdentityStore       = (*Store)(nil)
	_ authlab.PasswordHashUpdater = (*Store)(nil)
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) CreateIdentity(ctx context.Context, username, passwordHash string) (authlab.Identity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return authlab.Identity{}, fmt.Errorf("sqlite: identity id: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO identities (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), username, passwordHash, unixMilli(s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return authlab.Identity{}, authlab.ErrIdentityExists
		}
		return authlab.Identity{}, err
	}
	return authlab.Identity{ID: id.String(), Username: username, PasswordHash: passwordHash}, nil
}

func (s *Store) IdentityByUsername(ctx context.Context, username string) (authlab.Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM identities WHERE username = ?`, username))
}

func (s *Store) IdentityByID(ctx context.Context, id string) (authlab.Identity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash FROM identities WHERE id = ?`, id))
}

// UpdatePasswordHash replaces the stored hash of an identity.
func (s *Store) UpdatePasswordHash(ctx context.Context, identityID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET password_hash = ? WHERE id = ?`, passwordHash, identityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authlab.ErrIdentityNotFound
	}
	return nil
}

func scanIdentity(row *sql.Row) (authlab.Identity, error) {
	var ident authlab.Identity
	if err := row.Scan(&ident.ID, &ident.Username, &ident.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authlab.Identity{}, authlab.ErrIdentityNotFound
		}
		return authlab.Identity{}, err
	}
	return ident, nil
}

func (s *Store) ActiveTOTPSecret(ctx context.Context, identityID string) (*authlab.TOTPSecret, error) {
	return secretByStatus(ctx, s.db, identityID, authlab.SecretActive)
}

func (s *Store) PendingTOTPSecret(ctx context.Context, identityID string) (*authlab.TOTPSecret, error) {
	return secretByStatus(ctx, s.db, identityID, authlab.SecretPending)
}

func secretByStatus(ctx context.Context, q queryer, identityID string, status authlab.SecretStatus) (*authlab.TOTPSecret, error) {
	var (
		secret             []byte
		statusText         string
		created, activated sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT secret, status, created_at, activated_at FROM totp_secrets
		 WHERE identity_id = ? AND status = ?`,
		identityID, status.String()).Scan(&secret, &statusText, &created, &activated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parsed, ok := authlab.ParseSecretStatus(statusText)
	if !ok {
		return nil, fmt.Errorf("sqlite: unknown secret status %q", statusText)
	}
	return &authlab.TOTPSecret{
		IdentityID:  identityID,
		Secret:      secret,
		Status:      parsed,
		CreatedAt:   fromUnixMilli(created),
		ActivatedAt: fromUnixMilli(activated),
	}, nil
}

// SavePendingTOTPSecret replaces any PENDING secret of the identity. The
// replaced secret is kept as REVOKED.
func (s *Store) SavePendingTOTPSecret(ctx context.Context, identityID string, secret []byte) error {
	now := unixMilli(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireIdentity(ctx, tx, identityID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE totp_secrets SET status = 'REVOKED', revoked_at = ?
			 WHERE identity_id = ? AND status = 'PENDING'`,
			now, identityID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO totp_secrets (identity_id, secret, status, created_at) VALUES (?, ?, 'PENDING', ?)`,
			identityID, secret, now)
		return err
	})
}

// ActivateTOTPSecret promotes the PENDING secret equal to secret and demotes
// the prior ACTIVE one in the same transaction.
func (s *Store) ActivateTOTPSecret(ctx context.Context, identityID string, secret []byte) error {
	now := unixMilli(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		active, err := secretByStatus(ctx, tx, identityID, authlab.SecretActive)
		if err != nil {
			return err
		}
		if active != nil && bytes.Equal(active.Secret, secret) {
			return authlab.ErrSecretAlreadyActive
		}
		pending, err := secretByStatus(ctx, tx, identityID, authlab.SecretPending)
		if err != nil {
			return err
		}
		if pending == nil || !bytes.Equal(pending.Secret, secret) {
			return authlab.ErrSecretNotPending
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE totp_secrets SET status = 'REVOKED', revoked_at = ?
			 WHERE identity_id = ? AND status = 'ACTIVE'`,
			now, identityID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE totp_secrets SET status = 'ACTIVE', activated_at = ?
			 WHERE identity_id = ? AND status = 'PENDING'`,
			now, identityID)
		return err
	})
}

func requireIdentity(ctx context.Context, q queryer, identityID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE id = ?`, identityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return authlab.ErrIdentityNotFound
	}
	return err
}
