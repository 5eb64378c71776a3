package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/collectx/internal/auth"
	"github.com/desertthunder/collectx/internal/shared"
	"golang.org/x/oauth2"
)

var _ auth.Store = (*CredentialRepository)(nil)

// CredentialRepository persists one token pair per scope. Expiry is stored as unix milliseconds, 0 meaning unknown.
type CredentialRepository struct {
	db    *sql.DB
	scope string
}

// NewCredentialRepository returns a store for scope; an empty scope uses "default".
func NewCredentialRepository(db *sql.DB, scope string) *CredentialRepository {
	if scope == "" {
		scope = "default"
	}
	return &CredentialRepository{db: db, scope: scope}
}

func (r *CredentialRepository) Scope() string { return r.scope }

// Load returns the stored token, or (nil, nil) when the scope has none.
func (r *CredentialRepository) Load(ctx context.Context) (*oauth2.Token, error) {
	var (
		access, refresh string
		expiresAt       int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at FROM credentials WHERE scope = ?`, r.scope,
	).Scan(&access, &refresh, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if access == "" && refresh == "" {
		return nil, nil
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if expiresAt > 0 {
		tok.Expiry = time.UnixMilli(expiresAt)
	}
	return tok, nil
}

// Save replaces the scope's token pair.
func (r *CredentialRepository) Save(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return r.Clear(ctx)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return fmt.Errorf("%w: empty token pair", shared.ErrMissingCredentials)
	}

	var expiresAt int64
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry.UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (scope, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, r.scope, tok.AccessToken, tok.RefreshToken, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Clear removes the scope's token pair.
func (r *CredentialRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE scope = ?`, r.scope); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}
