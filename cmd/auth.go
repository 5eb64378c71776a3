package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/collectx/internal/repositories"
	"github.com/desertthunder/collectx/internal/shared"
	"github.com/desertthunder/collectx/internal/ui"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

type authStatus struct {
	Scope           string     `json:"scope"`
	HasAccessToken  bool       `json:"has_access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Expired         bool       `json:"expired"`
}

// AuthLogin stores a token pair, taken from the flags or from the environment.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	access, refresh := cmd.String("access-token"), cmd.String("refresh-token")
	if access == "" && refresh == "" {
		access, refresh = shared.EnvTokens()
	}
	if access == "" && refresh == "" {
		return fmt.Errorf("%w: --access-token or --refresh-token is required", shared.ErrMissingArgument)
	}

	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if d := cmd.Duration("expires-in"); d > 0 {
		tok.Expiry = time.Now().Add(d)
	}

	gate, err := r.credentials(ctx)
	if err != nil {
		return err
	}
	if err := gate.Seed(ctx, tok); err != nil {
		return err
	}

	r.logger.Info("credentials stored", "scope", r.config.Auth.Scope)
	return r.writePlain("%s\n", ui.Success("✓ Credentials stored"))
}

// AuthStatus shows what the credential store holds without refreshing anything.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return err
	}
	store := repositories.NewCredentialRepository(db, r.config.Auth.Scope)
	tok, err := store.Load(ctx)
	if err != nil {
		return err
	}

	status := authStatus{Scope: store.Scope()}
	if tok != nil {
		status.HasAccessToken = tok.AccessToken != ""
		status.HasRefreshToken = tok.RefreshToken != ""
		if !tok.Expiry.IsZero() {
			expiry := tok.Expiry
			status.ExpiresAt = &expiry
			status.Expired = time.Now().After(expiry)
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	r.writePlainHeader("Credentials: " + status.Scope)
	if tok == nil {
		return r.writePlain("%s\n", ui.Warning("Not logged in"))
	}
	r.writePlain("Access token:  %s\n", present(status.HasAccessToken))
	r.writePlain("Refresh token: %s\n", present(status.HasRefreshToken))
	switch {
	case status.ExpiresAt == nil:
		r.writePlain("Expires:       %s\n", ui.Muted("unknown"))
	case status.Expired:
		r.writePlain("Expires:       %s\n", ui.Failure("expired "+status.ExpiresAt.Format(time.RFC3339)))
	default:
		r.writePlain("Expires:       %s (in %s)\n", status.ExpiresAt.Format(time.RFC3339), time.Until(*status.ExpiresAt).Round(time.Second))
	}
	return nil
}

// AuthRefresh forces a refresh of the stored token pair.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	gate, err := r.credentials(ctx)
	if err != nil {
		return err
	}

	current, err := repositories.NewCredentialRepository(r.db, r.config.Auth.Scope).Load(ctx)
	if err != nil {
		return err
	}
	stale := ""
	if current != nil {
		stale = current.AccessToken
	}

	if _, err := gate.ForceRefresh(ctx, stale); err != nil {
		return err
	}

	tok := gate.Snapshot()
	r.logger.Info("credentials refreshed", "scope", r.config.Auth.Scope)
	if tok != nil && !tok.Expiry.IsZero() {
		return r.writePlain("%s (expires %s)\n", ui.Success("✓ Credentials refreshed"), tok.Expiry.Format(time.RFC3339))
	}
	return r.writePlain("%s\n", ui.Success("✓ Credentials refreshed"))
}

// AuthLogout removes the stored credentials.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	gate, err := r.credentials(ctx)
	if err != nil {
		return err
	}
	if err := gate.Clear(ctx); err != nil {
		return err
	}
	r.logger.Info("credentials cleared", "scope", r.config.Auth.Scope)
	return r.writePlain("✓ Logged out\n")
}

func present(ok bool) string {
	if ok {
		return ui.Success("present")
	}
	return ui.Muted("missing")
}
