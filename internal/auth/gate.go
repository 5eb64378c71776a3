package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshMargin is how close to expiry a token may get before it is refreshed ahead of use.
const DefaultRefreshMargin = 5 * time.Minute

const refreshKey = "refresh"

// Refresher exchanges a refresh token for a new token pair.
//
// Implementations return an error wrapping [shared.ErrAuthExpired] when the refresh token itself was
// rejected; any other error leaves the stored credentials in place.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// GateOpts configures a [Gate].
type GateOpts struct {
	Store     Store
	Refresher Refresher
	Margin    time.Duration
	Now       func() time.Time
	Logger    *log.Logger
}

// Gate coordinates access to one credential scope.
type Gate struct {
	store     Store
	refresher Refresher
	margin    time.Duration
	now       func() time.Time
	logger    *log.Logger

	mu     sync.RWMutex
	token  *oauth2.Token
	loaded bool

	flight    singleflight.Group
	refreshes atomic.Int64
}

var _ oauth2.TokenSource = (*Gate)(nil)

// NewGate creates a [Gate]. A nil store falls back to an empty [MemoryStore].
func NewGate(opts GateOpts) *Gate {
	if opts.Store == nil {
		opts.Store = NewMemoryStore(nil)
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultRefreshMargin
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	return &Gate{
		store:     opts.Store,
		refresher: opts.Refresher,
		margin:    opts.Margin,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// Authorize returns an access token that is valid for at least the refresh margin.
//
// A token inside the margin is refreshed first; concurrent callers share that refresh.
func (g *Gate) Authorize(ctx context.Context) (string, error) {
	tok, err := g.current(ctx)
	if err != nil {
		return "", err
	}
	if g.fresh(tok) {
		return tok.AccessToken, nil
	}

	stale := ""
	if tok != nil {
		stale = tok.AccessToken
	}
	return g.refresh(ctx, stale, false)
}

// ForceRefresh replaces stale after the backend rejected it.
//
// If another caller already replaced stale, the newer token is returned without a second refresh.
func (g *Gate) ForceRefresh(ctx context.Context, stale string) (string, error) {
	return g.refresh(ctx, stale, true)
}

// Do runs call with an authorized token. A call that fails with [shared.ErrUnauthorized] is retried
// exactly once after a forced refresh; a second 401 clears the scope and returns [shared.ErrAuthExpired].
func (g *Gate) Do(ctx context.Context, call func(ctx context.Context, token string) error) error {
	token, err := g.Authorize(ctx)
	if err != nil {
		return err
	}

	err = call(ctx, token)
	if !errors.Is(err, shared.ErrUnauthorized) {
		return err
	}

	g.logger.Debug("call rejected with 401, forcing refresh")
	token, err = g.ForceRefresh(ctx, token)
	if err != nil {
		return err
	}

	err = call(ctx, token)
	if errors.Is(err, shared.ErrUnauthorized) {
		g.logger.Warn("call rejected again after refresh, clearing credentials")
		if clearErr := g.Clear(ctx); clearErr != nil {
			g.logger.Error("failed to clear credentials", "error", clearErr)
		}
		return fmt.Errorf("%w: %w", shared.ErrAuthExpired, err)
	}
	return err
}

// Token implements [oauth2.TokenSource].
func (g *Gate) Token() (*oauth2.Token, error) {
	if _, err := g.Authorize(context.Background()); err != nil {
		return nil, err
	}
	return g.Snapshot(), nil
}

// Seed stores a new token pair, replacing whatever the scope held.
func (g *Gate) Seed(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return fmt.Errorf("%w: token pair is empty", shared.ErrMissingCredentials)
	}
	if err := g.store.Save(ctx, tok); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	g.mu.Lock()
	g.token = copyToken(tok)
	g.loaded = true
	g.mu.Unlock()
	return nil
}

// Clear drops the cached and persisted credentials.
func (g *Gate) Clear(ctx context.Context) error {
	g.mu.Lock()
	g.token = nil
	g.loaded = true
	g.mu.Unlock()
	return g.store.Clear(ctx)
}

// Snapshot returns a copy of the cached token, or nil when none is held.
func (g *Gate) Snapshot() *oauth2.Token {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyToken(g.token)
}

// Refreshes counts network refreshes performed by this gate.
func (g *Gate) Refreshes() int64 {
	return g.refreshes.Load()
}

func (g *Gate) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return tok.Expiry.Sub(g.now()) > g.margin
}

// current returns the cached token, loading it from the store on first use.
func (g *Gate) current(ctx context.Context) (*oauth2.Token, error) {
	g.mu.RLock()
	if g.loaded {
		tok := g.token
		g.mu.RUnlock()
		return tok, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loaded {
		return g.token, nil
	}

	tok, err := g.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	g.token = tok
	g.loaded = true
	return tok, nil
}

// refresh joins or starts the single in-flight refresh and waits for it or for ctx.
func (g *Gate) refresh(ctx context.Context, stale string, forced bool) (string, error) {
	ch := g.flight.DoChan(refreshKey, func() (any, error) {
		return g.doRefresh(context.WithoutCancel(ctx), stale, forced)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (g *Gate) doRefresh(ctx context.Context, stale string, forced bool) (string, error) {
	tok, err := g.current(ctx)
	if err != nil {
		return "", err
	}

	// A flight that finished just before this one may already have replaced the stale token.
	if tok != nil && tok.AccessToken != stale && g.fresh(tok) {
		return tok.AccessToken, nil
	}
	if !forced && g.fresh(tok) {
		return tok.AccessToken, nil
	}

	if tok == nil || tok.RefreshToken == "" {
		return "", fmt.Errorf("%w: %w", shared.ErrAuthExpired, shared.ErrNoRefreshToken)
	}
	if g.refresher == nil {
		return "", fmt.Errorf("%w: no refresher configured", shared.ErrAuthExpired)
	}

	g.refreshes.Add(1)
	g.logger.Debug("refreshing access token", "forced", forced)

	next, err := g.refresher.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		if errors.Is(err, shared.ErrAuthExpired) {
			g.logger.Warn("refresh token rejected, clearing credentials", "error", err)
			if clearErr := g.Clear(ctx); clearErr != nil {
				g.logger.Error("failed to clear credentials", "error", clearErr)
			}
			return "", err
		}
		return "", fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}
	if next == nil || next.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh returned no access token", shared.ErrProtocol)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}

	if err := g.store.Save(ctx, next); err != nil {
		g.logger.Error("failed to persist refreshed credentials", "error", err)
	}

	g.mu.Lock()
	g.token = copyToken(next)
	g.mu.Unlock()

	g.logger.Info("access token refreshed", "expires", next.Expiry.Format(time.RFC3339))
	return next.AccessToken, nil
}
