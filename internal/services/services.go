package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/shared"
)

// Authorizer runs a call with a current access token.
//
// auth.Gate is the production implementation and retries once on [shared.ErrUnauthorized].
type Authorizer interface {
	Do(ctx context.Context, call func(ctx context.Context, token string) error) error
}

// StaticToken authorizes every call with a fixed token and never retries.
type StaticToken string

func (t StaticToken) Do(ctx context.Context, call func(ctx context.Context, token string) error) error {
	return call(ctx, string(t))
}

// ClientOpts holds dependencies shared by the backend clients.
type ClientOpts struct {
	Now    func() time.Time
	Logger *log.Logger
}

func (o ClientOpts) withDefaults() ClientOpts {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = shared.DiscardLogger()
	}
	return o
}

// firstString returns the first non-empty value among keys, formatting numbers without a fraction.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

// percent prefers an explicit progress value and falls back to completed/total.
func percent(progress *float64, completed, total int) float64 {
	if progress != nil {
		return min(max(*progress, 0), 100)
	}
	if total <= 0 {
		return 0
	}
	return min(float64(completed)*100/float64(total), 100)
}
