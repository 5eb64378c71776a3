package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/collectx/internal/services"
	"github.com/desertthunder/collectx/internal/shared"
	"golang.org/x/oauth2"
)

// DefaultRefreshPath is the backend route that exchanges a refresh token.
const DefaultRefreshPath = "/auth/refresh"

// HTTPRefresher refreshes tokens against the task backend.
type HTTPRefresher struct {
	api  *services.APIService
	path string
	now  func() time.Time
}

var _ Refresher = (*HTTPRefresher)(nil)

// NewHTTPRefresher creates a refresher posting to path on api. An empty path uses [DefaultRefreshPath].
func NewHTTPRefresher(api *services.APIService, path string) *HTTPRefresher {
	if path == "" {
		path = DefaultRefreshPath
	}
	return &HTTPRefresher{api: api, path: path, now: time.Now}
}

type refreshResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Data    *struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		TokenType    string `json:"token_type"`
	} `json:"data"`
}

// Refresh exchanges refreshToken for a new pair.
//
// A 400, 401 or 403 response, or a non-zero business code, means the refresh token is no longer accepted
// and yields [shared.ErrAuthExpired]. Network failures and 5xx responses are [shared.ErrTransient].
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	resp, err := r.api.Do(ctx, services.Request{
		Method: http.MethodPost,
		Path:   r.path,
		Body:   map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}

	var body refreshResponse
	decodeErr := json.Unmarshal(resp.Body, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Msg
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: refresh rejected with status %d: %s", shared.ErrAuthExpired, resp.StatusCode, msg)
	case !resp.OK():
		return nil, fmt.Errorf("%w: refresh failed with status %d", shared.ErrTransient, resp.StatusCode)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: refresh response is not JSON: %v", shared.ErrProtocol, decodeErr)
	case body.Code != 0:
		return nil, fmt.Errorf("%w: refresh rejected with code %d: %s", shared.ErrAuthExpired, body.Code, msg)
	case body.Data == nil || body.Data.AccessToken == "":
		return nil, fmt.Errorf("%w: refresh response has no access token", shared.ErrProtocol)
	}

	tok := &oauth2.Token{
		AccessToken:  body.Data.AccessToken,
		RefreshToken: body.Data.RefreshToken,
		TokenType:    body.Data.TokenType,
	}
	if body.Data.ExpiresIn > 0 {
		tok.Expiry = r.now().Add(time.Duration(body.Data.ExpiresIn) * time.Second)
	}
	return tok, nil
}
