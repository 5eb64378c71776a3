// Package auth keeps outbound calls authorized.
//
// [Gate] owns one credential scope: the cached [oauth2.Token], the persisted [Store] behind it, and the
// [Refresher] that exchanges a refresh token for a new pair. Refreshes are single-flight: callers that
// find the token inside the refresh margin, or that receive a 401 mid-call, share one in-flight refresh
// and all resume with its result.
//
// [Gate.Do] wraps a call so that a 401 ([shared.ErrUnauthorized]) triggers exactly one forced refresh and
// one retry. A second 401 clears the scope and surfaces [shared.ErrAuthExpired].
package auth
