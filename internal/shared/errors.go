package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthExpired    = fmt.Errorf("authentication expired")
	ErrUnauthorized   = fmt.Errorf("unauthorized")
	ErrNoRefreshToken = fmt.Errorf("no refresh token available")
	ErrRefreshFailed  = fmt.Errorf("token refresh failed")

	// Task lifecycle errors
	ErrSubmissionRejected = fmt.Errorf("submission rejected")
	ErrJobNotFound        = fmt.Errorf("job not found")
	ErrTransient          = fmt.Errorf("transient error")
	ErrProtocol           = fmt.Errorf("protocol error")
	ErrPollTimeout        = fmt.Errorf("poll timeout")
	ErrJobFailed          = fmt.Errorf("job failed")

	// Write-back errors
	ErrStoreUnavailable = fmt.Errorf("table store unavailable")
	ErrFieldConflict    = fmt.Errorf("field already exists")
	ErrRecordNotFound   = fmt.Errorf("record not found")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
