package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrTokenExpired       = fmt.Errorf("access token expired")
	ErrTokenRefreshFailed = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken     = fmt.Errorf("no refresh token available")

	// Upstream errors
	ErrUpstream = fmt.Errorf("upstream request failed")
	ErrTimeout  = fmt.Errorf("operation timed out")

	// Ingestion errors
	ErrInvalidPayload = fmt.Errorf("invalid payload")
	ErrMalformedEvent = fmt.Errorf("malformed event")
	ErrStorageFailure = fmt.Errorf("storage failure")

	// Lookup errors
	ErrUserNotFound = fmt.Errorf("user not found")
	ErrJobNotFound  = fmt.Errorf("import job not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
