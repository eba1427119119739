package core

import "errors"

// Authentication Related Errors
var (
	// User errors
	ErrUserExists         = errors.New("user already exists")       // 409 Conflict
	ErrUserNotFound       = errors.New("user not found")            // 404 Not Found
	ErrInvalidCredentials = errors.New("invalid email or password") // 401 Unauthorized
	ErrForbidden          = errors.New("forbidden")                 // 403 Forbidden
)

// Session errors
var (
	ErrMissingToken    = errors.New("missing session token") // 401
	ErrInvalidToken    = errors.New("invalid session token") // 401
	ErrSessionNotFound = errors.New("session not found")     // 401
	ErrSessionExpired  = errors.New("session expired")       // 401
	ErrNotSignedIn     = errors.New("not signed in")         // 401
	ErrCacheNotFound   = errors.New("entry not found in cache")
)

// Profile and neighborhood errors
var (
	ErrNeighborhoodNotFound = errors.New("no neighborhood contains this location") // 422
	ErrInvalidCoordinates   = errors.New("invalid coordinates")                    // 400
	ErrInvalidBoundary      = errors.New("invalid neighborhood boundary")          // 400
)

// Validation errors (client input)
var (
	ErrEmailRequired    = errors.New("email is required")     // 400
	ErrPasswordRequired = errors.New("password is required")  // 400
	ErrPasswordTooShort = errors.New("password is too short") // 400
	ErrPasswordTooLong  = errors.New("password is too long")  // 400
	ErrInvalidEmail     = errors.New("invalid email format")  // 400
)

// Config errors (server-side configuration)
var (
	ErrStorageRequired     = errors.New("storage adapter is required") // 500
	ErrHTTPAdapterRequired = errors.New("adapter is required")         // 500
	ErrSecretRequired      = errors.New("secret is required")          // 500
	ErrSecretTooShort      = errors.New("secret too short")            // 500
	ErrInvalidRetryPolicy  = errors.New("invalid retry policy")        // 500
	ErrInvalidMailConfig   = errors.New("invalid mail configuration")  // 500
)

var (
	ErrNotImplemented = errors.New("not implemented") // 501
)
