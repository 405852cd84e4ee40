package errors

import (
	"errors"
	"fmt"
)

// Common error types for the OIDC session engine
var (
	// Configuration errors (fatal, fail startup or tenant resolution)
	ErrConfiguration  = errors.New("configuration error")
	ErrTenantNotFound = errors.New("tenant not found")

	// Authorization flow errors
	ErrStateMismatch = errors.New("state mismatch")

	// Crypto errors
	ErrCrypto     = errors.New("crypto failure")
	ErrDecryption = errors.New("decryption failed")

	// Token errors
	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")

	// Upstream errors (token, user-info or introspection endpoint)
	ErrUpstream = errors.New("upstream endpoint failure")

	// Session errors
	ErrSessionDecode   = errors.New("session decode failed")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnauthenticated = errors.New("not authenticated")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
