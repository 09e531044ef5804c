package auth

import "errors"

var (
	// ErrConfig indicates invalid or missing auth configuration.
	ErrConfig = errors.New("auth: invalid configuration")

	// ErrInvalidToken covers malformed, forged, and expired tokens alike.
	// Callers must not distinguish these cases to avoid oracle behavior.
	ErrInvalidToken = errors.New("auth: invalid token")
)
