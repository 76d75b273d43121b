package auth

import "errors"

var (
	// ErrTokenMissing is returned when a request carries no bearer token.
	ErrTokenMissing = errors.New("auth: missing bearer token")

	// ErrTokenInvalid is returned for tokens that fail parsing, signature,
	// expiry, issuer or subject checks.
	ErrTokenInvalid = errors.New("auth: invalid token")
)
