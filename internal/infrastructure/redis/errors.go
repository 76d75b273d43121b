package redis

import "errors"

var (
	// ErrNotConfigured is returned by Connect when no address is set.
	ErrNotConfigured = errors.New("redis: address not configured")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("redis: connection failed")
)
