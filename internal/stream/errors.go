package stream

import "errors"

var (
	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("stream: server closed")

	// ErrUnsupportedFormat is returned by ParseFormat for unknown names.
	ErrUnsupportedFormat = errors.New("stream: unsupported format")
)
