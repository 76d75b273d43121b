package ingest

import "errors"

// ErrDecode is returned for status messages whose topic or payload cannot
// be interpreted. Such messages are logged and discarded.
var ErrDecode = errors.New("ingest: malformed status message")
