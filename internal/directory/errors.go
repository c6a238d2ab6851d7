package directory

import "errors"

// Directory client error types
var (
	ErrNotConfigured = errors.New("directory service is not configured")
	ErrInvalidToken  = errors.New("token rejected by identity provider")
	ErrUnavailable   = errors.New("directory service unavailable")
)
