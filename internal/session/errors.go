package session

import "errors"

// Session state machine error types
var (
	ErrAlreadyAuthenticated = errors.New("session is already authenticated")
	ErrSessionClosed        = errors.New("session is closed")
)
