package dispatch

import "errors"

// Invalid-request error types for the push endpoint
var (
	ErrMissingTeacherID = errors.New("teacher_id is required")
	ErrMissingPayload   = errors.New("data is required")
)
