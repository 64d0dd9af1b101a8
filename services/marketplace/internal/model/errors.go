package model

import "errors"

// Domain error taxonomy. Storage and the coordinator wrap these so handlers
// can map them to HTTP status codes with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrUnavailable       = errors.New("dependency unavailable")
)
