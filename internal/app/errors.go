package app

import "errors"

// Sentinel errors returned by App operations. Handlers map these to HTTP
// status codes; anything else is an internal fault.
var (
	ErrEmptyName      = errors.New("name must not be empty")
	ErrInvalidUser    = errors.New("id and email are required")
	ErrEmptyTitle     = errors.New("title must not be empty")
	ErrBookNotFound   = errors.New("book not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrNoMessages     = errors.New("at least one message is required")
	ErrInvalidMessage = errors.New("messages need a valid role and non-empty content")
	ErrNotReady       = errors.New("book is not ready for download")
)
