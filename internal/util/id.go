package util

import "github.com/google/uuid"

// NewID returns a random identifier for books, jobs, and request ids.
func NewID() string {
	return uuid.NewString()
}
