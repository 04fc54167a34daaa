package fwregistry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBaseURL is returned by New for a non-http(s) base URL.
	ErrInvalidBaseURL = errors.New("fwregistry: invalid base url")

	// ErrUnauthorized is returned when the registry rejects the API key.
	ErrUnauthorized = errors.New("fwregistry: unauthorized")

	// ErrBadResponse is returned when the registry answers with a body
	// that cannot be used.
	ErrBadResponse = errors.New("fwregistry: bad response")
)

// StatusError reports an unexpected HTTP status from the registry.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fwregistry: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("fwregistry: unexpected status %d: %s", e.Code, e.Body)
}
