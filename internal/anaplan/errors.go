package anaplan

import (
	"errors"
	"fmt"
)

// ErrConflict is returned when a revision with the requested name already
// exists on the model.
var ErrConflict = errors.New("revision name already exists")

// ErrTokenMissing is returned when authentication succeeds at the HTTP level
// but no token can be found in the response.
var ErrTokenMissing = errors.New("auth token missing in response")

// APIError is a well-formed negative response from the service. Transport
// failures (timeout, connection refused, malformed payload) are returned as
// plain wrapped errors instead.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("service returned %d: %s", e.StatusCode, e.Body)
}
