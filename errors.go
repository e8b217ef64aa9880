package offlinecache

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a lifecycle event does not apply to the controller's current state.
var ErrInvalidTransition = errors.New("Invalid lifecycle transition")

// SeedError is returned when a manifest resource could not be fetched or stored during setup.
type SeedError struct {
	// Manifest resource that failed.
	Resource string
	// Status code of the response, if the failure was a non-success response.
	StatusCode int
	Err        error
}

func (e *SeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Could not seed %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("Could not seed %s: status %d", e.Resource, e.StatusCode)
}

func (e *SeedError) Unwrap() error {
	return e.Err
}

// NetworkError is returned when a network fetch failed and no cached response could be used instead.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("Could not fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
