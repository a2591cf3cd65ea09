package classeviva

import "fmt"

// AuthenticationError is returned when login does not succeed.
type AuthenticationError struct {
	// Status is the HTTP status, or 0 if no response arrived.
	Status int
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("classeviva: authentication failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("classeviva: authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// FetchError is returned when a data endpoint (agenda, periods) fails.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("classeviva: fetch %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("classeviva: fetch %s failed: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntervalResolutionError means the agenda interval could not be worked
// out. ResolveInterval recovers from it by falling back to today.
type IntervalResolutionError struct {
	Mode string
	Err  error
}

func (e *IntervalResolutionError) Error() string {
	return fmt.Sprintf("classeviva: resolve %s interval: %v", e.Mode, e.Err)
}

func (e *IntervalResolutionError) Unwrap() error { return e.Err }
