package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout           = errors.New("request timed out")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrContainerNotFound = errors.New("container not found")
	ErrNotFound          = errors.New("not found")
	ErrInvalidURL        = errors.New("invalid URL")
)

// FetchError wraps network and navigation failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TimeoutError is returned when a fetch or render exceeds its budget.
// errors.Is(err, ErrTimeout) holds for every TimeoutError.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s for %s: %v", e.Timeout, e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ParsingError is returned when a page cannot be extracted at all, or when
// no strategy is registered for the URL.
type ParsingError struct {
	URL    string
	Source string
	Err    error
}

func (e *ParsingError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("parse error for %s (source=%s): %v", e.URL, e.Source, e.Err)
	}
	return fmt.Sprintf("parse error for %s: %v", e.URL, e.Err)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// PersistenceError wraps document store failures.
type PersistenceError struct {
	Op         string
	Collection string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error (%s on %s): %v", e.Op, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ResolutionError is returned when a redirect target cannot be resolved.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve redirect for %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
