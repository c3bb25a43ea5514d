package api

import (
	"errors"
	"fmt"
)

// ErrValidation marks a request rejected on the client before any network call.
var ErrValidation = errors.New("validation failed")

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	// Detail is the backend's {"detail": ...} message, if any.
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindBackend
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	default:
		return "network"
	}
}

// Kind reports which part of the taxonomy err belongs to.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return KindBackend
	}
	return KindNetwork
}

// Detail returns the backend detail message carried by err, or "".
func Detail(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Detail
	}
	return ""
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
