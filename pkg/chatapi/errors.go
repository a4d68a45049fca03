package chatapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoToken is returned when no auth token is configured.
var ErrNoToken = errors.New("no auth token configured")

// ErrMalformed marks a response that could not be decoded or did not report
// success.
var ErrMalformed = errors.New("malformed response")

// Class groups failures by how the caller should react to them.
type Class string

const (
	ClassNone        Class = ""
	ClassAuth        Class = "auth"
	ClassForbidden   Class = "forbidden"
	ClassNotFound    Class = "not_found"
	ClassRateLimited Class = "rate_limited"
	ClassTransient   Class = "transient"
	ClassMalformed   Class = "malformed"
	ClassFailed      Class = "failed"
)

// StatusError is a non-success HTTP response from the remote API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: API error (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// Class maps the status code onto a failure class.
func (e *StatusError) Class() Class {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ClassAuth
	case e.StatusCode == http.StatusForbidden:
		return ClassForbidden
	case e.StatusCode == http.StatusNotFound:
		return ClassNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return ClassRateLimited
	case e.StatusCode >= 500:
		return ClassTransient
	default:
		return ClassFailed
	}
}

// Classify returns the failure class of err. Malformed or unsuccessful
// payloads are a definitive answer and get their own class; other errors
// without an HTTP status are transport failures and transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Class()
	}
	if errors.Is(err, ErrNoToken) {
		return ClassAuth
	}
	if errors.Is(err, ErrMalformed) {
		return ClassMalformed
	}
	return ClassTransient
}

// IsForbidden reports whether err is a 403 response.
func IsForbidden(err error) bool { return Classify(err) == ClassForbidden }

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool { return Classify(err) == ClassRateLimited }

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool { return Classify(err) == ClassNotFound }

// UserMessage returns the user-facing text for err.
func UserMessage(err error) string {
	switch Classify(err) {
	case ClassNone:
		return ""
	case ClassAuth:
		return "Authentication failed. Please login again."
	case ClassForbidden:
		return "You are not authorized to perform this action."
	case ClassNotFound:
		return "The requested item was not found. It may have been deleted."
	case ClassRateLimited:
		return "Too many requests. Please slow down and try again in a moment."
	case ClassTransient:
		return "Network connection failed. Please check your internet connection."
	case ClassMalformed:
		return "The server sent an unexpected response. Please try again later."
	default:
		return "Something went wrong. Please try again."
	}
}
