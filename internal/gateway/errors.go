package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a call failed. Kinds drive logging and the message
// shown to the user; callers treat every failure the same way.
type ErrorKind string

const (
	NotAuthenticated ErrorKind = "NOT_AUTHENTICATED"
	TokenError       ErrorKind = "TOKEN_ERROR"
	HTTPError        ErrorKind = "HTTP_ERROR"
	AuthRejected     ErrorKind = "AUTH_REJECTED"
	NetworkError     ErrorKind = "NETWORK_ERROR"
)

var (
	// ErrEmptyResult is returned by the typed helpers when the backend answered
	// successfully but the expected field is empty.
	ErrEmptyResult = errors.New("empty result from backend")
	// ErrUnexpectedContent is returned by the typed helpers when the response
	// kind does not match the endpoint contract.
	ErrUnexpectedContent = errors.New("unexpected response content")
)

// Error is the failure returned by Client.Call.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Status   int    // HTTP status for HTTPError and AuthRejected
	Message  string // human-readable message, from the backend when it sent one
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.Kind, e.Endpoint, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Endpoint, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a gateway *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == kind
}
