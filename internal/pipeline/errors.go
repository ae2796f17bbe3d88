package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a failed API call.
type Kind int

const (
	KindCancelled Kind = iota + 1
	KindConnectivity
	KindCredentialsRejected
	KindSessionExpired
	KindAPI
)

var (
	ErrCancelled           = errors.New("request cancelled")
	ErrConnectivity        = errors.New("unable to reach the server")
	ErrCredentialsRejected = errors.New("credentials rejected")
	ErrSessionExpired      = errors.New("session expired")
	ErrAPI                 = errors.New("API error")
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindConnectivity:
		return "connectivity-failure"
	case KindCredentialsRejected:
		return "credentials-rejected"
	case KindSessionExpired:
		return "session-expired"
	case KindAPI:
		return "api-error"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindCancelled:
		return ErrCancelled
	case KindConnectivity:
		return ErrConnectivity
	case KindCredentialsRejected:
		return ErrCredentialsRejected
	case KindSessionExpired:
		return ErrSessionExpired
	case KindAPI:
		return ErrAPI
	}

	return nil
}

// Error is what every failed call through the Pipeline returns.
type Error struct {
	Kind   Kind
	Method string
	URL    string
	// Status is 0 when no response was received.
	Status  int
	Message string
	Detail  string
	// Notified is true when the user has already been told about the failure.
	Notified bool
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "pipeline error"
	}
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrSessionExpired) works.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Reported tells a call site whether it should stay silent about err: the
// Pipeline already notified the user, or the call was cancelled.
func Reported(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}

	return pe.Notified || pe.Kind == KindCancelled
}
