// Package apperr classifies client errors the way they are surfaced to the user.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how the UI reacts to them.
type Kind string

const (
	// KindValidation is detected locally; no request was sent.
	KindValidation Kind = "validation"
	// KindRequest is a server rejection with an optional detail message.
	KindRequest Kind = "request"
	// KindSession means the credential is missing or expired.
	KindSession Kind = "session"
	// KindTransport means the server could not be reached or replied garbage.
	KindTransport Kind = "transport"
)

// GenericMessage is shown when the server gives no usable detail.
const GenericMessage = "Something went wrong. Please try again."

// Error is a classified client error.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Status != 0 {
		msg = fmt.Sprintf("request failed (%d)", e.Status)
	}
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors of the same kind when the target carries no message,
// so errors.Is(err, apperr.ErrSession) works for any session error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" {
		return e == t
	}
	return e.Kind == t.Kind
}

// Kind markers for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrRequest    = &Error{Kind: KindRequest}
	ErrSession    = &Error{Kind: KindSession}
	ErrTransport  = &Error{Kind: KindTransport}
)

// Validation builds a local validation error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Request builds a server rejection. A 401 becomes a session error.
func Request(status int, detail string) *Error {
	if status == http.StatusUnauthorized {
		return &Error{Kind: KindSession, Status: status, Message: detail}
	}
	return &Error{Kind: KindRequest, Status: status, Message: detail}
}

// Session builds a session error with the given message.
func Session(message string) *Error {
	return &Error{Kind: KindSession, Message: message}
}

// Transport wraps a network or decoding failure.
func Transport(message string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err was detected before any request.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsSession reports whether err signals an expired or missing session.
func IsSession(err error) bool {
	return KindOf(err) == KindSession
}

// UserMessage returns the text to show for err. Validation and request errors
// show their message; anything else falls back to GenericMessage.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return GenericMessage
	}
	switch e.Kind {
	case KindValidation, KindRequest:
		if e.Message != "" {
			return e.Message
		}
	case KindSession:
		return "Your session has expired. Run `tradehub login` to sign in again."
	}
	return GenericMessage
}
