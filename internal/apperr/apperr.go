// Package apperr defines the error kinds surfaced to API clients and the JSON
// envelope they are rendered into.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindPrecondition
	KindConflict
	KindProviderConflict
	KindProvider
	KindPaymentProvider
	KindStorage
)

var kindNames = map[Kind]string{
	KindInternal:         "internal",
	KindValidation:       "validation",
	KindUnauthorized:     "unauthorized",
	KindNotFound:         "not_found",
	KindPrecondition:     "precondition",
	KindConflict:         "conflict",
	KindProviderConflict: "provider_conflict",
	KindProvider:         "provider",
	KindPaymentProvider:  "payment_provider",
	KindStorage:          "storage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindPrecondition:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FieldServer is the envelope key used for errors not tied to an input field.
const FieldServer = "server"

type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.NotFound("", ""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, field, msg string, cause error) *Error {
	if field == "" {
		field = FieldServer
	}
	return &Error{Kind: kind, Field: field, Message: msg, Err: cause}
}

func Validation(field, msg string) *Error { return newError(KindValidation, field, msg, nil) }

func Unauthorized(msg string) *Error { return newError(KindUnauthorized, "", msg, nil) }

func NotFound(field, msg string) *Error { return newError(KindNotFound, field, msg, nil) }

func Precondition(field, msg string) *Error { return newError(KindPrecondition, field, msg, nil) }

func Conflict(field, msg string) *Error { return newError(KindConflict, field, msg, nil) }

func ProviderConflict(msg string, cause error) *Error {
	return newError(KindProviderConflict, "", msg, cause)
}

func Provider(msg string, cause error) *Error { return newError(KindProvider, "", msg, cause) }

func PaymentProvider(msg string, cause error) *Error {
	return newError(KindPaymentProvider, "", msg, cause)
}

func Storage(msg string, cause error) *Error { return newError(KindStorage, "", msg, cause) }

func Internal(msg string, cause error) *Error { return newError(KindInternal, "", msg, cause) }

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

type FieldMessage struct {
	Message string `json:"message"`
}

type Envelope struct {
	Errors map[string]FieldMessage `json:"errors"`
}

// Render converts any error into a status code and envelope. Errors outside
// the taxonomy are reported as a generic server error.
func Render(err error) (int, Envelope) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, Envelope{
			Errors: map[string]FieldMessage{FieldServer: {Message: "Server error"}},
		}
	}
	return e.Kind.Status(), Envelope{
		Errors: map[string]FieldMessage{e.Field: {Message: e.Message}},
	}
}
