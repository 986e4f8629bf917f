package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so handlers can map it to an HTTP status
// without inspecting provider-specific detail.
type Kind int

const (
	KindValidation Kind = iota
	KindConfiguration
	KindProviderTimeout
	KindProviderRejected
	KindMalformedResponse
	KindNotFound
)

// Error is the application error carried across service and adapter boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports bad caller input. No side effects are permitted before it.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Configuration reports missing or invalid provider credentials, raised before
// any network call is made.
func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// ProviderTimeout reports a bounded provider wait that was exceeded.
func ProviderTimeout(message string, err error) *Error {
	return &Error{Kind: KindProviderTimeout, Message: message, Err: err}
}

// ProviderRejected reports an explicit decline or error code from a provider.
func ProviderRejected(format string, args ...interface{}) *Error {
	return &Error{Kind: KindProviderRejected, Message: fmt.Sprintf(format, args...)}
}

// MalformedResponse reports an unparseable provider payload.
func MalformedResponse(message string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Message: message, Err: err}
}

// NotFound reports an unknown donation id.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or false if err is not an *Error.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps an error to the HTTP status its class dictates.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindProviderRejected, KindMalformedResponse:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
