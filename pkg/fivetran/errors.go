package fivetran

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed platform call.
type ErrorKind string

const (
	// KindTransport indicates the request never produced a decodable envelope.
	// Examples: connection refused, TLS failure, malformed JSON body.
	KindTransport ErrorKind = "transport"

	// KindMissingData indicates the envelope decoded but carried no payload.
	KindMissingData ErrorKind = "missing_data"

	// KindRemote indicates the platform answered with a non-success status.
	// The platform message is kept on the error and logged by the client.
	KindRemote ErrorKind = "remote"

	// KindValidation indicates the call was rejected locally before any request
	// was sent.
	KindValidation ErrorKind = "validation"
)

// Sentinel errors for errors.Is matching against an *Error kind.
var (
	ErrTransport   = errors.New("fivetran: transport failure")
	ErrMissingData = errors.New("fivetran: missing data")
	ErrRemote      = errors.New("fivetran: remote failure")
	ErrValidation  = errors.New("fivetran: invalid request")

	errNilRequest = errors.New("request is nil")
)

// Error is a classified platform error with request context.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Op is the client operation, e.g. "GetConnector".
	Op string `json:"op"`

	// Method and Path identify the request.
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`

	// Status is the HTTP status code, zero for transport failures.
	Status int `json:"status,omitempty"`

	// Code is the envelope code reported by the platform.
	Code string `json:"code,omitempty"`

	// Message is the envelope message reported by the platform.
	Message string `json:"message,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Method != "" {
		msg += fmt.Sprintf(" (%s %s)", e.Method, e.Path)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error kind. Remote failures also match
// ErrMissingData since callers waiting on a payload get none.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrMissingData:
		return e.Kind == KindMissingData || e.Kind == KindRemote
	case ErrRemote:
		return e.Kind == KindRemote
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

func newTransportError(op, method, path string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Method: method, Path: path, Err: err}
}

func newValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindRemote && e.Status == http.StatusNotFound
	}
	return false
}

// IgnoreNotFound returns nil when err is a remote 404 and err otherwise.
// Delete paths use it so that removing an already removed resource succeeds.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}

// KindOf returns the kind of a classified error, or the empty kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
