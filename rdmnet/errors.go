package rdmnet

import (
	"errors"
	"fmt"
)

// Kind classifies an Error without requiring callers to type-switch on a
// concrete Go error type.
type Kind string

const (
	// KindArgument covers null/zero-value/invalid-handle inputs.
	KindArgument Kind = "ARGUMENT"
	// KindLifecycle covers module/connection state violations (NotInit,
	// IsConn, NotConn, NotFound).
	KindLifecycle Kind = "LIFECYCLE"
	// KindResource covers allocation/mutex failures.
	KindResource Kind = "RESOURCE"
	// KindNetwork covers socket-level failures.
	KindNetwork Kind = "NETWORK"
	// KindProtocol covers RDMnet-level connect rejection.
	KindProtocol Kind = "PROTOCOL"
)

// Lifecycle error codes.
const (
	CodeNotInit  = "NOT_INIT"
	CodeIsConn   = "IS_CONN"
	CodeNotConn  = "NOT_CONN"
	CodeNotFound = "NOT_FOUND"
	CodeBusy     = "BUSY"
)

// Resource error codes.
const (
	CodeNoMem = "NO_MEM"
	CodeSys   = "SYS"
)

// Network error codes.
const (
	CodeWouldBlock  = "WOULD_BLOCK"
	CodeConnRefused = "CONN_REFUSED"
	CodeTimedOut    = "TIMED_OUT"
	CodeSocketError = "SOCKET_ERROR"
)

// Argument error codes.
const (
	CodeInvalidHandle = "INVALID_HANDLE"
	CodeInvalidArg    = "INVALID_ARGUMENT"
)

// Protocol error codes.
const (
	CodeConnectRejected = "CONNECT_REJECTED"
	CodeMalformedPDU    = "MALFORMED_PDU"
)

// sentinel errors usable with errors.Is against the values above.
var (
	ErrNotInit  = errors.New("rdmnet: module not initialized")
	ErrIsConn   = errors.New("rdmnet: connection already established or in progress")
	ErrNotConn  = errors.New("rdmnet: not connected")
	ErrNotFound = errors.New("rdmnet: handle not found")
	ErrBusy     = errors.New("rdmnet: operation in progress")
	ErrWouldBlock = errors.New("rdmnet: operation would block")
)

// Error is a structured rdmnet error carrying a Kind, a short Code, an
// optional wrapped Cause, and free-form Context for diagnostics.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}

	// SocketErr and RDMnetReason carry the two passthrough fields the
	// spec requires on ConnectFailed/Disconnected callbacks.
	SocketErr    error
	RDMnetReason Reason
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rdmnet %s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("rdmnet %s/%s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap implements error unwrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison; two *Error values match on Code, and an
// *Error compares equal to a sentinel whose message its Code implies.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	sentinels := map[error]string{
		ErrNotInit: CodeNotInit, ErrIsConn: CodeIsConn, ErrNotConn: CodeNotConn,
		ErrNotFound: CodeNotFound, ErrBusy: CodeBusy, ErrWouldBlock: CodeWouldBlock,
	}
	if code, ok := sentinels[target]; ok && e.Code == code {
		return true
	}
	return errors.Is(e.Cause, target)
}

// WithContext attaches a diagnostic key/value pair and returns the
// receiver for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// newError is the common constructor behind the Kind-specific helpers.
func newError(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// NewArgumentError builds a KindArgument error, e.g. an invalid handle or
// a zero-length send.
func NewArgumentError(code, message string) *Error {
	return newError(KindArgument, code, message, nil)
}

// NewLifecycleError builds a KindLifecycle error.
func NewLifecycleError(code, message string) *Error {
	return newError(KindLifecycle, code, message, nil)
}

// NewResourceError builds a KindResource error.
func NewResourceError(code, message string, cause error) *Error {
	return newError(KindResource, code, message, cause)
}

// NewNetworkError builds a KindNetwork error carrying the platform socket
// error as Cause.
func NewNetworkError(code, message string, cause error) *Error {
	e := newError(KindNetwork, code, message, cause)
	e.SocketErr = cause
	return e
}

// NewProtocolError builds a KindProtocol error carrying the RDMnet
// rejection reason.
func NewProtocolError(code, message string, reason Reason) *Error {
	e := newError(KindProtocol, code, message, nil)
	e.RDMnetReason = reason
	return e
}

// IsRetryableError reports whether the local core should attempt its own
// backoff+retry rather than surface a terminal failure. Network and
// Resource failures are transient by nature; Argument and Protocol
// failures are not (the caller or the remote broker must change
// something first); Lifecycle failures are situational and are not
// retried automatically by the core itself.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		switch rErr.Kind {
		case KindNetwork, KindResource:
			return true
		default:
			return false
		}
	}
	return errors.Is(err, ErrWouldBlock)
}

// IsPermanentError reports whether err reflects a condition that will not
// resolve itself without caller or remote-side intervention.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	var rErr *Error
	if errors.As(err, &rErr) {
		switch rErr.Kind {
		case KindArgument, KindProtocol:
			return true
		default:
			return false
		}
	}
	return false
}
