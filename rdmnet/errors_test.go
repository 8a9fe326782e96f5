package rdmnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesKindAndCode(t *testing.T) {
	err := NewArgumentError(CodeInvalidArg, "bad value")
	assert.Contains(t, err.Error(), string(KindArgument))
	assert.Contains(t, err.Error(), CodeInvalidArg)
	assert.Contains(t, err.Error(), "bad value")
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError(CodeConnRefused, "dial failed", cause)
	assert.Same(t, cause, errors.Unwrap(err))
	assert.Same(t, cause, err.SocketErr)
}

func TestErrorIsMatchesOnCode(t *testing.T) {
	err := NewLifecycleError(CodeNotFound, "no such handle")
	assert.True(t, errors.Is(err, &Error{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, &Error{Code: CodeBusy}))
}

func TestErrorWithContextChains(t *testing.T) {
	err := NewArgumentError(CodeInvalidHandle, "out of range").WithContext("handle", 42)
	assert.Equal(t, 42, err.Context["handle"])
}

func TestIsRetryableErrorByKind(t *testing.T) {
	assert.True(t, IsRetryableError(NewNetworkError(CodeSocketError, "reset", nil)))
	assert.True(t, IsRetryableError(NewResourceError(CodeNoMem, "exhausted", nil)))
	assert.False(t, IsRetryableError(NewArgumentError(CodeInvalidArg, "bad")))
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(ErrWouldBlock))
}

func TestIsPermanentErrorByKind(t *testing.T) {
	assert.True(t, IsPermanentError(NewArgumentError(CodeInvalidArg, "bad")))
	assert.True(t, IsPermanentError(NewProtocolError(CodeConnectRejected, "rejected", ReasonScopeMismatch)))
	assert.False(t, IsPermanentError(NewNetworkError(CodeSocketError, "reset", nil)))
	assert.False(t, IsPermanentError(nil))
}

func TestNewProtocolErrorCarriesReason(t *testing.T) {
	err := NewProtocolError(CodeConnectRejected, "scope mismatch", ReasonScopeMismatch)
	assert.Equal(t, ReasonScopeMismatch, err.RDMnetReason)
}
