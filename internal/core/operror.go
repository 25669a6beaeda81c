package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind tags the structured failure categories the classifier matches on.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindHTTPStatus ErrorKind = "http_status"
	KindParse      ErrorKind = "parse"
	KindUnknown    ErrorKind = "unknown"
)

// OpError is the structured form of an operation failure, produced by
// collaborator adapters (LLM client, store, queue) so retry decisions match
// on tags rather than free text. Unstructured errors are adapted via
// FromError, which falls back to message inspection.
type OpError struct {
	Kind    ErrorKind
	Code    int // HTTP status, set when Kind is KindHTTPStatus
	Message string
	Err     error
}

func (e *OpError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("[%s %d] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewTimeoutError creates a timeout-kind operation error.
func NewTimeoutError(message string, cause error) *OpError {
	return &OpError{Kind: KindTimeout, Message: message, Err: cause}
}

// NewConnectionError creates a connection-kind operation error.
func NewConnectionError(message string, cause error) *OpError {
	return &OpError{Kind: KindConnection, Message: message, Err: cause}
}

// NewHTTPStatusError creates an http_status-kind operation error.
func NewHTTPStatusError(code int, message string) *OpError {
	return &OpError{Kind: KindHTTPStatus, Code: code, Message: message}
}

// NewParseError creates a parse-kind operation error for malformed responses.
func NewParseError(message string, cause error) *OpError {
	return &OpError{Kind: KindParse, Message: message, Err: cause}
}

// FromError adapts an arbitrary error into its structured form. Structured
// errors pass through unchanged; well-known stdlib error types map to their
// kinds; everything else is classified by message as a fallback.
func FromError(err error) *OpError {
	if err == nil {
		return nil
	}

	var op *OpError
	if errors.As(err, &op) {
		return op
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &OpError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &OpError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &OpError{Kind: KindConnection, Message: err.Error(), Err: err}
	}
	var netOpErr *net.OpError
	if errors.As(err, &netOpErr) {
		return &OpError{Kind: KindConnection, Message: err.Error(), Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return &OpError{Kind: KindConnection, Message: err.Error(), Err: err}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &OpError{Kind: KindParse, Message: err.Error(), Err: err}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &OpError{Kind: KindParse, Message: err.Error(), Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return &OpError{Kind: KindTimeout, Message: err.Error(), Err: err}
	case containsAny(msg, "connection refused", "connection reset", "broken pipe",
		"no such host", "network is unreachable", "connection closed"):
		return &OpError{Kind: KindConnection, Message: err.Error(), Err: err}
	}

	return &OpError{Kind: KindUnknown, Message: err.Error(), Err: err}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
