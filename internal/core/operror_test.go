package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestFromError_StructuredPassthrough(t *testing.T) {
	orig := NewHTTPStatusError(429, "rate limited")
	got := FromError(orig)
	if got != orig {
		t.Error("FromError should return structured errors unchanged")
	}
}

func TestFromError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("llm call failed: %w", NewHTTPStatusError(503, "upstream down"))
	got := FromError(wrapped)
	if got.Kind != KindHTTPStatus || got.Code != 503 {
		t.Errorf("FromError(wrapped) = %v/%d, want http_status/503", got.Kind, got.Code)
	}
}

func TestFromError_ContextDeadline(t *testing.T) {
	got := FromError(fmt.Errorf("request: %w", context.DeadlineExceeded))
	if got.Kind != KindTimeout {
		t.Errorf("FromError(deadline exceeded) = %v, want timeout", got.Kind)
	}
}

func TestFromError_NetErrors(t *testing.T) {
	// A DNS error with the timeout flag must classify as timeout, not
	// connection: the net.Error check runs first.
	timeoutDNS := &net.DNSError{Err: "lookup timed out", Name: "api.example.com", IsTimeout: true}
	if got := FromError(timeoutDNS); got.Kind != KindTimeout {
		t.Errorf("FromError(timeout DNS) = %v, want timeout", got.Kind)
	}

	plainDNS := &net.DNSError{Err: "no such host", Name: "api.example.com"}
	if got := FromError(plainDNS); got.Kind != KindConnection {
		t.Errorf("FromError(DNS) = %v, want connection", got.Kind)
	}

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	if got := FromError(opErr); got.Kind != KindConnection {
		t.Errorf("FromError(net.OpError) = %v, want connection", got.Kind)
	}
}

func TestFromError_JSONErrors(t *testing.T) {
	var v map[string]any
	err := json.Unmarshal([]byte("{not json"), &v)
	if got := FromError(err); got.Kind != KindParse {
		t.Errorf("FromError(json syntax) = %v, want parse", got.Kind)
	}
}

func TestFromError_MessageFallback(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"request timed out talking to upstream", KindTimeout},
		{"read tcp: connection reset by peer", KindConnection},
		{"write: broken pipe", KindConnection},
		{"completely novel failure", KindUnknown},
	}

	for _, tt := range tests {
		got := FromError(errors.New(tt.msg))
		if got.Kind != tt.want {
			t.Errorf("FromError(%q) = %v, want %v", tt.msg, got.Kind, tt.want)
		}
	}
}

func TestFromError_Nil(t *testing.T) {
	if got := FromError(nil); got != nil {
		t.Errorf("FromError(nil) = %v, want nil", got)
	}
}

func TestOpError_Format(t *testing.T) {
	if got := NewHTTPStatusError(429, "rate limited").Error(); got != "[http_status 429] rate limited" {
		t.Errorf("Error() = %q, unexpected format", got)
	}
	if got := NewTimeoutError("deadline hit", nil).Error(); got != "[timeout] deadline hit" {
		t.Errorf("Error() = %q, unexpected format", got)
	}
}

func TestOpError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewConnectionError("dial failed", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}
