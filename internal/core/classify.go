package core

import (
	"fmt"
	"net/http"
	"strings"
)

// nonRetryablePatterns mark failures that never self-resolve. They are
// checked before any other classification.
var nonRetryablePatterns = []string{
	"invalid api key",
	"authentication failed",
	"unauthorized",
	"invalid credentials",
	"quota exceeded",
	"billing",
	"payment required",
	"insufficient funds",
	"not configured",
	"not found",
	"out of memory",
	"disk full",
	"no space left",
}

// retryablePatterns suggest a transient condition in unstructured messages.
var retryablePatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporary",
	"temporarily",
	"unavailable",
	"rate limit",
	"too many requests",
	"overloaded",
	"gateway",
	"proxy error",
	"dns",
}

var permanentStatusCodes = map[int]bool{
	400: true, 401: true, 403: true, 404: true,
	405: true, 409: true, 410: true, 422: true,
}

var retryableStatusCodes = map[int]bool{
	408: true, 425: true, 429: true, 500: true, 502: true,
	503: true, 504: true, 507: true, 509: true,
}

// ShouldRetry reports whether err is worth retrying, with a human-readable
// reason for the attempt record. The evaluation order matters: non-retryable
// message patterns override everything, then structured HTTP codes, then
// structured kinds, then retry-suggestive message patterns. Unknown errors
// default to retry: an extra attempt only costs delay, while giving up on a
// transient failure loses the operation.
func ShouldRetry(err error) (bool, string) {
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return false, fmt.Sprintf("non-retryable pattern: %q", pattern)
		}
	}

	op := FromError(err)
	if op.Kind == KindHTTPStatus {
		code := op.Code
		switch {
		case permanentStatusCodes[code]:
			return false, fmt.Sprintf("permanent failure code: %d", code)
		case retryableStatusCodes[code]:
			return true, fmt.Sprintf("retryable http code: %d", code)
		case code >= 400 && code < 500:
			return false, fmt.Sprintf("client error code: %d", code)
		case code >= 500:
			return true, fmt.Sprintf("server error code: %d", code)
		}
	}

	switch op.Kind {
	case KindTimeout, KindConnection, KindParse:
		return true, fmt.Sprintf("retryable %s error", op.Kind)
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true, fmt.Sprintf("retryable pattern: %q", pattern)
		}
	}

	return true, "unknown error, defaulting to retry"
}

// StrategyHint suggests a backoff strategy for errors with a specific
// signal: rate limits need steep backoff, server errors exponential, and
// timeouts often clear quickly so linear wastes less time. The second return
// is false when the error carries no signal and the configured strategy
// should apply.
func StrategyHint(err error) (Strategy, bool) {
	op := FromError(err)
	switch {
	case op.Kind == KindHTTPStatus && op.Code == http.StatusTooManyRequests:
		return StrategyAggressive, true
	case op.Kind == KindHTTPStatus && op.Code >= 500:
		return StrategyExponential, true
	case op.Kind == KindTimeout:
		return StrategyLinear, true
	}
	return StrategyExponential, false
}

// StrategyFor returns the backoff strategy for err, defaulting to
// exponential when no specific signal applies.
func StrategyFor(err error) Strategy {
	s, _ := StrategyHint(err)
	return s
}
