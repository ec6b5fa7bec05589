package providers

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// HTTPError carries a response status and optional Retry-After header,
// grounded on goclaw's anthropic.go HTTPError/ParseRetryAfter shape
// (that implementation was not itself present in the retrieval pack, so
// this is rebuilt fresh from the call-sites that reference it).
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return "provider http error: status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

// ParseRetryAfter parses an HTTP Retry-After header value, which may be
// either an integer number of seconds or an HTTP-date. Returns 0 if the
// header is absent or unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// Classify buckets a raw error from a provider call into the three
// recovery classes the Turn Engine recognizes (spec §4.4/§7).
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Class: ClassPermanent, Reason: "request canceled", Cause: err}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTP(httpErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ClassifiedError{Class: ClassTransient, Reason: "network error: " + err.Error(), Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context too long"), strings.Contains(msg, "context_length_exceeded"),
		strings.Contains(msg, "maximum context length"):
		return &ClassifiedError{Class: ClassOverflow, Reason: err.Error(), Cause: err}
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"), strings.Contains(msg, "timeout"):
		return &ClassifiedError{Class: ClassTransient, Reason: err.Error(), Cause: err}
	default:
		return &ClassifiedError{Class: ClassPermanent, Reason: err.Error(), Cause: err}
	}
}

func classifyHTTP(e *HTTPError) *ClassifiedError {
	retryMs := int(e.RetryAfter / time.Millisecond)
	body := strings.ToLower(e.Body)

	switch {
	case e.StatusCode == 413, strings.Contains(body, "context too long"), strings.Contains(body, "context_length_exceeded"):
		return &ClassifiedError{Class: ClassOverflow, Reason: e.Body, Cause: e}
	case e.StatusCode == 401, e.StatusCode == 403, e.StatusCode == 400, e.StatusCode == 404:
		return &ClassifiedError{Class: ClassPermanent, Reason: e.Body, Cause: e}
	case e.StatusCode == 429:
		if strings.Contains(body, "invalid") {
			return &ClassifiedError{Class: ClassPermanent, Reason: e.Body, Cause: e}
		}
		return &ClassifiedError{Class: ClassTransient, Reason: e.Body, RetryAfterMs: retryMs, Cause: e}
	case e.StatusCode >= 500:
		return &ClassifiedError{Class: ClassTransient, Reason: e.Body, RetryAfterMs: retryMs, Cause: e}
	default:
		return &ClassifiedError{Class: ClassPermanent, Reason: e.Body, Cause: e}
	}
}
