package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassify_HTTP5xxIsTransient(t *testing.T) {
	c := Classify(&HTTPError{StatusCode: 503, Body: "service unavailable"})
	if c.Class != ClassTransient {
		t.Fatalf("expected transient, got %v", c.Class)
	}
}

func TestClassify_HTTP413IsOverflow(t *testing.T) {
	c := Classify(&HTTPError{StatusCode: 413, Body: "payload too large"})
	if c.Class != ClassOverflow {
		t.Fatalf("expected overflow, got %v", c.Class)
	}
}

func TestClassify_ContextTooLongBodyIsOverflow(t *testing.T) {
	c := Classify(&HTTPError{StatusCode: 400, Body: "context_length_exceeded: too many tokens"})
	if c.Class != ClassOverflow {
		t.Fatalf("expected overflow from body text, got %v", c.Class)
	}
}

func TestClassify_AuthErrorIsPermanent(t *testing.T) {
	c := Classify(&HTTPError{StatusCode: 401, Body: "invalid api key"})
	if c.Class != ClassPermanent {
		t.Fatalf("expected permanent, got %v", c.Class)
	}
}

func TestClassify_RateLimitWithoutInvalidIsTransient(t *testing.T) {
	c := Classify(&HTTPError{StatusCode: 429, Body: "rate limit exceeded, please retry"})
	if c.Class != ClassTransient {
		t.Fatalf("expected transient, got %v", c.Class)
	}
}

func TestClassify_RateLimitInvalidRequestIsPermanent(t *testing.T) {
	c := Classify(&HTTPError{StatusCode: 429, Body: "invalid request: quota exhausted permanently"})
	if c.Class != ClassPermanent {
		t.Fatalf("expected permanent, got %v", c.Class)
	}
}

func TestClassify_ContextCanceledIsPermanent(t *testing.T) {
	c := Classify(context.Canceled)
	if c.Class != ClassPermanent {
		t.Fatalf("expected permanent for canceled context, got %v", c.Class)
	}
}

func TestClassify_UnknownModelIsPermanent(t *testing.T) {
	c := Classify(errors.New("unknown model: gpt-nonexistent"))
	if c.Class != ClassPermanent {
		t.Fatalf("expected permanent, got %v", c.Class)
	}
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	d := ParseRetryAfter("30")
	if d != 30*time.Second {
		t.Fatalf("expected 30s, got %v", d)
	}
}

func TestParseRetryAfter_Empty(t *testing.T) {
	if d := ParseRetryAfter(""); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}
