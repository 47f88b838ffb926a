package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorString(t *testing.T) {
	testCases := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "Without cause",
			err:      New(KindValidation, "daysSupply out of range"),
			expected: "[validation_error] daysSupply out of range",
		},
		{
			name:     "With cause",
			err:      Wrap(KindDependency, "packaging lookup failed", fmt.Errorf("connection refused")),
			expected: "[dependency_failure] packaging lookup failed: connection refused",
		},
		{
			name:     "Formatted message",
			err:      Newf(KindParse, "could not interpret sig %q", "qqq"),
			expected: `[parse_error] could not interpret sig "qqq"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Error() != tc.expected {
				t.Errorf("Expected error '%s', got '%s'", tc.expected, tc.err.Error())
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(KindInternal, "wrapped", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the original cause")
	}

	if err.Unwrap() != cause {
		t.Errorf("Expected Unwrap to return the cause, got %v", err.Unwrap())
	}
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"Typed validation error", Validation("bad input"), KindValidation},
		{"Typed rate limit error", RateLimited("quota exhausted", time.Second), KindRateLimit},
		{"Wrapped typed error", fmt.Errorf("outer: %w", Parse("unreadable")), KindParse},
		{"Untyped error", fmt.Errorf("plain"), KindInternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if kind := KindOf(tc.err); kind != tc.expected {
				t.Errorf("Expected kind %s, got %s", tc.expected, kind)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Dependency("both registries failed", nil, 5*time.Second)

	if !IsKind(err, KindDependency) {
		t.Error("Expected IsKind to match dependency_failure")
	}

	if IsKind(err, KindValidation) {
		t.Error("Expected IsKind to reject a different kind")
	}

	if IsKind(fmt.Errorf("plain"), KindDependency) {
		t.Error("Expected IsKind to reject untyped errors")
	}
}

func TestRetryAfterOf(t *testing.T) {
	hint := 1500 * time.Millisecond
	err := RateLimited("window full", hint)

	got, ok := RetryAfterOf(err)
	if !ok {
		t.Fatal("Expected a retry hint")
	}
	if got != hint {
		t.Errorf("Expected retry hint %v, got %v", hint, got)
	}

	// Wrapped hints stay reachable.
	wrapped := fmt.Errorf("outer: %w", err)
	got, ok = RetryAfterOf(wrapped)
	if !ok || got != hint {
		t.Errorf("Expected wrapped retry hint %v, got %v (ok=%v)", hint, got, ok)
	}

	if _, ok := RetryAfterOf(Validation("no hint")); ok {
		t.Error("Expected no retry hint on validation errors")
	}
}

func TestWithRetryAfter(t *testing.T) {
	err := New(KindDependency, "upstream down").WithRetryAfter(2 * time.Second)

	if err.RetryAfter != 2*time.Second {
		t.Errorf("Expected retry after 2s, got %v", err.RetryAfter)
	}
}
