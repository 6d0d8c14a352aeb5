package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "provider error with status",
			err:  &ProviderError{Provider: "openai", StatusCode: 503, Message: "overloaded"},
			want: `provider "openai" error (status 503): overloaded`,
		},
		{
			name: "provider error without status",
			err:  &ProviderError{Provider: "openai", Message: "transport error"},
			want: `provider "openai" error: transport error`,
		},
		{
			name: "auth",
			err:  &AuthError{Provider: "gemini", Message: "bad key"},
			want: `provider "gemini" authentication failed: bad key`,
		},
		{
			name: "rate limit",
			err:  &RateLimitError{Provider: "openai", RetryAfter: 2 * time.Second, Message: "slow down"},
			want: `provider "openai" rate limit exceeded (retry after 2s): slow down`,
		},
		{
			name: "unsupported",
			err:  &UnsupportedError{Provider: "local", Feature: FeatureTools},
			want: `provider "local" does not support tools`,
		},
		{
			name: "config",
			err:  &ConfigError{Provider: "gemini", Field: "api_key", Message: "required"},
			want: `provider "gemini" configuration error for field "api_key": required`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("send: %w", &ProviderError{Provider: "openai", Cause: cause})
	if !errors.Is(wrapped, cause) {
		t.Error("ProviderError should unwrap to its cause")
	}

	parseErr := &ParseError{Provider: "openai", Cause: cause}
	if !errors.Is(parseErr, cause) || !strings.Contains(parseErr.Error(), "connection reset") {
		t.Errorf("ParseError did not carry cause: %v", parseErr)
	}

	if !errors.Is(&UnsupportedError{Provider: "p", Feature: FeatureJSONSchema}, ErrFeatureUnsupported) {
		t.Error("UnsupportedError should match ErrFeatureUnsupported")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: &ProviderError{StatusCode: 500}, want: true},
		{name: "transport error", err: &ProviderError{Cause: errors.New("eof")}, want: true},
		{name: "bad request", err: &ProviderError{StatusCode: 400}, want: false},
		{name: "auth", err: &AuthError{}, want: false},
		{name: "rate limit", err: &RateLimitError{}, want: false},
		{name: "unsupported", err: &UnsupportedError{}, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "wrapped deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: false},
		{name: "unknown", err: errors.New("boom"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
