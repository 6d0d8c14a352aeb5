package logging

import (
	"errors"
	"log/slog"
	"testing"

	"datasentry-hq/sentry/pkg/config"
)

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor(nil)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bearer", "Authorization: Bearer abc.def-123", "Authorization: Bearer ***"},
		{"api key", "key sk-proj12345678", "key sk-***"},
		{"password", "password=hunter2", "password: ***"},
		{"email", "mail bob@corp.cn now", "mail ***@corp.cn now"},
		{"id card", "id 11010519491231002X", "id [ID_CARD]"},
		{"bank card", "card 6222021234567890123", "card [BANK_CARD]"},
		{"phone", "call 13912345678", "call [PHONE]"},
		{"plain", "nothing to hide", "nothing to hide"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.RedactString(tt.input); got != tt.want {
				t.Errorf("RedactString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactor_CustomPatterns(t *testing.T) {
	r := NewRedactor([]config.RedactPattern{
		{Name: "ticket", Pattern: `TCK-\d+`, Replacement: "TCK-***"},
		{Name: "broken", Pattern: `(`, Replacement: "x"},
	})
	if got := r.RedactString("see TCK-991"); got != "see TCK-***" {
		t.Errorf("got %q", got)
	}
}

func TestRedactor_RedactAttr(t *testing.T) {
	r := NewRedactor(nil)

	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"sensitive key", slog.String("client_secret", "abcdefgh"), "abcd***"},
		{"short secret", slog.String("token", "abc"), "***"},
		{"non-string secret", slog.Int("api_key", 42), "***"},
		{"error value", slog.Any("err", errors.New("bad key sk-abcdefghijk")), "bad key sk-***"},
		{"content", slog.String("raw_output", "{\"findings\":[]}"), "<15 chars>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RedactAttr(tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("RedactAttr() = %q, want %q", got.Value.String(), tt.want)
			}
		})
	}

	group := r.RedactAttr(slog.Group("req", slog.String("password", "p@ssw0rd!")))
	inner := group.Value.Group()
	if len(inner) != 1 || inner[0].Value.String() != "p@ss***" {
		t.Errorf("group not redacted: %v", inner)
	}
}
