package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"datasentry-hq/sentry/pkg/config"
)

// Redactor redacts PII from log attribute values.
type Redactor struct {
	patterns []redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternAPIKey      = "api_key"
	PatternPassword    = "password"
	PatternEmail       = "email"
	PatternIDCard      = "id_card"
	PatternBankCard    = "bank_card"
	PatternPhone       = "phone"
)

// defaultPatterns run in order; identity numbers are matched before the
// shorter card and phone numbers they contain.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternAPIKey, `sk-[a-zA-Z0-9_\-]{8,}`, "sk-***"},
	{PatternPassword, `(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***"},
	{PatternEmail, `[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`, "***@$1"},
	{PatternIDCard, `\b\d{17}[0-9Xx]\b`, "[ID_CARD]"},
	{PatternBankCard, `\b\d{12,19}\b`, "[BANK_CARD]"},
	{PatternPhone, `\b1[3-9]\d{9}\b`, "[PHONE]"},
}

// sensitiveKeys mark attributes whose whole value is masked.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"authorization",
	"private_key", "privatekey",
}

// contentKeys carry screened user content; only their length is logged.
var contentKeys = map[string]bool{
	"text":           true,
	"original_text":  true,
	"sanitized_text": true,
	"raw_output":     true,
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// customPatterns. Invalid custom patterns are skipped.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}
	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}
	return r
}

// RedactString redacts PII from a string value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr returns a with its value redacted. Groups are redacted recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch {
	case v.Kind() == slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, ga := range group {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	case contentKeys[strings.ToLower(a.Key)]:
		if v.Kind() == slog.KindString {
			return slog.String(a.Key, fmt.Sprintf("<%d chars>", utf8.RuneCountInString(v.String())))
		}
		return a
	case isSensitiveKey(a.Key):
		return slog.String(a.Key, maskValue(v))
	case v.Kind() == slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case v.Kind() == slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// maskValue keeps a four character hint of string values.
func maskValue(v slog.Value) string {
	if v.Kind() != slog.KindString {
		return "***"
	}
	s := v.String()
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
