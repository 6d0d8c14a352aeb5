// Package sanitize masks personal data in text before it leaves the process
// for an external LLM provider.
package sanitize

import (
	"regexp"
	"strings"
)

// ModeMaskPII replaces phone numbers, emails, ID cards and bank cards with
// placeholder tokens.
const ModeMaskPII = "MASK_PII"

// Placeholder tokens substituted for masked values.
const (
	TokenPhone    = "[PHONE]"
	TokenEmail    = "[EMAIL]"
	TokenIDCard   = "[ID_CARD]"
	TokenBankCard = "[BANK_CARD]"
)

var (
	phonePattern    = regexp.MustCompile(`1\d{10}`)
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	idCardPattern   = regexp.MustCompile(`\d{17}[0-9Xx]`)
	bankCardPattern = regexp.MustCompile(`\d{12,19}`)
)

// Supported reports whether mode names a known sanitization mode.
func Supported(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), ModeMaskPII)
}

// Apply sanitizes text according to mode. Unknown or blank modes return the
// text unchanged.
func Apply(text, mode string) string {
	if text == "" || !Supported(mode) {
		return text
	}
	return MaskPII(text)
}

// MaskPII masks phones, then emails, then ID cards, then bank cards. Digit
// patterns only match whole digit runs, so a run longer than a pattern is left
// for the later patterns or kept as is.
func MaskPII(text string) string {
	out := replaceBounded(phonePattern, text, TokenPhone)
	out = emailPattern.ReplaceAllString(out, TokenEmail)
	out = replaceBounded(idCardPattern, out, TokenIDCard)
	return replaceBounded(bankCardPattern, out, TokenBankCard)
}

// replaceBounded replaces matches of re with token unless the match is
// adjacent to another digit.
func replaceBounded(re *regexp.Regexp, text, token string) string {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && isDigit(text[start-1]) {
			continue
		}
		if end < len(text) && isDigit(text[end]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(token)
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
