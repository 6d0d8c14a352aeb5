package allowlist

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"datasentry-hq/sentry/pkg/pipeline"
)

// Matcher filters findings against allowlist entries. Compiled regular
// expressions and CEL programs are cached by entry value.
type Matcher struct {
	logger *slog.Logger
	now    func() time.Time

	env *cel.Env

	mu       sync.RWMutex
	regexes  map[string]*regexp.Regexp
	programs map[string]cel.Program
	invalid  map[string]bool
}

// NewMatcher creates a Matcher.
func NewMatcher(logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("category", cel.StringType),
		cel.Variable("severity", cel.DoubleType),
		cel.Variable("text", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("has_span", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("create expression environment: %w", err)
	}
	return &Matcher{
		logger:   logger.With("component", "allowlist.matcher"),
		now:      time.Now,
		env:      env,
		regexes:  make(map[string]*regexp.Regexp),
		programs: make(map[string]cel.Program),
		invalid:  make(map[string]bool),
	}, nil
}

// Filter returns the findings not matched by any active entry. text is the
// screened text the finding spans refer to.
func (m *Matcher) Filter(text string, findings []pipeline.Finding, entries []Entry) []pipeline.Finding {
	active := ActiveEntries(entries, m.now())
	if len(active) == 0 || len(findings) == 0 {
		return findings
	}
	out := make([]pipeline.Finding, 0, len(findings))
	for _, f := range findings {
		if m.matchesAny(text, f, active) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (m *Matcher) matchesAny(text string, f pipeline.Finding, entries []Entry) bool {
	for _, e := range entries {
		if m.Match(text, f, e) {
			return true
		}
	}
	return false
}

// Match reports whether a single entry matches the finding. Activity is not
// checked here.
func (m *Matcher) Match(text string, f pipeline.Finding, e Entry) bool {
	if !categoryMatches(e, f) {
		return false
	}
	value := strings.TrimSpace(e.Value)
	if value == "" {
		// A category-only entry suppresses its whole category.
		return strings.TrimSpace(e.Category) != ""
	}

	spanText := pipeline.SpanText(text, f)
	switch EntryType(strings.ToUpper(string(e.Type))) {
	case TypeExact:
		return strings.TrimSpace(spanText) == value
	case TypeRegex:
		re := m.regex(value)
		return re != nil && re.MatchString(spanText)
	case TypeExpression:
		return m.evalExpression(value, spanText, f)
	default:
		return strings.Contains(spanText, value)
	}
}

func (m *Matcher) regex(pattern string) *regexp.Regexp {
	m.mu.RLock()
	re, ok := m.regexes[pattern]
	bad := m.invalid[pattern]
	m.mu.RUnlock()
	if ok || bad {
		return re
	}

	re, err := regexp.Compile(pattern)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.invalid[pattern] = true
		m.logger.Warn("invalid allowlist pattern", "pattern", pattern, "error", err)
		return nil
	}
	m.regexes[pattern] = re
	return re
}

func (m *Matcher) program(expr string) cel.Program {
	m.mu.RLock()
	prg, ok := m.programs[expr]
	bad := m.invalid[expr]
	m.mu.RUnlock()
	if ok || bad {
		return prg
	}

	prg, err := m.compile(expr)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.invalid[expr] = true
		m.logger.Warn("invalid allowlist expression", "expression", expr, "error", err)
		return nil
	}
	m.programs[expr] = prg
	return prg
}

func (m *Matcher) compile(expr string) (cel.Program, error) {
	ast, iss := m.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %v", ast.OutputType())
	}
	return m.env.Program(ast)
}

func (m *Matcher) evalExpression(expr, spanText string, f pipeline.Finding) bool {
	prg := m.program(expr)
	if prg == nil {
		return false
	}
	out, _, err := prg.Eval(map[string]any{
		"category": f.Category,
		"severity": f.SeverityValue(),
		"text":     spanText,
		"source":   f.DetectorSource,
		"has_span": f.HasSpan(),
	})
	if err != nil {
		m.logger.Debug("allowlist expression failed", "expression", expr, "error", err)
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Validate compiles the entry's pattern or expression without caching it.
// KEYWORD and EXACT entries always validate.
func (m *Matcher) Validate(e Entry) error {
	value := strings.TrimSpace(e.Value)
	if value == "" && strings.TrimSpace(e.Category) == "" {
		return fmt.Errorf("entry %d: value or category is required", e.ID)
	}
	switch EntryType(strings.ToUpper(string(e.Type))) {
	case TypeRegex:
		if _, err := regexp.Compile(value); err != nil {
			return fmt.Errorf("entry %d: %w", e.ID, err)
		}
	case TypeExpression:
		if _, err := m.compile(value); err != nil {
			return fmt.Errorf("entry %d: %w", e.ID, err)
		}
	}
	return nil
}
