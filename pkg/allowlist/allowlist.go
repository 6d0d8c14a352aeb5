// Package allowlist suppresses findings that match operator-approved entries.
//
// Matched findings are removed regardless of severity. An entry is active when
// it is enabled and either has no expiry or expires in the future. The active
// snapshot is pulled once per call and attached to the pipeline context.
package allowlist

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"datasentry-hq/sentry/pkg/pipeline"
)

// EntryType selects how Value is compared against a finding.
type EntryType string

const (
	// TypeKeyword matches when the finding text contains Value.
	TypeKeyword EntryType = "KEYWORD"

	// TypeExact matches when the finding text equals Value.
	TypeExact EntryType = "EXACT"

	// TypeRegex matches when Value (a regular expression) matches the finding text.
	TypeRegex EntryType = "REGEX"

	// TypeExpression evaluates Value as a CEL boolean expression over the finding.
	TypeExpression EntryType = "EXPRESSION"
)

// Entry is one allowlist entry.
type Entry struct {
	ID    int64     `json:"id" yaml:"id"`
	Name  string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type  EntryType `json:"type" yaml:"type"`
	Value string    `json:"value" yaml:"value"`

	// Category, when set, restricts the entry to findings of that category.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// ScopeType and ScopeID record the owner of the entry (e.g. AGENT/42).
	// They are stored and returned but do not restrict matching.
	ScopeType string `json:"scopeType,omitempty" yaml:"scope_type,omitempty"`
	ScopeID   string `json:"scopeId,omitempty" yaml:"scope_id,omitempty"`

	Enabled    bool       `json:"enabled" yaml:"enabled"`
	ExpireTime *time.Time `json:"expireTime,omitempty" yaml:"expire_time,omitempty"`
}

// Active reports whether the entry is enabled and unexpired at now.
func (e Entry) Active(now time.Time) bool {
	if !e.Enabled {
		return false
	}
	return e.ExpireTime == nil || e.ExpireTime.After(now)
}

// ActiveEntries filters entries down to the active ones.
func ActiveEntries(entries []Entry, now time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Active(now) {
			out = append(out, e)
		}
	}
	return out
}

// Source lists the currently active entries.
type Source interface {
	ListActive(ctx context.Context) ([]Entry, error)
}

// MemorySource is an in-memory Source.
type MemorySource struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemorySource creates a MemorySource holding entries.
func NewMemorySource(entries ...Entry) *MemorySource {
	return &MemorySource{entries: entries, now: time.Now}
}

// Add appends an entry.
func (s *MemorySource) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// Entries returns a copy of every entry, active or not.
func (s *MemorySource) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

// ListActive implements Source.
func (s *MemorySource) ListActive(context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ActiveEntries(s.entries, s.now()), nil
}

// Attach stores the entries on the pipeline context.
func Attach(pc *pipeline.Context, entries []Entry) {
	if pc.Metadata == nil {
		pc.Metadata = make(map[string]any)
	}
	pc.Metadata[pipeline.MetaAllowlists] = entries
}

// FromContext returns the entries attached to the pipeline context.
func FromContext(pc *pipeline.Context) []Entry {
	entries, _ := pc.Metadata[pipeline.MetaAllowlists].([]Entry)
	return entries
}

func categoryMatches(entry Entry, f pipeline.Finding) bool {
	if strings.TrimSpace(entry.Category) == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(entry.Category), f.Category)
}

type entriesFile struct {
	Allowlists []Entry `yaml:"allowlists"`
}

// ParseEntries decodes the "allowlists" section of a YAML catalog. Entries
// without an explicit type default to KEYWORD.
func ParseEntries(data []byte) ([]Entry, error) {
	var f entriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse allowlists: %w", err)
	}
	for i := range f.Allowlists {
		e := &f.Allowlists[i]
		e.Type = EntryType(strings.ToUpper(strings.TrimSpace(string(e.Type))))
		switch e.Type {
		case "":
			e.Type = TypeKeyword
		case TypeKeyword, TypeExact, TypeRegex, TypeExpression:
		default:
			return nil, fmt.Errorf("allowlist %d: unknown type %q", e.ID, e.Type)
		}
	}
	return f.Allowlists, nil
}

// LoadFile reads the allowlists of a YAML catalog file into a MemorySource.
func LoadFile(path string) (*MemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allowlists %q: %w", path, err)
	}
	entries, err := ParseEntries(data)
	if err != nil {
		return nil, err
	}
	return NewMemorySource(entries...), nil
}
