package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout of a policy catalog file.
type catalogFile struct {
	Policies []policyFile `yaml:"policies"`
	Bindings []Binding    `yaml:"bindings"`
}

type policyFile struct {
	ID            int64         `yaml:"id"`
	Name          string        `yaml:"name"`
	Enabled       *bool         `yaml:"enabled"`
	DefaultAction string        `yaml:"default_action"`
	Config        *yaml.Node    `yaml:"config"`
	Rules         []ruleFile    `yaml:"rules"`
	Versions      []versionFile `yaml:"versions"`
}

type ruleFile struct {
	ID       int64          `yaml:"id"`
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Category string         `yaml:"category"`
	Enabled  *bool          `yaml:"enabled"`
	Priority int            `yaml:"priority"`
	Config   map[string]any `yaml:"config"`
}

type versionFile struct {
	ID            int64         `yaml:"id"`
	VersionNo     int           `yaml:"version_no"`
	Status        VersionStatus `yaml:"status"`
	DefaultAction string        `yaml:"default_action"`
	Config        *yaml.Node    `yaml:"config"`
	GrayRatio     float64       `yaml:"gray_ratio"`
}

// LoadCatalogFile parses a YAML policy catalog.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read policy catalog %q: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog bytes.
func ParseCatalog(data []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Catalog{}, fmt.Errorf("parse policy catalog: %w", err)
	}

	c := Catalog{
		Rules:      make(map[int64][]Rule),
		GrayRatios: make(map[int64]float64),
		Bindings:   f.Bindings,
	}
	seen := make(map[int64]bool)
	for _, pf := range f.Policies {
		if seen[pf.ID] {
			return Catalog{}, fmt.Errorf("duplicate policy id %d", pf.ID)
		}
		seen[pf.ID] = true

		configJSON, err := encodeConfig(pf.Config)
		if err != nil {
			return Catalog{}, fmt.Errorf("policy %d: %w", pf.ID, err)
		}
		c.Policies = append(c.Policies, Policy{
			ID:            pf.ID,
			Name:          pf.Name,
			Enabled:       boolOr(pf.Enabled, true),
			DefaultAction: pf.DefaultAction,
			ConfigJSON:    configJSON,
		})

		for _, rf := range pf.Rules {
			rt, ok := ParseRuleType(rf.Type)
			if !ok {
				return Catalog{}, fmt.Errorf("policy %d rule %d: unknown rule type %q", pf.ID, rf.ID, rf.Type)
			}
			ruleJSON := ""
			if len(rf.Config) > 0 {
				b, err := json.Marshal(rf.Config)
				if err != nil {
					return Catalog{}, fmt.Errorf("policy %d rule %d: encode config: %w", pf.ID, rf.ID, err)
				}
				ruleJSON = string(b)
			}
			c.Rules[pf.ID] = append(c.Rules[pf.ID], Rule{
				ID:         rf.ID,
				Name:       rf.Name,
				Type:       rt,
				Category:   rf.Category,
				Enabled:    boolOr(rf.Enabled, true),
				Priority:   rf.Priority,
				ConfigJSON: ruleJSON,
			})
		}

		for _, vf := range pf.Versions {
			v := Version{
				ID:            vf.ID,
				PolicyID:      pf.ID,
				VersionNo:     vf.VersionNo,
				Status:        vf.Status,
				DefaultAction: vf.DefaultAction,
			}
			if vf.Config != nil {
				inner, err := encodeConfig(vf.Config)
				if err != nil {
					return Catalog{}, fmt.Errorf("policy %d version %d: %w", pf.ID, vf.ID, err)
				}
				wrapped, _ := json.Marshal(map[string]string{"policyConfigJson": inner})
				v.ConfigJSON = string(wrapped)
			}
			c.Versions = append(c.Versions, v)
			if v.Status == VersionGray {
				c.GrayRatios[v.ID] = vf.GrayRatio
			}
		}
	}
	return c, nil
}

// encodeConfig decodes a YAML config section over the defaults and returns it
// as JSON.
func encodeConfig(node *yaml.Node) (string, error) {
	if node == nil {
		return "", nil
	}
	cfg := DefaultConfig()
	if err := node.Decode(&cfg); err != nil {
		return "", fmt.Errorf("decode config: %w", err)
	}
	b, err := json.Marshal(cfg.Normalize())
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// FileStore is a MemoryStore loaded from a YAML catalog file. Reload swaps the
// catalog atomically; a failed reload keeps the previous catalog.
type FileStore struct {
	*MemoryStore

	path   string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *FileWatcher
}

// NewFileStore loads path into a new FileStore.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		logger:      logger.With("component", "policy.file_store"),
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Reload re-reads the catalog file.
func (fs *FileStore) Reload() error {
	c, err := LoadCatalogFile(fs.path)
	if err != nil {
		return err
	}
	fs.Replace(c)
	fs.logger.Info("policy catalog loaded",
		"path", fs.path,
		"policies", len(c.Policies),
		"bindings", len(c.Bindings),
	)
	return nil
}

// Watch reloads the catalog whenever the file changes. It blocks until ctx is
// cancelled or Close is called.
func (fs *FileStore) Watch(ctx context.Context) error {
	cfg := DefaultFileWatcherConfig()
	cfg.Path = fs.path
	w, err := NewFileWatcher(cfg, fs.logger)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	fs.watcher = w
	fs.mu.Unlock()
	return w.Watch(ctx, fs.Reload)
}

// Close stops an active watcher.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	w := fs.watcher
	fs.watcher = nil
	fs.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}
