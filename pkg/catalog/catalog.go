package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"datasentry-hq/sentry/pkg/allowlist"
	"datasentry-hq/sentry/pkg/policy"
)

// Config configures the SQLite catalog.
type Config struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteCatalog is a policy catalog persisted in SQLite.
type SQLiteCatalog struct {
	db        *sql.DB
	path      string
	logger    *slog.Logger
	now       func() time.Time
	closeOnce sync.Once
}

var (
	_ policy.Store        = (*SQLiteCatalog)(nil)
	_ policy.BindingStore = (*SQLiteCatalog)(nil)
	_ allowlist.Source    = (*SQLiteCatalog)(nil)
)

// Open opens (and if needed creates) the catalog database.
func Open(cfg Config, logger *slog.Logger) (*SQLiteCatalog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("catalog path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create catalog directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// One connection: pragmas apply per connection and ":memory:" databases
	// are private to the connection that created them.
	db.SetMaxOpenConns(1)

	c := &SQLiteCatalog{
		db:     db,
		path:   cfg.Path,
		logger: logger.With("component", "catalog.sqlite"),
		now:    time.Now,
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	c.logger.Info("policy catalog opened", "path", cfg.Path)
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}
	_, err := c.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		schemaVersion, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// GetPolicy implements policy.Store.
func (c *SQLiteCatalog) GetPolicy(ctx context.Context, policyID int64) (*policy.Policy, error) {
	var (
		p       policy.Policy
		enabled int
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, enabled, default_action, config_json FROM policies WHERE id = ?",
		policyID,
	).Scan(&p.ID, &p.Name, &enabled, &p.DefaultAction, &p.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query policy %d: %w", policyID, err)
	}
	p.Enabled = enabled != 0
	return &p, nil
}

// ListRules implements policy.Store.
func (c *SQLiteCatalog) ListRules(ctx context.Context, policyID int64) ([]policy.Rule, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, rule_type, category, enabled, priority, config_json
		 FROM rules WHERE policy_id = ? ORDER BY id`,
		policyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules of policy %d: %w", policyID, err)
	}
	defer rows.Close()

	var rules []policy.Rule
	for rows.Next() {
		var (
			r        policy.Rule
			ruleType string
			enabled  int
		)
		if err := rows.Scan(&r.ID, &r.Name, &ruleType, &r.Category, &enabled, &r.Priority, &r.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Type = policy.RuleType(ruleType)
		r.Enabled = enabled != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// PublishedVersion implements policy.Store.
func (c *SQLiteCatalog) PublishedVersion(ctx context.Context, policyID int64) (*policy.Version, error) {
	return c.latestVersion(ctx, policyID, policy.VersionPublished)
}

// LatestGrayVersion implements policy.Store.
func (c *SQLiteCatalog) LatestGrayVersion(ctx context.Context, policyID int64) (*policy.Version, error) {
	return c.latestVersion(ctx, policyID, policy.VersionGray)
}

func (c *SQLiteCatalog) latestVersion(ctx context.Context, policyID int64, status policy.VersionStatus) (*policy.Version, error) {
	var (
		v         policy.Version
		statusStr string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, policy_id, version_no, status, default_action, config_json
		 FROM policy_versions WHERE policy_id = ? AND status = ?
		 ORDER BY version_no DESC LIMIT 1`,
		policyID, string(status),
	).Scan(&v.ID, &v.PolicyID, &v.VersionNo, &statusStr, &v.DefaultAction, &v.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query %s version of policy %d: %w", status, policyID, err)
	}
	v.Status = policy.VersionStatus(statusStr)
	return &v, nil
}

// GrayRatio implements policy.Store. The newest ticket for the version wins.
func (c *SQLiteCatalog) GrayRatio(ctx context.Context, policyID, versionID int64) (float64, error) {
	var ratio float64
	err := c.db.QueryRowContext(ctx,
		`SELECT ratio FROM gray_tickets WHERE policy_id = ? AND version_id = ?
		 ORDER BY id DESC LIMIT 1`,
		policyID, versionID,
	).Scan(&ratio)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query gray ticket of version %d: %w", versionID, err)
	}
	return ratio, nil
}

// AddGrayTicket records a new traffic ratio for a gray version.
func (c *SQLiteCatalog) AddGrayTicket(ctx context.Context, policyID, versionID int64, ratio float64) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO gray_tickets (policy_id, version_id, ratio, created_at) VALUES (?, ?, ?, ?)",
		policyID, versionID, ratio, c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert gray ticket for version %d: %w", versionID, err)
	}
	return nil
}

// FindBinding implements policy.BindingStore.
func (c *SQLiteCatalog) FindBinding(ctx context.Context, agentID, bindingType, scene string) (*policy.Binding, error) {
	return c.findBinding(ctx,
		`SELECT agent_id, binding_type, scene, policy_id, is_default FROM bindings
		 WHERE agent_id = ? AND binding_type = ? AND scene = ?`,
		agentID, bindingType, scene,
	)
}

// FindDefaultBinding implements policy.BindingStore.
func (c *SQLiteCatalog) FindDefaultBinding(ctx context.Context, agentID, bindingType string) (*policy.Binding, error) {
	return c.findBinding(ctx,
		`SELECT agent_id, binding_type, scene, policy_id, is_default FROM bindings
		 WHERE agent_id = ? AND binding_type = ? AND is_default = 1
		 ORDER BY scene LIMIT 1`,
		agentID, bindingType,
	)
}

func (c *SQLiteCatalog) findBinding(ctx context.Context, query string, args ...any) (*policy.Binding, error) {
	var (
		b         policy.Binding
		isDefault int
	)
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&b.AgentID, &b.Type, &b.Scene, &b.PolicyID, &isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query binding: %w", err)
	}
	b.Default = isDefault != 0
	return &b, nil
}

// ListActive implements allowlist.Source.
func (c *SQLiteCatalog) ListActive(ctx context.Context) ([]allowlist.Entry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, entry_type, value, category, scope_type, scope_id, enabled, expire_time
		 FROM allowlist_entries
		 WHERE enabled = 1 AND (expire_time IS NULL OR expire_time > ?)
		 ORDER BY id`,
		c.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query allowlists: %w", err)
	}
	defer rows.Close()

	var entries []allowlist.Entry
	for rows.Next() {
		var (
			e         allowlist.Entry
			entryType string
			enabled   int
			expire    sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Name, &entryType, &e.Value, &e.Category,
			&e.ScopeType, &e.ScopeID, &enabled, &expire); err != nil {
			return nil, fmt.Errorf("scan allowlist entry: %w", err)
		}
		e.Type = allowlist.EntryType(entryType)
		e.Enabled = enabled != 0
		if expire.Valid {
			t := time.Unix(0, expire.Int64).UTC()
			e.ExpireTime = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Import replaces the catalog contents with c and entries in one transaction.
func (c *SQLiteCatalog) Import(ctx context.Context, cat policy.Catalog, entries []allowlist.Entry) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"gray_tickets", "policy_versions", "rules", "bindings", "allowlist_entries", "policies"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, p := range cat.Policies {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO policies (id, name, enabled, default_action, config_json) VALUES (?, ?, ?, ?, ?)",
			p.ID, p.Name, boolInt(p.Enabled), p.DefaultAction, p.ConfigJSON,
		); err != nil {
			return fmt.Errorf("insert policy %d: %w", p.ID, err)
		}
	}
	for policyID, rules := range cat.Rules {
		for _, r := range rules {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO rules (id, policy_id, name, rule_type, category, enabled, priority, config_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, policyID, r.Name, string(r.Type), r.Category, boolInt(r.Enabled), r.Priority, r.ConfigJSON,
			); err != nil {
				return fmt.Errorf("insert rule %d: %w", r.ID, err)
			}
		}
	}
	now := c.now().Unix()
	for _, v := range cat.Versions {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO policy_versions (id, policy_id, version_no, status, default_action, config_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, v.PolicyID, v.VersionNo, string(v.Status), v.DefaultAction, v.ConfigJSON,
		); err != nil {
			return fmt.Errorf("insert version %d: %w", v.ID, err)
		}
		ratio, ok := cat.GrayRatios[v.ID]
		if !ok || v.Status != policy.VersionGray {
			continue
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO gray_tickets (policy_id, version_id, ratio, created_at) VALUES (?, ?, ?, ?)",
			v.PolicyID, v.ID, ratio, now,
		); err != nil {
			return fmt.Errorf("insert gray ticket for version %d: %w", v.ID, err)
		}
	}
	for _, b := range cat.Bindings {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO bindings (agent_id, binding_type, scene, policy_id, is_default) VALUES (?, ?, ?, ?, ?)",
			b.AgentID, b.Type, b.Scene, b.PolicyID, boolInt(b.Default),
		); err != nil {
			return fmt.Errorf("insert binding for agent %q: %w", b.AgentID, err)
		}
	}
	for _, e := range entries {
		var expire any
		if e.ExpireTime != nil {
			expire = e.ExpireTime.UnixNano()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO allowlist_entries (id, name, entry_type, value, category, scope_type, scope_id, enabled, expire_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Name, string(e.Type), e.Value, e.Category, e.ScopeType, e.ScopeID, boolInt(e.Enabled), expire,
		); err != nil {
			return fmt.Errorf("insert allowlist entry %d: %w", e.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	c.logger.Info("policy catalog imported",
		"policies", len(cat.Policies),
		"versions", len(cat.Versions),
		"bindings", len(cat.Bindings),
		"allowlists", len(entries),
	)
	return nil
}

// Ping checks the database connection.
func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database. It is safe to call more than once.
func (c *SQLiteCatalog) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.db.Close()
	})
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
