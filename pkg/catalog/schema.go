package catalog

// schemaVersion is bumped whenever the DDL below changes.
const schemaVersion = 1

// Schema is the SQLite DDL of the policy catalog.
const Schema = `
CREATE TABLE IF NOT EXISTS policies (
	id             INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	default_action TEXT NOT NULL DEFAULT '',
	config_json    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rules (
	id          INTEGER PRIMARY KEY,
	policy_id   INTEGER NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
	name        TEXT NOT NULL DEFAULT '',
	rule_type   TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	enabled     INTEGER NOT NULL DEFAULT 1,
	priority    INTEGER NOT NULL DEFAULT 0,
	config_json TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rules_policy ON rules(policy_id);

CREATE TABLE IF NOT EXISTS policy_versions (
	id             INTEGER PRIMARY KEY,
	policy_id      INTEGER NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
	version_no     INTEGER NOT NULL,
	status         TEXT NOT NULL,
	default_action TEXT NOT NULL DEFAULT '',
	config_json    TEXT NOT NULL DEFAULT '',
	UNIQUE (policy_id, version_no)
);

CREATE INDEX IF NOT EXISTS idx_versions_policy_status ON policy_versions(policy_id, status, version_no);

CREATE TABLE IF NOT EXISTS gray_tickets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	policy_id  INTEGER NOT NULL,
	version_id INTEGER NOT NULL REFERENCES policy_versions(id) ON DELETE CASCADE,
	ratio      REAL NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gray_tickets_version ON gray_tickets(policy_id, version_id, id);

CREATE TABLE IF NOT EXISTS bindings (
	agent_id     TEXT NOT NULL,
	binding_type TEXT NOT NULL,
	scene        TEXT NOT NULL DEFAULT '',
	policy_id    INTEGER NOT NULL,
	is_default   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (agent_id, binding_type, scene)
);

CREATE TABLE IF NOT EXISTS allowlist_entries (
	id          INTEGER PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	entry_type  TEXT NOT NULL,
	value       TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	scope_type  TEXT NOT NULL DEFAULT '',
	scope_id    TEXT NOT NULL DEFAULT '',
	enabled     INTEGER NOT NULL DEFAULT 1,
	expire_time INTEGER
);

CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`
