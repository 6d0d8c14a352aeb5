package storage

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema creates the audit tables and indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    trace_id TEXT,
    agent_id TEXT,
    operation TEXT NOT NULL,

    request_time TIMESTAMP NOT NULL,
    recorded_time TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,

    policy_id INTEGER,
    policy_name TEXT,
    version_no INTEGER,
    resolution TEXT,
    binding_type TEXT,
    scene TEXT,

    verdict TEXT NOT NULL,
    categories TEXT,
    findings TEXT,
    max_severity REAL,

    text_hash TEXT,
    text_length INTEGER,
    sanitized BOOLEAN,

    l3_attempted BOOLEAN,
    l3_all_parse_failed BOOLEAN,
    mode_counts TEXT,
    metrics TEXT,

    error TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_request_time ON audit_records(request_time);
CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_records(request_id);
CREATE INDEX IF NOT EXISTS idx_audit_agent_id ON audit_records(agent_id);
CREATE INDEX IF NOT EXISTS idx_audit_policy_id ON audit_records(policy_id);
CREATE INDEX IF NOT EXISTS idx_audit_verdict ON audit_records(verdict);
`

const insertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

const getSchemaVersion = `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;`

const recordColumns = `id, request_id, trace_id, agent_id, operation,
	request_time, recorded_time, duration_ms,
	policy_id, policy_name, version_no, resolution, binding_type, scene,
	verdict, categories, findings, max_severity,
	text_hash, text_length, sanitized,
	l3_attempted, l3_all_parse_failed, mode_counts, metrics,
	error`
