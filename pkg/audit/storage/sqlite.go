package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"datasentry-hq/sentry/pkg/audit"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStorage implements audit.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the database, applies pragmas and creates the schema.
func NewSQLiteStorage(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteStorage, error) {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))

	s := &SQLiteStorage{
		db:     db,
		config: cfg,
		logger: logger.With("component", "audit.storage.sqlite"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQLite audit storage initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewStorageError("sqlite", "enable_wal", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return audit.NewStorageError("sqlite", "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(Schema); err != nil {
		return audit.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return audit.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Store persists a record.
func (s *SQLiteStorage) Store(ctx context.Context, r *audit.Record) error {
	categories, _ := json.Marshal(r.Categories)
	findings, _ := json.Marshal(r.Findings)
	modeCounts, _ := json.Marshal(r.ModeCounts)
	metrics, _ := json.Marshal(r.Metrics)

	var version, errVal any
	if r.VersionNo != nil {
		version = *r.VersionNo
	}
	if r.Error != "" {
		errVal = r.Error
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_records ("+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.RequestID, r.TraceID, r.AgentID, r.Operation,
		r.RequestTime.UTC(), r.RecordedTime.UTC(), r.Duration.Milliseconds(),
		r.PolicyID, r.PolicyName, version, r.Resolution, r.BindingType, r.Scene,
		r.Verdict, string(categories), string(findings), r.MaxSeverity,
		r.TextHash, r.TextLength, r.Sanitized,
		r.L3Attempted, r.L3AllParseFailed, string(modeCounts), string(metrics),
		errVal,
	)
	if err != nil {
		return audit.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns matching records, sorted and paginated.
func (s *SQLiteStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	q := *query
	q.ApplyDefaults()

	where, args := buildWhereClause(&q)
	stmt := "SELECT " + recordColumns + " FROM audit_records"
	if where != "" {
		stmt += " WHERE " + where
	}
	sortBy := q.SortBy
	if sortBy == "duration" {
		sortBy = "duration_ms"
	}
	// SortBy and SortOrder are restricted by Validate.
	stmt += fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT %d OFFSET %d",
		sortBy, strings.ToUpper(q.SortOrder), strings.ToUpper(q.SortOrder), q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, audit.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of matching records.
func (s *SQLiteStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	stmt := "SELECT COUNT(*) FROM audit_records"
	if where != "" {
		stmt += " WHERE " + where
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, audit.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes matching records.
func (s *SQLiteStorage) Delete(ctx context.Context, query *audit.Query) (int64, error) {
	where, args := buildWhereClause(query)
	stmt := "DELETE FROM audit_records"
	if where != "" {
		stmt += " WHERE " + where
	}

	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, audit.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return audit.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite audit storage closed")
	return nil
}

// buildWhereClause returns the conditions (without WHERE) and their arguments.
func buildWhereClause(q *audit.Query) (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, arg any) {
		conditions = append(conditions, cond)
		args = append(args, arg)
	}

	if q.StartTime != nil {
		add("request_time >= ?", q.StartTime.UTC())
	}
	if q.EndTime != nil {
		add("request_time <= ?", q.EndTime.UTC())
	}
	if q.RequestID != "" {
		add("request_id = ?", q.RequestID)
	}
	if q.AgentID != "" {
		add("agent_id = ?", q.AgentID)
	}
	if q.PolicyID != nil {
		add("policy_id = ?", *q.PolicyID)
	}
	if q.Verdict != "" {
		add("verdict = ?", strings.ToUpper(q.Verdict))
	}
	if q.Operation != "" {
		add("operation = ?", q.Operation)
	}
	if q.Category != "" {
		add("categories LIKE ?", `%"`+q.Category+`"%`)
	}
	switch q.Status {
	case "success":
		conditions = append(conditions, "error IS NULL")
	case "error":
		conditions = append(conditions, "error IS NOT NULL")
	}

	return strings.Join(conditions, " AND "), args
}

func scanRecord(rows *sql.Rows) (*audit.Record, error) {
	var r audit.Record
	var durationMs int64
	var version sql.NullInt64
	var traceID, agentID, policyName, resolution, bindingType, scene sql.NullString
	var categories, findings, modeCounts, metrics, textHash, errVal sql.NullString

	err := rows.Scan(
		&r.ID, &r.RequestID, &traceID, &agentID, &r.Operation,
		&r.RequestTime, &r.RecordedTime, &durationMs,
		&r.PolicyID, &policyName, &version, &resolution, &bindingType, &scene,
		&r.Verdict, &categories, &findings, &r.MaxSeverity,
		&textHash, &r.TextLength, &r.Sanitized,
		&r.L3Attempted, &r.L3AllParseFailed, &modeCounts, &metrics,
		&errVal,
	)
	if err != nil {
		return nil, err
	}

	r.Duration = time.Duration(durationMs) * time.Millisecond
	if version.Valid {
		v := int(version.Int64)
		r.VersionNo = &v
	}
	r.TraceID = traceID.String
	r.AgentID = agentID.String
	r.PolicyName = policyName.String
	r.Resolution = resolution.String
	r.BindingType = bindingType.String
	r.Scene = scene.String
	r.TextHash = textHash.String
	r.Error = errVal.String

	if err := unmarshalColumn(categories, &r.Categories); err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	if err := unmarshalColumn(findings, &r.Findings); err != nil {
		return nil, fmt.Errorf("findings: %w", err)
	}
	if err := unmarshalColumn(modeCounts, &r.ModeCounts); err != nil {
		return nil, fmt.Errorf("mode_counts: %w", err)
	}
	if err := unmarshalColumn(metrics, &r.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return &r, nil
}

func unmarshalColumn(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
