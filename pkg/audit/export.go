package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"
)

// JSONExporter writes records as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// Export implements Exporter.
func (e *JSONExporter) Export(_ context.Context, records []*Record, w io.Writer) error {
	if records == nil {
		records = []*Record{}
	}
	enc := json.NewEncoder(w)
	if e.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(records); err != nil {
		return &ExportError{Format: "json", RecordCount: len(records), Cause: err}
	}
	return nil
}

// CSVExporter writes one row per record. Findings are flattened to
// category:severity pairs.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

var csvHeader = []string{
	"id", "request_id", "trace_id", "agent_id", "operation",
	"request_time", "duration_ms",
	"policy_id", "version_no", "resolution",
	"verdict", "categories", "findings", "max_severity",
	"text_hash", "text_length", "sanitized",
	"l3_attempted", "l3_all_parse_failed", "error",
}

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, records []*Record, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
		}
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(csvRow(rec)); err != nil {
			return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
	}
	return nil
}

func csvRow(rec *Record) []string {
	version := ""
	if rec.VersionNo != nil {
		version = strconv.Itoa(*rec.VersionNo)
	}
	findings := make([]string, 0, len(rec.Findings))
	for _, f := range rec.Findings {
		findings = append(findings, f.Category+":"+strconv.FormatFloat(f.Severity, 'f', 2, 64))
	}
	return []string{
		rec.ID, rec.RequestID, rec.TraceID, rec.AgentID, rec.Operation,
		rec.RequestTime.UTC().Format(time.RFC3339Nano), strconv.FormatInt(rec.Duration.Milliseconds(), 10),
		strconv.FormatInt(rec.PolicyID, 10), version, rec.Resolution,
		rec.Verdict, strings.Join(rec.Categories, ","), strings.Join(findings, ","),
		strconv.FormatFloat(rec.MaxSeverity, 'f', 2, 64),
		rec.TextHash, strconv.Itoa(rec.TextLength), strconv.FormatBool(rec.Sanitized),
		strconv.FormatBool(rec.L3Attempted), strconv.FormatBool(rec.L3AllParseFailed), rec.Error,
	}
}

// NewExporter returns the exporter for format ("json" or "csv").
func NewExporter(format string) (Exporter, bool) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONExporter{Pretty: true}, true
	case "csv":
		return &CSVExporter{IncludeHeader: true}, true
	default:
		return nil, false
	}
}
