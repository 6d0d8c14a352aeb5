package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
)

func finishedContext() *pipeline.Context {
	versionNo := 3
	pc := pipeline.NewContext("call me at 555-0100", &policy.Snapshot{
		PolicyID:  7,
		Name:      "default",
		VersionNo: &versionNo,
	})
	pc.RequestID = "req-1"
	pc.AgentID = "agent-9"
	pc.Verdict = pipeline.VerdictReview
	pc.Findings = []pipeline.Finding{
		{Category: "PII_PHONE", Severity: pipeline.Float(0.6), Start: pipeline.Int(11), End: pipeline.Int(19), DetectorSource: pipeline.SourceL1Regex, RuleID: 1},
		{Category: "PII_PHONE", Severity: pipeline.Float(0.4), DetectorSource: pipeline.SourceL3LLM, RuleID: 2},
	}
	pc.SetFlag(pipeline.MetaL3Attempted, true)
	pc.AddMetric(pipeline.MetricL1Count, 1)
	pc.L3ModeCounts["CHAT_ENTITY"] = 1
	return pc
}

func TestNewRecord(t *testing.T) {
	pc := finishedContext()
	started := time.Now().Add(-50 * time.Millisecond)

	rec := NewRecord(pc, OperationCheck, started)

	if rec.ID == "" || rec.RequestID != "req-1" || rec.AgentID != "agent-9" {
		t.Errorf("identity = %+v", rec)
	}
	if rec.PolicyID != 7 || rec.PolicyName != "default" || rec.VersionNo == nil || *rec.VersionNo != 3 {
		t.Errorf("policy = %d %q %v", rec.PolicyID, rec.PolicyName, rec.VersionNo)
	}
	if rec.Verdict != "REVIEW" {
		t.Errorf("verdict = %q", rec.Verdict)
	}
	if len(rec.Categories) != 1 || rec.Categories[0] != "PII_PHONE" {
		t.Errorf("categories = %v", rec.Categories)
	}
	if len(rec.Findings) != 2 || rec.MaxSeverity != 0.6 {
		t.Errorf("findings = %+v max = %v", rec.Findings, rec.MaxSeverity)
	}
	if rec.TextHash != HashText("call me at 555-0100") || rec.TextLength != 19 {
		t.Errorf("content = %q %d", rec.TextHash, rec.TextLength)
	}
	if !rec.L3Attempted || rec.L3AllParseFailed {
		t.Errorf("l3 flags = %v %v", rec.L3Attempted, rec.L3AllParseFailed)
	}
	if rec.Duration < 50*time.Millisecond {
		t.Errorf("duration = %v", rec.Duration)
	}

	// The record must not alias the context's maps.
	pc.L3ModeCounts["CHAT_ENTITY"] = 5
	if rec.ModeCounts["CHAT_ENTITY"] != 1 {
		t.Error("record shares the context's mode counts")
	}
}

func TestHashText(t *testing.T) {
	if HashText("") != "" {
		t.Error("empty text should hash to empty string")
	}
	h := HashText("abc")
	if h != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("HashText(abc) = %s", h)
	}
	long := strings.Repeat("a", MaxHashSize)
	if HashText(long) != HashText(long+"tail") {
		t.Error("bytes past MaxHashSize should not change the hash")
	}
}

func TestQuery_Validate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{name: "empty", query: Query{}},
		{name: "valid sort", query: Query{SortBy: "max_severity", SortOrder: "asc"}},
		{name: "lowercase verdict", query: Query{Verdict: "block"}},
		{name: "negative limit", query: Query{Limit: -1}, wantErr: true},
		{name: "limit too large", query: Query{Limit: MaxLimit + 1}, wantErr: true},
		{name: "negative offset", query: Query{Offset: -1}, wantErr: true},
		{name: "unknown sort field", query: Query{SortBy: "text"}, wantErr: true},
		{name: "bad sort order", query: Query{SortOrder: "up"}, wantErr: true},
		{name: "inverted range", query: Query{StartTime: &now, EndTime: &earlier}, wantErr: true},
		{name: "bad status", query: Query{Status: "blocked"}, wantErr: true},
		{name: "bad verdict", query: Query{Verdict: "DENY"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var qerr *QueryError
			if err != nil && !errors.As(err, &qerr) {
				t.Errorf("expected QueryError, got %T", err)
			}
		})
	}
}

func TestQuery_ApplyDefaults(t *testing.T) {
	q := Query{Verdict: "redacted"}
	q.ApplyDefaults()
	if q.Limit != DefaultLimit || q.SortBy != "request_time" || q.SortOrder != "desc" || q.Verdict != "REDACTED" {
		t.Errorf("defaults = %+v", q)
	}
}

func TestExporters(t *testing.T) {
	rec := NewRecord(finishedContext(), OperationCheck, time.Now())
	rec.Resolution = "published"

	t.Run("json", func(t *testing.T) {
		exp, ok := NewExporter("JSON")
		if !ok {
			t.Fatal("json exporter missing")
		}
		var buf bytes.Buffer
		if err := exp.Export(context.Background(), []*Record{rec}, &buf); err != nil {
			t.Fatalf("Export: %v", err)
		}
		var out []Record
		if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
			t.Fatalf("output is not a JSON array: %v", err)
		}
		if len(out) != 1 || out[0].RequestID != "req-1" {
			t.Errorf("out = %+v", out)
		}
	})

	t.Run("json empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (&JSONExporter{}).Export(context.Background(), nil, &buf); err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("empty export = %q", buf.String())
		}
	})

	t.Run("csv", func(t *testing.T) {
		exp, _ := NewExporter("csv")
		var buf bytes.Buffer
		if err := exp.Export(context.Background(), []*Record{rec}, &buf); err != nil {
			t.Fatalf("Export: %v", err)
		}
		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 || len(rows[1]) != len(csvHeader) {
			t.Fatalf("rows = %v", rows)
		}
		if rows[1][12] != "PII_PHONE:0.60,PII_PHONE:0.40" {
			t.Errorf("findings column = %q", rows[1][12])
		}
	})

	if _, ok := NewExporter("xml"); ok {
		t.Error("xml should not be supported")
	}
}
