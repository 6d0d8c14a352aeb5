package pipeline

import (
	"context"
	"testing"
	"time"
)

type stageRecord struct {
	stage string
	ok    bool
}

type recordingObserver struct {
	records []stageRecord
}

func (o *recordingObserver) ObserveStage(stage string, ok bool, _ time.Duration) {
	o.records = append(o.records, stageRecord{stage: stage, ok: ok})
}

func TestPipeline_StopsOnFalse(t *testing.T) {
	var ran []string
	stage := func(name string, ok bool) Stage {
		return StageFunc{StageName: name, Fn: func(context.Context, *Context) bool {
			ran = append(ran, name)
			return ok
		}}
	}

	obs := &recordingObserver{}
	p := New([]Stage{stage("detect", true), stage("decide", false), stage("redact", true)}, WithObserver(obs))
	p.Execute(context.Background(), NewContext("x", nil))

	if len(ran) != 2 || ran[1] != "decide" {
		t.Errorf("ran = %v", ran)
	}
	if len(obs.records) != 2 || obs.records[1].ok {
		t.Errorf("observed = %+v", obs.records)
	}
}

func TestValidFinding(t *testing.T) {
	tests := []struct {
		name string
		f    Finding
		want bool
	}{
		{"whole text", Finding{}, true},
		{"valid span", Finding{Start: Int(0), End: Int(3)}, true},
		{"only start", Finding{Start: Int(1)}, false},
		{"only end", Finding{End: Int(1)}, false},
		{"empty span", Finding{Start: Int(2), End: Int(2)}, false},
		{"end past text", Finding{Start: Int(0), End: Int(6)}, false},
		{"negative start", Finding{Start: Int(-1), End: Int(2)}, false},
		{"severity above one", Finding{Severity: Float(1.01)}, false},
		{"severity below zero", Finding{Severity: Float(-0.1)}, false},
		{"severity bounds", Finding{Severity: Float(1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidFinding(tt.f, 5); got != tt.want {
				t.Errorf("ValidFinding() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeFindings_DefaultSource(t *testing.T) {
	in := []Finding{{Category: "A"}, {Category: "B", DetectorSource: "CUSTOM"}, {Category: "C", Start: Int(1)}}
	out := NormalizeFindings(in, 10, SourceL3LLM)
	if len(out) != 2 {
		t.Fatalf("expected 2 findings, got %+v", out)
	}
	if out[0].DetectorSource != SourceL3LLM || out[1].DetectorSource != "CUSTOM" {
		t.Errorf("sources = %q, %q", out[0].DetectorSource, out[1].DetectorSource)
	}
	if in[0].DetectorSource != "" {
		t.Error("input slice modified")
	}
}

func TestRuneSpan(t *testing.T) {
	text := "张三 abc"
	start, end := RuneSpan(text, len("张三 "), len(text))
	if start != 3 || end != 6 {
		t.Errorf("RuneSpan = [%d,%d), want [3,6)", start, end)
	}
	if got := SpanText(text, Finding{Start: Int(0), End: Int(2)}); got != "张三" {
		t.Errorf("SpanText = %q", got)
	}
}

func TestContext_Categories(t *testing.T) {
	pc := NewContext("x", nil)
	pc.Findings = []Finding{{Category: "B"}, {Category: "A"}, {Category: "B"}, {}}
	got := pc.Categories()
	if len(got) != 2 || got[0] != "B" || got[1] != "A" {
		t.Errorf("Categories() = %v", got)
	}
}
