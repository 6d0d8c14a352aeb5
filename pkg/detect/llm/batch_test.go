package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExtractBatch_Completeness(t *testing.T) {
	items := []BatchItem{
		{ItemID: "1", Text: "hello"},
		{ItemID: "2", Text: "drop table users"},
		{ItemID: "3", Text: "call 13800138000"},
		{ItemID: "4", Text: "anything"},
	}

	tests := []struct {
		name      string
		reply     reply
		wantCodes map[string]string
		wantMode  string
	}{
		{
			name: "complete reply",
			reply: textReply(`{"items":[
				{"itemId":"1","findings":[]},
				{"itemId":"2","findings":[{"type":"DESTRUCTIVE_OPERATION","severity":0.9}]},
				{"itemId":"3","findings":[{"category":"PII_PHONE","severity":0.8,"start":5,"end":16}]},
				{"itemId":"4","findings":[]}
			]}`),
			wantCodes: map[string]string{"1": "", "2": "", "3": "", "4": ""},
			wantMode:  ModeRawJSONBatch,
		},
		{
			name: "missing and malformed items",
			reply: textReply("```json\n" + `{"items":[
				{"itemId":"1","findings":[]},
				{"itemId":"2","findings":"none"},
				{"itemId":"99","findings":[]}
			]}` + "\n```"),
			wantCodes: map[string]string{
				"1": "",
				"2": CodeBatchItemInvalid,
				"3": CodeBatchMissingItem,
				"4": CodeBatchMissingItem,
			},
			wantMode: ModeRawJSONBatch,
		},
		{
			name:  "top level array",
			reply: textReply(`[{"itemId":"1","findings":[]},{"itemId":2,"findings":[]}]`),
			wantCodes: map[string]string{
				"1": "",
				"2": "",
				"3": CodeBatchMissingItem,
				"4": CodeBatchMissingItem,
			},
			wantMode: ModeRawJSONBatch,
		},
		{
			name:  "unparseable reply",
			reply: textReply("sorry, I cannot help"),
			wantCodes: map[string]string{
				"1": CodeBatchParseFailed,
				"2": CodeBatchParseFailed,
				"3": CodeBatchParseFailed,
				"4": CodeBatchParseFailed,
			},
			wantMode: CodeBatchParseFailed,
		},
		{
			name:  "empty reply",
			reply: textReply(""),
			wantCodes: map[string]string{
				"1": CodeBatchCallFailed,
				"2": CodeBatchCallFailed,
				"3": CodeBatchCallFailed,
				"4": CodeBatchCallFailed,
			},
			wantMode: CodeBatchCallFailed,
		},
		{
			name:  "transport failure",
			reply: reply{err: errors.New("connection reset")},
			wantCodes: map[string]string{
				"1": CodeBatchCallFailed,
				"2": CodeBatchCallFailed,
				"3": CodeBatchCallFailed,
				"4": CodeBatchCallFailed,
			},
			wantMode: CodeBatchCallFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := newScriptedModel("openai").on(string(ModeRawJSON), tt.reply)
			res := NewExtractor(model, testConfig()).ExtractBatch(context.Background(), items, "")

			if res.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", res.Mode, tt.wantMode)
			}
			if len(res.Results) != len(items) {
				t.Fatalf("expected %d results, got %d", len(items), len(res.Results))
			}
			for id, wantCode := range tt.wantCodes {
				got, ok := res.Results[id]
				if !ok {
					t.Errorf("item %s missing from results", id)
					continue
				}
				if got.ErrorCode != wantCode {
					t.Errorf("item %s code = %q, want %q", id, got.ErrorCode, wantCode)
				}
				if wantCode == "" && !got.ParseSuccess {
					t.Errorf("item %s expected success", id)
				}
			}
		})
	}
}

func TestExtractBatch_Findings(t *testing.T) {
	items := []BatchItem{{ItemID: "a", Text: "call 13800138000"}}
	model := newScriptedModel("openai").on(string(ModeRawJSON), textReply(`{"items":[{"itemId":"a","findings":[
		{"category":"PII_PHONE","severity":0.8,"start":5,"end":16},
		{"category":"PII_PHONE","severity":0.8,"start":5,"end":40}
	]}]}`))

	res := NewExtractor(model, testConfig()).ExtractBatch(context.Background(), items, "")
	got := res.Results["a"]
	if len(got.Findings) != 1 || got.Findings[0].DetectorSource != "L3_LLM" {
		t.Errorf("findings = %+v", got.Findings)
	}
}

func TestExtractBatch_Empty(t *testing.T) {
	res := NewExtractor(nil, testConfig()).ExtractBatch(context.Background(), nil, "")
	if !res.ParseSuccess || res.Mode != ModeBatchEmpty || len(res.Results) != 0 {
		t.Errorf("got %+v", res)
	}
}

func TestExtractBatch_Timeout(t *testing.T) {
	items := []BatchItem{{ItemID: "1", Text: "a"}, {ItemID: "2", Text: "b"}}
	model := newScriptedModel("openai").on(string(ModeRawJSON), reply{response: TextResponse{Text: `{"items":[]}`}, delay: time.Second})

	cfg := testConfig()
	cfg.BatchTimeout = 5 * time.Millisecond
	res := NewExtractor(model, cfg).ExtractBatch(context.Background(), items, "")

	if res.ErrorCode != CodeBatchTimeout {
		t.Errorf("code = %q, want %q", res.ErrorCode, CodeBatchTimeout)
	}
	for id, r := range res.Results {
		if r.ErrorCode != CodeBatchTimeout {
			t.Errorf("item %s code = %q", id, r.ErrorCode)
		}
	}
}

func TestExtractBatch_LateReplyDiscarded(t *testing.T) {
	items := []BatchItem{{ItemID: "1", Text: "a"}}
	cfg := testConfig()
	cfg.BatchTimeout = time.Millisecond

	for i := range 20 {
		model := newScriptedModel("openai").
			on(string(ModeRawJSON), reply{response: TextResponse{Text: `{"items":[{"itemId":"1","findings":[]}]}`}, afterDeadline: true})
		res := NewExtractor(model, cfg).ExtractBatch(context.Background(), items, "")
		if res.ErrorCode != CodeBatchTimeout || res.Results["1"].ErrorCode != CodeBatchTimeout {
			t.Fatalf("run %d: expected a late reply to count as a timeout, got %+v", i, res)
		}
	}
}

func TestBatchUserPrompt_Budget(t *testing.T) {
	cfg := testConfig()
	cfg.BatchMaxTextLength = 1
	cfg.BatchMaxPromptChars = 1
	e := NewExtractor(nil, cfg)

	long := strings.Repeat("x", 300)
	items := []BatchItem{
		{ItemID: "1", Text: long},
		{ItemID: "2", Text: long},
		{ItemID: "3", Text: long},
		{ItemID: "", Text: "skipped"},
	}
	prompt := e.batchUserPrompt(items)

	if !strings.HasPrefix(prompt, batchUserPrefix) {
		t.Fatalf("prompt missing prefix: %q", prompt)
	}
	// Minimums: 32 runes per item, 512 runes per prompt.
	if !strings.Contains(prompt, `"text":"`+strings.Repeat("x", 32)+`"`) {
		t.Errorf("item text not truncated to minimum length: %q", prompt)
	}
	if len([]rune(prompt)) > 512 {
		t.Errorf("prompt exceeds budget: %d runes", len([]rune(prompt)))
	}
	if strings.Contains(prompt, "skipped") {
		t.Error("blank item id was serialized")
	}
}

func TestBatchUserPrompt_KeepsOneItem(t *testing.T) {
	cfg := testConfig()
	cfg.BatchMaxTextLength = 5000
	cfg.BatchMaxPromptChars = 512
	e := NewExtractor(nil, cfg)

	long := strings.Repeat("y", 2000)
	prompt := e.batchUserPrompt([]BatchItem{{ItemID: "1", Text: long}, {ItemID: "2", Text: long}})
	if !strings.Contains(prompt, `"itemId":"1"`) || strings.Contains(prompt, `"itemId":"2"`) {
		t.Errorf("expected only the first item, got %d runes", len([]rune(prompt)))
	}
}
