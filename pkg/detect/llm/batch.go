package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"datasentry-hq/sentry/pkg/costctx"
	"datasentry-hq/sentry/pkg/pipeline"
)

// ExtractBatch screens several texts with a single raw JSON call. The result
// holds exactly one entry per input item id: items absent from the reply, or
// dropped to fit the prompt budget, are reported as L3_BATCH_MISSING_ITEM.
func (e *Extractor) ExtractBatch(ctx context.Context, items []BatchItem, fragment string) BatchResult {
	if len(items) == 0 {
		return BatchResult{Results: map[string]Result{}, ParseSuccess: true, Mode: ModeBatchEmpty}
	}

	start := time.Now()
	system := ComposeSystemPrompt(fragment) + batchInstructions
	user := e.batchUserPrompt(items)

	raw, code := e.timedBatchCall(ctx, system, user)
	if code != "" {
		e.observer.ObserveBatch(len(items), false, code, time.Since(start))
		return batchFailure(items, code)
	}

	parsed, ok := parseBatchOutput(raw, items)
	if !ok {
		e.observer.ObserveBatch(len(items), false, CodeBatchParseFailed, time.Since(start))
		return batchFailure(items, CodeBatchParseFailed)
	}

	results := make(map[string]Result, len(items))
	for _, item := range items {
		if r, ok := parsed[item.ItemID]; ok {
			results[item.ItemID] = r
			continue
		}
		results[item.ItemID] = Failure(CodeBatchMissingItem, "", CodeBatchMissingItem)
	}
	e.observer.ObserveBatch(len(items), true, "", time.Since(start))
	return BatchResult{Results: results, ParseSuccess: true, Mode: ModeRawJSONBatch}
}

func batchFailure(items []BatchItem, code string) BatchResult {
	results := make(map[string]Result, len(items))
	for _, item := range items {
		results[item.ItemID] = Failure(code, "", code)
	}
	return BatchResult{Results: results, ErrorCode: code, Mode: code}
}

// batchUserPrompt serializes the items, truncating each text and dropping
// trailing items until the prompt fits the character budget. At least one
// item is always kept.
func (e *Extractor) batchUserPrompt(items []BatchItem) string {
	maxText := max(e.cfg.BatchMaxTextLength, minBatchMaxTextLength)
	maxPrompt := max(e.cfg.BatchMaxPromptChars, minBatchMaxPromptChars)

	payload := make([]BatchItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.ItemID) == "" {
			continue
		}
		payload = append(payload, BatchItem{ItemID: item.ItemID, Text: truncateRunes(item.Text, maxText)})
	}

	prefixLen := utf8.RuneCountInString(batchUserPrefix)
	for {
		encoded := encodeItems(payload)
		if prefixLen+utf8.RuneCountInString(encoded) <= maxPrompt || len(payload) <= 1 {
			return batchUserPrefix + encoded
		}
		payload = payload[:len(payload)-1]
	}
}

func encodeItems(items []BatchItem) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "[]"
	}
	return strings.TrimSpace(buf.String())
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// timedBatchCall performs the batch call under the batch timeout and returns
// the raw reply, or an error code.
func (e *Extractor) timedBatchCall(ctx context.Context, system, user string) (string, string) {
	if e.cfg.BatchTimeout <= 0 {
		return e.safeBatchCall(ctx, system, user)
	}

	captured := costctx.Capture(ctx)
	bctx, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	defer cancel()

	type reply struct {
		raw  string
		code string
	}
	done := make(chan reply, 1)
	go func() {
		raw, code := e.safeBatchCall(costctx.Bind(bctx, captured), system, user)
		done <- reply{raw: raw, code: code}
	}()

	select {
	case r := <-done:
		if bctx.Err() != nil {
			return "", e.batchAbandoned(ctx)
		}
		return r.raw, r.code
	case <-bctx.Done():
		return "", e.batchAbandoned(ctx)
	}
}

func (e *Extractor) batchAbandoned(parent context.Context) string {
	if parent.Err() != nil {
		return CodeBatchInterrupted
	}
	e.logger.Warn("L3 batch timeout", "timeout", e.cfg.BatchTimeout)
	return CodeBatchTimeout
}

func (e *Extractor) safeBatchCall(ctx context.Context, system, user string) (raw string, code string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("L3 batch call panicked", "panic", fmt.Sprint(r))
			raw, code = "", CodeBatchCallFailed
		}
	}()
	if e.model == nil {
		return "", CodeBatchCallFailed
	}
	comp, err := e.complete(ctx, ModeRawJSONBatch, Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: user}},
	})
	if err != nil {
		e.logger.Warn("L3 batch call failed", "error", err)
		return "", CodeBatchCallFailed
	}
	if comp != nil {
		raw = responseText(comp.Response)
	}
	if strings.TrimSpace(raw) == "" {
		return "", CodeBatchCallFailed
	}
	return raw, ""
}

// parseBatchOutput maps item ids to results. Items whose findings field is
// missing or malformed become L3_BATCH_ITEM_INVALID; ids not in the input are
// ignored. ok is false when the payload has no items array at all.
func parseBatchOutput(raw string, items []BatchItem) (map[string]Result, bool) {
	cleaned := cleanCandidate(raw)
	if cleaned == "" || !gjson.Valid(cleaned) {
		return nil, false
	}

	root := gjson.Parse(cleaned)
	itemsNode := root
	if root.IsObject() {
		itemsNode = root.Get("items")
	}
	if !itemsNode.IsArray() {
		return nil, false
	}

	textLen := make(map[string]int, len(items))
	for _, item := range items {
		textLen[item.ItemID] = pipeline.TextLength(item.Text)
	}

	results := make(map[string]Result)
	itemsNode.ForEach(func(_, node gjson.Result) bool {
		idNode := node.Get("itemId")
		if !idNode.Exists() {
			return true
		}
		id := idNode.String()
		n, expected := textLen[id]
		if !expected {
			return true
		}
		findingsNode := node.Get("findings")
		if !findingsNode.IsArray() {
			results[id] = Failure(CodeBatchItemInvalid, node.Raw, CodeBatchItemInvalid)
			return true
		}
		var findings []rawFinding
		if err := json.Unmarshal([]byte(findingsNode.Raw), &findings); err != nil {
			results[id] = Failure(CodeBatchItemInvalid, node.Raw, CodeBatchItemInvalid)
			return true
		}
		results[id] = Success(normalize(findings, n), false, ModeRawJSONBatch)
		return true
	})
	return results, true
}
