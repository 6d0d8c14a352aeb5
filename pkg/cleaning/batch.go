package cleaning

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"datasentry-hq/sentry/pkg/allowlist"
	"datasentry-hq/sentry/pkg/audit"
	"datasentry-hq/sentry/pkg/detect/llm"
	"datasentry-hq/sentry/pkg/policy"
	"datasentry-hq/sentry/pkg/sanitize"
	"datasentry-hq/sentry/pkg/telemetry/logging"
	"datasentry-hq/sentry/pkg/telemetry/tracing"
)

// BatchExtractor screens many texts with one LLM call. *llm.Extractor
// implements it.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, items []llm.BatchItem, fragment string) llm.BatchResult
}

// BatchCheck screens every item under the policy bound to the request. With a
// batch extractor configured, each LLM rule costs one call for the whole
// batch and the per-item pipelines consume the precomputed results.
//
// Resolution failures fail the whole batch; the response otherwise holds one
// result per item in input order.
func (s *Service) BatchCheck(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	started := time.Now()
	batchID := s.newID()
	ctx, span := s.tracer.Start(ctx, "sentry."+audit.OperationBatch, trace.WithAttributes(
		attribute.String("sentry.batch_id", batchID),
		attribute.Int("sentry.items", len(req.Items)),
	))
	defer span.End()
	if req.TraceID == "" {
		req.TraceID = tracing.TraceID(ctx)
	}
	ctx = withRequestContext(ctx, batchID, req.TraceID, req.AgentID)

	if err := validateItems(req.Items); err != nil {
		tracing.SetError(span, err)
		s.fail(ctx, audit.OperationBatch, batchID, err)
		return nil, err
	}
	if len(req.Items) == 0 {
		return &BatchResponse{Results: []BatchItemResult{}}, nil
	}

	key := routeKey(req.RouteKey, req.AgentID)
	snapshots := make([]*policy.Snapshot, len(req.Items))
	var bindingType string
	for i := range req.Items {
		snap, bt, err := s.resolve(ctx, req.AgentID, req.Scene, req.PolicyID, key)
		if err != nil {
			tracing.SetError(span, err)
			s.fail(ctx, audit.OperationBatch, batchID, err)
			return nil, err
		}
		snapshots[i] = snap
		bindingType = bt
	}

	var entries []allowlist.Entry
	if s.allowlists != nil {
		var err error
		if entries, err = s.allowlists.ListActive(ctx); err != nil {
			err = fmt.Errorf("list allowlists: %w", err)
			tracing.SetError(span, err)
			s.fail(ctx, audit.OperationBatch, batchID, err)
			return nil, err
		}
	}

	var precomputed []map[int64]llm.Result
	if !req.DisableL3 {
		precomputed = s.precompute(ctx, req.Items, snapshots)
	}

	resp := &BatchResponse{Results: make([]BatchItemResult, len(req.Items))}
	for i, item := range req.Items {
		if isBlank(item.Text) {
			resp.Results[i] = BatchItemResult{ItemID: item.ItemID, CheckResponse: *blankResponse(s.newID(), item.Text, false)}
			continue
		}
		itemStarted := time.Now()
		pc := s.newContext(CheckRequest{
			RequestID: s.newID(),
			TraceID:   req.TraceID,
			AgentID:   req.AgentID,
			Scene:     req.Scene,
			DisableL3: req.DisableL3,
			Text:      item.Text,
		}, snapshots[i], false)
		if s.allowlists != nil {
			allowlist.Attach(pc, entries)
		}
		if precomputed != nil && precomputed[i] != nil {
			llm.AttachPrecomputed(pc, precomputed[i])
		}

		itemCtx := logging.WithRequestID(ctx, pc.RequestID)
		s.pipeline.Execute(itemCtx, pc)
		s.finish(itemCtx, pc, audit.OperationBatch, bindingType, itemStarted)
		resp.Results[i] = BatchItemResult{ItemID: item.ItemID, CheckResponse: *buildResponse(pc)}
	}

	s.logger.InfoContext(ctx, "batch screened",
		"batch_id", batchID,
		"items", len(req.Items),
		"precomputed", precomputed != nil,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return resp, nil
}

// precompute runs one batch extraction per distinct LLM rule across the items
// whose snapshot enables tier three. It returns nil when nothing was run.
func (s *Service) precompute(ctx context.Context, items []BatchItem, snapshots []*policy.Snapshot) []map[int64]llm.Result {
	if s.batch == nil {
		return nil
	}

	type ruleBatch struct {
		rule    policy.Rule
		indexes []int
		items   []llm.BatchItem
	}
	batches := make(map[int64]*ruleBatch)
	var order []int64
	for i, snap := range snapshots {
		if !snap.Config.LLMEnabled {
			continue
		}
		text := items[i].Text
		if isBlank(text) {
			continue
		}
		if snap.Config.OutboundSanitizeEnabled {
			text = sanitize.Apply(text, snap.Config.OutboundSanitizeMode)
		}
		for _, r := range snap.RulesOfType(policy.RuleTypeLLM) {
			b, ok := batches[r.ID]
			if !ok {
				b = &ruleBatch{rule: r}
				batches[r.ID] = b
				order = append(order, r.ID)
			}
			b.indexes = append(b.indexes, i)
			b.items = append(b.items, llm.BatchItem{ItemID: items[i].ItemID, Text: text})
		}
	}
	if len(order) == 0 {
		return nil
	}

	out := make([]map[int64]llm.Result, len(items))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(max(1, min(s.batchLimit, len(order))))
	for _, ruleID := range order {
		b := batches[ruleID]
		g.Go(func() error {
			res := s.batch.ExtractBatch(ctx, b.items, b.rule.Prompt())
			mu.Lock()
			defer mu.Unlock()
			for k, i := range b.indexes {
				if out[i] == nil {
					out[i] = make(map[int64]llm.Result)
				}
				out[i][ruleID] = res.Results[b.items[k].ItemID]
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func validateItems(items []BatchItem) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ItemID)
		if id == "" {
			return fmt.Errorf("%w: item %d has no item id", ErrInvalidRequest, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate item id %q", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
