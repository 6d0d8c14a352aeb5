package cleaning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"datasentry-hq/sentry/pkg/allowlist"
	"datasentry-hq/sentry/pkg/audit"
	"datasentry-hq/sentry/pkg/costctx"
	"datasentry-hq/sentry/pkg/decision"
	"datasentry-hq/sentry/pkg/detect"
	"datasentry-hq/sentry/pkg/events"
	"datasentry-hq/sentry/pkg/pipeline"
	"datasentry-hq/sentry/pkg/policy"
	"datasentry-hq/sentry/pkg/redact"
	"datasentry-hq/sentry/pkg/telemetry/logging"
	"datasentry-hq/sentry/pkg/telemetry/metrics"
	"datasentry-hq/sentry/pkg/telemetry/tracing"
)

// SnapshotResolver resolves a policy id to a snapshot. *policy.Resolver
// implements it.
type SnapshotResolver interface {
	Resolve(ctx context.Context, policyID int64, routeKey string) (*policy.Snapshot, error)
}

// Recorder persists audit records. *audit.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context, rec *audit.Record) error
}

// Metrics receives request-level measurements. *metrics.Collector implements it.
type Metrics interface {
	RecordRequest(operation, verdict string, duration time.Duration)
	RecordRequestError(operation, code string)
	RecordResolution(outcome string)
	RecordFinding(source, category string)
}

// Error codes reported to Metrics.RecordRequestError.
const (
	codeInvalidRequest    = "invalid_request"
	codeBindingNotFound   = "binding_not_found"
	codePolicyUnavailable = "policy_unavailable"
	codeInternal          = "internal"
)

// Service screens texts: it resolves the bound policy, runs the pipeline and
// hands the finished context to audit and events.
type Service struct {
	resolver    SnapshotResolver
	bindings    policy.BindingStore
	pipeline    *pipeline.Pipeline
	allowlists  allowlist.Source
	batch       BatchExtractor
	recorder    Recorder
	emitter     events.Emitter
	metrics     Metrics
	tracer      pipeline.SpanStarter
	logger      *slog.Logger
	bindingType string
	batchLimit  int
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithAllowlists sets the allowlist source consulted on every call.
func WithAllowlists(src allowlist.Source) Option {
	return func(s *Service) { s.allowlists = src }
}

// WithBatchExtractor enables single-call tier-three screening in BatchCheck.
func WithBatchExtractor(b BatchExtractor) Option {
	return func(s *Service) { s.batch = b }
}

// WithBatchConcurrency bounds concurrent per-rule batch calls.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithEmitter sets the verdict event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the span starter for request and resolve spans.
func WithTracer(t pipeline.SpanStarter) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBindingType overrides the binding type used for lookups.
func WithBindingType(t string) Option {
	return func(s *Service) {
		if strings.TrimSpace(t) != "" {
			s.bindingType = t
		}
	}
}

// NewService creates a Service. bindings may be nil when every request
// carries a policy id.
func NewService(resolver SnapshotResolver, bindings policy.BindingStore, pipe *pipeline.Pipeline, opts ...Option) *Service {
	s := &Service{
		resolver:    resolver,
		bindings:    bindings,
		pipeline:    pipe,
		tracer:      noop.NewTracerProvider().Tracer("sentry"),
		logger:      slog.Default(),
		bindingType: policy.BindingTypeOnlineText,
		batchLimit:  detect.DefaultMaxRuleConcurrency,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cleaning.service")
	return s
}

// Stages returns the standard detect, decide and redact stages in order.
func Stages(o *detect.Orchestrator, e *decision.Engine, r *redact.Redactor) []pipeline.Stage {
	return []pipeline.Stage{o.Stage(), e.Stage(), r.Stage()}
}

// Check screens req.Text and returns the verdict with its categories.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	return s.run(ctx, req, audit.OperationCheck, false)
}

// Sanitize screens req.Text and additionally returns the redacted text. A
// BLOCK verdict is downgraded to REDACTED when redaction changed the text.
func (s *Service) Sanitize(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	return s.run(ctx, req, audit.OperationSanitize, true)
}

func (s *Service) run(ctx context.Context, req CheckRequest, operation string, sanitize bool) (*CheckResponse, error) {
	started := time.Now()
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	if isBlank(req.Text) {
		s.logger.DebugContext(ctx, "blank text allowed without screening",
			"request_id", req.RequestID,
			"operation", operation,
		)
		return blankResponse(req.RequestID, req.Text, sanitize), nil
	}
	ctx, span := s.tracer.Start(ctx, "sentry."+operation, trace.WithAttributes(
		attribute.String("sentry.request_id", req.RequestID),
		attribute.String("sentry.agent_id", req.AgentID),
	))
	defer span.End()
	if req.TraceID == "" {
		req.TraceID = tracing.TraceID(ctx)
	}
	ctx = withRequestContext(ctx, req.RequestID, req.TraceID, req.AgentID)

	snapshot, bindingType, err := s.resolve(ctx, req.AgentID, req.Scene, req.PolicyID, routeKey(req.RouteKey, req.AgentID))
	if err != nil {
		tracing.SetError(span, err)
		s.fail(ctx, operation, req.RequestID, err)
		return nil, err
	}

	pc := s.newContext(req, snapshot, sanitize)
	if err := s.attachAllowlists(ctx, pc); err != nil {
		tracing.SetError(span, err)
		s.fail(ctx, operation, req.RequestID, err)
		return nil, err
	}
	s.pipeline.Execute(ctx, pc)

	span.SetAttributes(attribute.String("sentry.verdict", pc.Verdict.String()))
	s.finish(ctx, pc, operation, bindingType, started)
	return buildResponse(pc), nil
}

// resolve picks the policy (explicit id, or via binding) and resolves its
// snapshot. bindingType is empty when the policy id was explicit.
func (s *Service) resolve(ctx context.Context, agentID, scene string, policyID *int64, key string) (*policy.Snapshot, string, error) {
	ctx, span := s.tracer.Start(ctx, "sentry.resolve")
	defer span.End()

	var bindingType string
	if policyID == nil {
		if strings.TrimSpace(agentID) == "" {
			return nil, "", fmt.Errorf("%w: agent id is required without a policy id", ErrInvalidRequest)
		}
		if s.bindings == nil {
			return nil, "", fmt.Errorf("%w: no binding store configured", policy.ErrBindingNotFound)
		}
		b, err := policy.ResolveBinding(ctx, s.bindings, agentID, s.bindingType, scene)
		if err != nil {
			return nil, "", err
		}
		id := b.PolicyID
		policyID = &id
		bindingType = b.Type
	}

	snapshot, err := s.resolver.Resolve(ctx, *policyID, key)
	if err != nil {
		s.recordResolution(metrics.ResolutionUnavailable)
		return nil, bindingType, err
	}
	s.recordResolution(resolutionOutcome(snapshot))
	span.SetAttributes(
		attribute.Int64("sentry.policy_id", snapshot.PolicyID),
		attribute.Int("sentry.rules", len(snapshot.Rules)),
	)
	return snapshot, bindingType, nil
}

func (s *Service) newContext(req CheckRequest, snapshot *policy.Snapshot, sanitize bool) *pipeline.Context {
	pc := pipeline.NewContext(req.Text, snapshot)
	pc.RequestID = req.RequestID
	pc.TraceID = req.TraceID
	pc.AgentID = req.AgentID
	pc.SanitizeRequested = sanitize
	if req.Scene != "" {
		pc.Metadata[pipeline.MetaScene] = req.Scene
	}
	if req.DisableL3 {
		pc.SetFlag(pipeline.MetaDisableL3, true)
	}
	return pc
}

func (s *Service) attachAllowlists(ctx context.Context, pc *pipeline.Context) error {
	if s.allowlists == nil {
		return nil
	}
	entries, err := s.allowlists.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list allowlists: %w", err)
	}
	allowlist.Attach(pc, entries)
	return nil
}

// finish hands the finished context to metrics, audit and events. Hand-off
// failures are logged and never change the response.
func (s *Service) finish(ctx context.Context, pc *pipeline.Context, operation, bindingType string, started time.Time) {
	duration := time.Since(started)
	if s.metrics != nil {
		s.metrics.RecordRequest(operation, pc.Verdict.String(), duration)
		for _, f := range pc.Findings {
			s.metrics.RecordFinding(f.DetectorSource, f.Category)
		}
	}

	s.logger.InfoContext(ctx, "text screened",
		"request_id", pc.RequestID,
		"operation", operation,
		"verdict", pc.Verdict,
		"categories", pc.Categories(),
		"findings", len(pc.Findings),
		"duration_ms", duration.Milliseconds(),
	)

	if s.recorder == nil && s.emitter == nil {
		return
	}
	rec := audit.NewRecord(pc, operation, started)
	rec.Resolution = resolutionOutcome(pc.Snapshot)
	rec.BindingType = bindingType

	// The caller's deadline must not cut off the hand-off.
	handoff := context.WithoutCancel(ctx)
	if s.recorder != nil {
		if err := s.recorder.Record(handoff, rec); err != nil {
			s.logger.WarnContext(ctx, "audit record dropped",
				"request_id", pc.RequestID,
				"error", err,
			)
		}
	}
	if s.emitter != nil {
		if err := s.emitter.Emit(handoff, events.FromRecord(rec)); err != nil {
			s.logger.WarnContext(ctx, "verdict event failed",
				"request_id", pc.RequestID,
				"error", err,
			)
		}
	}
}

func (s *Service) fail(ctx context.Context, operation, requestID string, err error) {
	code := errorCode(err)
	if s.metrics != nil {
		s.metrics.RecordRequestError(operation, code)
	}
	s.logger.WarnContext(ctx, "screening failed",
		"request_id", requestID,
		"operation", operation,
		"code", code,
		"error", err,
	)
}

func (s *Service) recordResolution(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordResolution(outcome)
	}
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// blankResponse is the result for text with nothing to screen: ALLOW, no
// categories and the text returned unchanged by sanitize.
func blankResponse(requestID, text string, sanitize bool) *CheckResponse {
	resp := &CheckResponse{
		RequestID:  requestID,
		Verdict:    pipeline.VerdictAllow,
		Categories: []string{},
	}
	if sanitize {
		resp.SanitizedText = text
	}
	return resp
}

func buildResponse(pc *pipeline.Context) *CheckResponse {
	resp := &CheckResponse{
		RequestID:  pc.RequestID,
		Verdict:    pc.Verdict,
		Categories: pc.Categories(),
	}
	if pc.SanitizeRequested {
		resp.SanitizedText = pc.SanitizedText
	}
	if pc.Snapshot != nil {
		resp.PolicyID = pc.Snapshot.PolicyID
		resp.VersionNo = pc.Snapshot.VersionNo
	}
	return resp
}

func resolutionOutcome(s *policy.Snapshot) string {
	switch {
	case s == nil:
		return metrics.ResolutionUnavailable
	case s.VersionID == nil:
		return metrics.ResolutionUngoverned
	case s.VersionStatus == policy.VersionGray:
		return metrics.ResolutionGray
	default:
		return metrics.ResolutionPublished
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return codeInvalidRequest
	case errors.Is(err, policy.ErrBindingNotFound):
		return codeBindingNotFound
	case errors.Is(err, policy.ErrPolicyUnavailable):
		return codePolicyUnavailable
	default:
		return codeInternal
	}
}

func routeKey(explicit, agentID string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return agentID
}

func withRequestContext(ctx context.Context, requestID, traceID, agentID string) context.Context {
	ctx = logging.WithRequestID(ctx, requestID)
	if traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}
	if agentID != "" {
		ctx = logging.WithAgentID(ctx, agentID)
	}
	if traceID != "" || agentID != "" {
		ctx = costctx.With(ctx, costctx.New(traceID, requestID, agentID))
	}
	return ctx
}
