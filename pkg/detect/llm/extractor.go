package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"datasentry-hq/sentry/pkg/costctx"
	"datasentry-hq/sentry/pkg/pipeline"
)

// Defaults for Config.
const (
	DefaultAttemptTimeout      = 8 * time.Second
	DefaultBatchTimeout        = 20 * time.Second
	DefaultBatchMaxTextLength  = 2000
	DefaultBatchMaxPromptChars = 24000
	DefaultCapabilityTTL       = 10 * time.Minute
	DefaultAgentMaxTurns       = 3

	minBatchMaxTextLength  = 32
	minBatchMaxPromptChars = 512
)

// Config controls the extractor.
type Config struct {
	Strategy Strategy

	EnableChatEntity bool
	EnableRawJSON    bool
	EnableAgent      bool

	// AttemptTimeout bounds each attempt. Zero disables the timeout.
	AttemptTimeout time.Duration

	// BatchTimeout bounds the single batch call. Zero disables the timeout.
	BatchTimeout time.Duration

	// BatchMaxTextLength truncates each batch item, in runes (minimum 32).
	BatchMaxTextLength int

	// BatchMaxPromptChars caps the batch user prompt, in runes (minimum 512).
	BatchMaxPromptChars int

	// CapabilityTTL expires cached provider preferences. Zero never expires.
	CapabilityTTL time.Duration

	// AgentMaxTurns bounds the agent tool loop.
	AgentMaxTurns int
}

// DefaultConfig returns the default configuration with every mode enabled.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyBalanced,
		EnableChatEntity:    true,
		EnableRawJSON:       true,
		EnableAgent:         true,
		AttemptTimeout:      DefaultAttemptTimeout,
		BatchTimeout:        DefaultBatchTimeout,
		BatchMaxTextLength:  DefaultBatchMaxTextLength,
		BatchMaxPromptChars: DefaultBatchMaxPromptChars,
		CapabilityTTL:       DefaultCapabilityTTL,
		AgentMaxTurns:       DefaultAgentMaxTurns,
	}
}

func (c Config) enabled(m Mode) bool {
	switch m {
	case ModeChatEntity:
		return c.EnableChatEntity
	case ModeAgent:
		return c.EnableAgent
	default:
		return c.EnableRawJSON
	}
}

// Observer receives extraction measurements. metrics.ExtractorMetrics
// implements it.
type Observer interface {
	ObserveAttempt(mode Mode, success bool, code string, duration time.Duration)
	ObserveFallback(from, to Mode)
	ObserveCapability(provider string, hit bool)
	ObserveBatch(items int, success bool, code string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(Mode, bool, string, time.Duration) {}
func (nopObserver) ObserveFallback(Mode, Mode)                       {}
func (nopObserver) ObserveCapability(string, bool)                   {}
func (nopObserver) ObserveBatch(int, bool, string, time.Duration)    {}

// Extractor runs the structured extraction chain. It is safe for concurrent use.
type Extractor struct {
	model    ChatModel
	cfg      Config
	cache    CapabilityCache
	ledger   costctx.Ledger
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCapabilityCache sets the provider capability cache.
func WithCapabilityCache(c CapabilityCache) Option {
	return func(e *Extractor) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithLedger sets the ledger that records token usage per call.
func WithLedger(l costctx.Ledger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.ledger = l
		}
	}
}

// WithObserver sets the measurement observer.
func WithObserver(o Observer) Option {
	return func(e *Extractor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the clock used for capability timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor creates an Extractor. A nil model makes every attempt
// report <MODE>_UNAVAILABLE.
func NewExtractor(model ChatModel, cfg Config, opts ...Option) *Extractor {
	e := &Extractor{
		model:    model,
		cfg:      cfg,
		cache:    NewMemoryCapabilityCache(),
		ledger:   costctx.NopLedger{},
		observer: nopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "llm.extractor")
	return e
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// attempt is the outcome of a single mode.
type attempt struct {
	findings []rawFinding
	ok       bool
	repaired bool
	mode     string
	code     string
	raw      string
}

func attemptOK(findings []rawFinding, repaired bool, mode string) attempt {
	return attempt{findings: findings, ok: true, repaired: repaired, mode: mode}
}

func attemptFailed(code, raw string) attempt {
	return attempt{mode: code, code: code, raw: raw}
}

// Extract screens text with the configured strategy chain. fragment is the
// rule's custom instruction, appended to the system prompt when non-blank.
// Extract never fails: problems are reported through Result.ErrorCode.
func (e *Extractor) Extract(ctx context.Context, text, fragment string) Result {
	if strings.TrimSpace(text) == "" {
		return Success(nil, false, ModeEmptyInput)
	}

	system := ComposeSystemPrompt(fragment)
	provider := e.provider()
	order := e.AttemptOrder(ctx, provider)
	if len(order) == 0 {
		return Failure(CodeAttemptDisabled, "", CodeAttemptDisabled)
	}

	var last attempt
	for i, mode := range order {
		last = e.runAttempt(ctx, mode, system, text)
		if last.ok {
			e.cache.Put(ctx, provider, Capability{PreferredMode: mode, UpdatedAt: e.now()})
			return Success(normalize(last.findings, pipeline.TextLength(text)), last.repaired, last.mode)
		}
		if i < len(order)-1 {
			next := order[i+1]
			e.logger.Info("L3_STRUCTURED_FALLBACK",
				"from", mode,
				"to", next,
				"reason", firstNonBlank(last.code, "UNKNOWN"),
			)
			e.observer.ObserveFallback(mode, next)
		}
	}

	return Failure(
		firstNonBlank(last.code, CodeStructuredFailed),
		last.raw,
		firstNonBlank(last.mode, CodeStructuredFailed),
	)
}

// AttemptOrder returns the modes Extract would try for provider: the cached
// preferred mode first, then the strategy preset, de-duplicated and filtered
// to the enabled modes.
func (e *Extractor) AttemptOrder(ctx context.Context, provider string) []Mode {
	candidates := make([]Mode, 0, 4)
	if capability, ok := e.capability(ctx, provider); ok {
		candidates = append(candidates, capability.PreferredMode)
	}
	candidates = append(candidates, e.strategy().Order()...)

	order := make([]Mode, 0, len(candidates))
	seen := make(map[Mode]bool, len(candidates))
	for _, m := range candidates {
		if m == "" || seen[m] || !e.cfg.enabled(m) {
			continue
		}
		seen[m] = true
		order = append(order, m)
	}
	return order
}

func (e *Extractor) strategy() Strategy {
	s, _ := ParseStrategy(string(e.cfg.Strategy))
	return s
}

func (e *Extractor) provider() string {
	if e.model == nil {
		return UnknownProvider
	}
	return NormalizeProvider(e.model.Provider())
}

// capability returns the cached, unexpired preference for provider. Expired
// entries are evicted.
func (e *Extractor) capability(ctx context.Context, provider string) (Capability, bool) {
	capability, ok := e.cache.Get(ctx, provider)
	if !ok {
		e.observer.ObserveCapability(provider, false)
		return Capability{}, false
	}
	if capability.Expired(e.now(), e.cfg.CapabilityTTL) {
		e.cache.Delete(ctx, provider)
		e.observer.ObserveCapability(provider, false)
		return Capability{}, false
	}
	e.observer.ObserveCapability(provider, true)
	return capability, true
}

// runAttempt executes one mode under the attempt timeout. The cost
// attribution of ctx is captured before the attempt goroutine starts and bound
// onto the attempt context. A result arriving after the timeout is discarded.
func (e *Extractor) runAttempt(ctx context.Context, mode Mode, system, text string) attempt {
	start := time.Now()
	result := e.timedAttempt(ctx, mode, system, text)
	e.observer.ObserveAttempt(mode, result.ok, result.code, time.Since(start))
	return result
}

func (e *Extractor) timedAttempt(ctx context.Context, mode Mode, system, text string) attempt {
	if e.cfg.AttemptTimeout <= 0 {
		return e.safeExecute(ctx, mode, system, text)
	}

	captured := costctx.Capture(ctx)
	actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	done := make(chan attempt, 1)
	go func() {
		done <- e.safeExecute(costctx.Bind(actx, captured), mode, system, text)
	}()

	select {
	case a := <-done:
		if actx.Err() != nil {
			return e.abandoned(ctx, mode)
		}
		return a
	case <-actx.Done():
		return e.abandoned(ctx, mode)
	}
}

// abandoned classifies an attempt cut short by its context.
func (e *Extractor) abandoned(parent context.Context, mode Mode) attempt {
	if parent.Err() != nil {
		return attemptFailed(mode.Code(suffixInterrupted), "")
	}
	e.logger.Warn("L3 attempt timeout", "mode", mode, "timeout", e.cfg.AttemptTimeout)
	return attemptFailed(mode.Code(suffixTimeout), "")
}

// safeExecute converts a panic inside a model adapter into a call failure.
func (e *Extractor) safeExecute(ctx context.Context, mode Mode, system, text string) (a attempt) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("L3 attempt panicked", "mode", mode, "panic", fmt.Sprint(r))
			a = attemptFailed(mode.Code(suffixCallFailed), "")
		}
	}()
	if e.model == nil {
		return attemptFailed(mode.Code(suffixUnavailable), "")
	}
	switch mode {
	case ModeChatEntity:
		return e.tryChatEntity(ctx, system, text)
	case ModeAgent:
		return e.tryAgent(ctx, system, text)
	default:
		return e.tryRawJSON(ctx, system, text)
	}
}

// complete calls the model and records token usage against the attribution
// carried by ctx.
func (e *Extractor) complete(ctx context.Context, op string, req Request) (*Completion, error) {
	comp, err := e.model.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if comp != nil {
		e.ledger.Record(ctx, costctx.Usage{
			Provider:         e.provider(),
			Model:            comp.Model,
			Operation:        op,
			PromptTokens:     comp.Usage.PromptTokens,
			CompletionTokens: comp.Usage.CompletionTokens,
		})
	}
	return comp, nil
}

func (e *Extractor) callFailure(mode Mode, err error) attempt {
	if errors.Is(err, ErrUnsupported) {
		return attemptFailed(mode.Code(suffixUnavailable), "")
	}
	e.logger.Warn("L3 attempt call failed", "mode", mode, "error", err)
	return attemptFailed(mode.Code(suffixCallFailed), "")
}

func (e *Extractor) tryChatEntity(ctx context.Context, system, text string) attempt {
	comp, err := e.complete(ctx, string(ModeChatEntity), Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: text}},
		Format:   &ResponseFormat{Name: "findings", Schema: json.RawMessage(findingsSchema)},
	})
	if err != nil {
		return e.callFailure(ModeChatEntity, err)
	}
	if comp == nil || comp.Response == nil {
		return attemptFailed(ModeChatEntity.Code(suffixEmpty), "")
	}

	var (
		findings []rawFinding
		ok       bool
	)
	switch r := comp.Response.(type) {
	case StructuredResponse:
		findings, ok = parseStructured(r.JSON)
	case TextResponse:
		findings, _, ok = parseText(r.Text, false)
	case ToolCallResponse:
		findings, ok = parseStructured(r.Arguments)
	}
	raw := responseText(comp.Response)
	if strings.TrimSpace(raw) == "" {
		return attemptFailed(ModeChatEntity.Code(suffixEmpty), "")
	}
	if !ok {
		return attemptFailed(ModeChatEntity.Code(suffixParseFailed), raw)
	}
	return attemptOK(findings, false, string(ModeChatEntity))
}

func (e *Extractor) tryRawJSON(ctx context.Context, system, text string) attempt {
	comp, err := e.complete(ctx, string(ModeRawJSON), Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: text}},
	})
	if err != nil {
		return e.callFailure(ModeRawJSON, err)
	}
	raw := ""
	if comp != nil {
		raw = responseText(comp.Response)
	}
	if strings.TrimSpace(raw) == "" {
		return attemptFailed(ModeRawJSON.Code(suffixEmpty), raw)
	}

	findings, repaired, ok := parseText(raw, true)
	if !ok {
		return attemptFailed(ModeRawJSON.Code(suffixParseFailed), raw)
	}
	if repaired {
		return attemptOK(findings, true, ModeRawJSONRepaired)
	}
	return attemptOK(findings, false, string(ModeRawJSON))
}

// tryAgent runs a bounded tool loop in which the model must call
// submit_findings. Unparseable replies are answered with a nudge until the
// turn budget runs out.
func (e *Extractor) tryAgent(ctx context.Context, system, text string) attempt {
	tool := Tool{
		Name:        findingsToolName,
		Description: "Submit the risk findings for the user text.",
		Parameters:  json.RawMessage(findingsSchema),
	}
	messages := []Message{{Role: RoleUser, Content: text}}
	turns := e.cfg.AgentMaxTurns
	if turns <= 0 {
		turns = DefaultAgentMaxTurns
	}

	lastRaw := ""
	for turn := 0; turn < turns; turn++ {
		comp, err := e.complete(ctx, string(ModeAgent), Request{
			System:     system,
			Messages:   messages,
			Tools:      []Tool{tool},
			ToolChoice: findingsToolName,
		})
		if err != nil {
			return e.callFailure(ModeAgent, err)
		}
		if comp == nil || comp.Response == nil {
			return attemptFailed(ModeAgent.Code(suffixEmpty), "")
		}

		switch r := comp.Response.(type) {
		case ToolCallResponse:
			lastRaw = string(r.Arguments)
			if r.Name == findingsToolName {
				if findings, ok := parseStructured(r.Arguments); ok {
					return attemptOK(findings, false, string(ModeAgent))
				}
			}
			messages = append(messages,
				Message{Role: RoleAssistant, ToolCall: &r},
				Message{Role: RoleTool, ToolCallID: r.ID, Content: agentNudge},
			)
		case StructuredResponse:
			lastRaw = string(r.JSON)
			if findings, ok := parseStructured(r.JSON); ok {
				return attemptOK(findings, false, string(ModeAgent))
			}
			messages = append(messages,
				Message{Role: RoleAssistant, Content: lastRaw},
				Message{Role: RoleUser, Content: agentNudge},
			)
		case TextResponse:
			lastRaw = r.Text
			if findings, _, ok := parseText(r.Text, false); ok {
				return attemptOK(findings, false, string(ModeAgent))
			}
			messages = append(messages,
				Message{Role: RoleAssistant, Content: r.Text},
				Message{Role: RoleUser, Content: agentNudge},
			)
		}
	}

	if strings.TrimSpace(lastRaw) == "" {
		return attemptFailed(ModeAgent.Code(suffixEmpty), "")
	}
	return attemptFailed(ModeAgent.Code(suffixParseFailed), lastRaw)
}
