package llm

import (
	"context"
	"sync"
	"time"
)

// scriptedModel answers each attempt mode with a canned reply and records the
// order in which modes were called.
type scriptedModel struct {
	provider string

	mu      sync.Mutex
	calls   []string
	replies map[string][]reply
}

type reply struct {
	response Response
	err      error
	delay    time.Duration

	// afterDeadline answers successfully only once the call context is done.
	afterDeadline bool
}

func newScriptedModel(provider string) *scriptedModel {
	return &scriptedModel{provider: provider, replies: make(map[string][]reply)}
}

func (m *scriptedModel) on(mode string, r reply) *scriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[mode] = append(m.replies[mode], r)
	return m
}

func (m *scriptedModel) Provider() string { return m.provider }

func (m *scriptedModel) Complete(ctx context.Context, req Request) (*Completion, error) {
	mode := modeOf(req)

	m.mu.Lock()
	m.calls = append(m.calls, mode)
	queue := m.replies[mode]
	var r reply
	if len(queue) > 0 {
		r = queue[0]
		if len(queue) > 1 {
			m.replies[mode] = queue[1:]
		}
	}
	m.mu.Unlock()

	if r.afterDeadline {
		<-ctx.Done()
		return &Completion{Response: r.response, Model: "test-model"}, nil
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Completion{Response: r.response, Model: "test-model", Usage: Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

func (m *scriptedModel) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func modeOf(req Request) string {
	switch {
	case len(req.Tools) > 0:
		return string(ModeAgent)
	case req.Format != nil:
		return string(ModeChatEntity)
	default:
		return string(ModeRawJSON)
	}
}

func textReply(s string) reply {
	return reply{response: TextResponse{Text: s}}
}

func structuredReply(s string) reply {
	return reply{response: StructuredResponse{JSON: []byte(s)}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AttemptTimeout = 0
	cfg.BatchTimeout = 0
	return cfg
}
