package intent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

type staticContacts []core.Contact

func (s staticContacts) ListContacts(ctx context.Context) ([]core.Contact, error) { return s, nil }

var testContacts = staticContacts{
	{Name: "Sarah", Email: "sarah@x.com", Phone: "+1 555 010 2000"},
	{Name: "David Chen", Email: "david@acme.com", Phone: "555-010-3000", Aliases: []string{"Dave"}},
}

type fakeAI struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   atomic.Int32
	block   chan struct{}
	prompts []string
}

func (f *fakeAI) Chat(ctx context.Context, history []core.Message) (core.Message, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, history[len(history)-1].Content)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return core.Message{}, ctx.Err()
		}
	}
	if f.err != nil {
		return core.Message{}, f.err
	}
	return core.Message{Role: core.RoleAssistant, Content: f.reply}, nil
}

func llmSettings() *config.Settings {
	s := config.DefaultSettings()
	s.Intent.LLMFallback = true
	return s
}

func TestParser_PatternTier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		command    string
		action     core.Action
		params     map[string]any
		confidence float64
		reason     string
	}{
		{
			command:    "email Sarah about the budget",
			action:     core.ActionEmail,
			params:     map[string]any{"to": "sarah@x.com", "to_name": "Sarah", "body": "about the budget"},
			confidence: 0.9,
		},
		{
			command:    "send an email to jane at example dot com saying the report is ready",
			action:     core.ActionEmail,
			params:     map[string]any{"to": "jane@example.com", "to_name": "jane at example dot com", "body": "the report is ready"},
			confidence: 0.9,
		},
		{
			command:    "email Zebulon about the budget",
			action:     core.ActionEmail,
			params:     map[string]any{"to": "Zebulon", "to_name": "Zebulon", "body": "about the budget"},
			confidence: 0.6,
			reason:     ReasonUnknownRecipient,
		},
		{
			command:    "text Dave saying running late",
			action:     core.ActionText,
			params:     map[string]any{"to": "555-010-3000", "to_name": "Dave", "body": "running late"},
			confidence: 0.9,
		},
		{
			command:    "text David Chen the demo is working",
			action:     core.ActionText,
			params:     map[string]any{"to": "555-010-3000", "to_name": "David Chen", "body": "the demo is working"},
			confidence: 0.9,
		},
		{
			command:    "text Sarah the demo is working",
			action:     core.ActionText,
			params:     map[string]any{"to": "+1 555 010 2000", "to_name": "Sarah", "body": "the demo is working"},
			confidence: 0.9,
		},
		{
			command:    "tell Zebulon to call me",
			action:     core.ActionText,
			params:     map[string]any{"to": "Zebulon", "to_name": "Zebulon", "body": "call me"},
			confidence: 0.6,
			reason:     ReasonUnknownRecipient,
		},
		{
			command:    "remind me in thirty minutes to call mom",
			action:     core.ActionReminder,
			params:     map[string]any{"what": "call mom", "delay_seconds": 1800},
			confidence: 0.9,
		},
		{
			command:    "remind me to stretch in an hour and a half",
			action:     core.ActionReminder,
			params:     map[string]any{"what": "stretch", "delay_seconds": 5400},
			confidence: 0.9,
		},
		{
			command:    "set a reminder to water the plants tomorrow morning",
			action:     core.ActionReminder,
			params:     map[string]any{"what": "water the plants", "when": "tomorrow morning"},
			confidence: 0.9,
		},
		{
			command:    "don't forget to renew the domain",
			action:     core.ActionReminder,
			params:     map[string]any{"what": "renew the domain"},
			confidence: 0.9,
		},
		{
			command:    "look up flights to Lisbon",
			action:     core.ActionSearch,
			params:     map[string]any{"query": "flights to Lisbon"},
			confidence: 0.9,
		},
		{
			command:    "what is the capital of Peru?",
			action:     core.ActionSearch,
			params:     map[string]any{"query": "the capital of Peru"},
			confidence: 0.9,
		},
		{
			command:    "make a note that the wifi password changed",
			action:     core.ActionNote,
			params:     map[string]any{"content": "the wifi password changed"},
			confidence: 0.9,
		},
		{
			command:    "write that down",
			action:     core.ActionNote,
			params:     map[string]any{"content": ""},
			confidence: 0.6,
			reason:     ReasonMissingParam,
		},
		{
			command:    "order two large pizzas from Luigi's",
			action:     core.ActionOrder,
			params:     map[string]any{"item": "large pizzas", "quantity": 2, "store": "Luigi's"},
			confidence: 0.9,
		},
		{
			command:    "add oat milk to the shopping list",
			action:     core.ActionOrder,
			params:     map[string]any{"item": "oat milk", "quantity": 1},
			confidence: 0.9,
		},
		{
			command:    "schedule a meeting with David tomorrow at 3pm for forty-five minutes",
			action:     core.ActionCalendar,
			params:     map[string]any{"title": "meeting", "with": "David", "when": "tomorrow at 3pm", "duration_seconds": 2700},
			confidence: 0.9,
		},
		{
			command:    "put dentist appointment on my calendar",
			action:     core.ActionCalendar,
			params:     map[string]any{"title": "dentist appointment"},
			confidence: 0.9,
		},
	}

	p := NewParser(testContacts, nil, config.Static(config.DefaultSettings()))
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got := p.Parse(context.Background(), tt.command)
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.params, got.Params)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.Equal(t, core.TierPattern, got.Tier)
			assert.Equal(t, tt.reason != "", got.HumanRequired)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.command, got.RawText)
		})
	}
}

func TestParser_Fallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		settings *config.Settings
		ai       *fakeAI
		calls    int32
	}{
		{name: "llm disabled", settings: config.DefaultSettings(), ai: &fakeAI{reply: `{"action":"note"}`}, calls: 0},
		{name: "collaborator down", settings: llmSettings(), ai: &fakeAI{err: core.ErrCollaboratorUnavailable}, calls: 1},
		{name: "garbage reply", settings: llmSettings(), ai: &fakeAI{reply: "sorry, I can't"}, calls: 1},
	}
	tests[0].settings.Intent.LLMFallback = false

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(testContacts, tt.ai, config.Static(tt.settings))
			got := p.Parse(context.Background(), "play some jazz")

			assert.Equal(t, core.ActionUnknown, got.Action)
			assert.Equal(t, map[string]any{"text": "play some jazz"}, got.Params)
			assert.Zero(t, got.Confidence)
			assert.True(t, got.HumanRequired)
			assert.Equal(t, core.TierFallback, got.Tier)
			assert.Equal(t, tt.calls, tt.ai.calls.Load())
		})
	}
}

func TestParser_NilProviderFallsBack(t *testing.T) {
	t.Parallel()
	p := NewParser(testContacts, nil, config.Static(llmSettings()))
	got := p.Parse(context.Background(), "play some jazz")
	assert.Equal(t, core.ActionUnknown, got.Action)
	assert.Equal(t, ReasonUnclassified, got.Reason)

	empty := p.Parse(context.Background(), "   ")
	assert.Equal(t, core.ActionUnknown, empty.Action)
	assert.True(t, empty.HumanRequired)
}

func TestParser_LLMTier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		reply  string
		action core.Action
		human  bool
		reason string
	}{
		{
			name:   "confident",
			reply:  "```json\n{\"action\": \"Note\", \"params\": {\"content\": \"jazz\"}, \"confidence\": 0.8}\n```",
			action: core.ActionNote,
		},
		{
			name:   "low confidence",
			reply:  `{"action": "search", "params": {"query": "jazz"}, "confidence": 0.3}`,
			action: core.ActionSearch,
			human:  true,
			reason: ReasonLowConfidence,
		},
		{
			name:   "action outside the seven",
			reply:  `{"intent": "play_music", "params": {"genre": "jazz"}, "confidence": 0.95}`,
			action: core.ActionUnknown,
			human:  true,
			reason: "unrecognized_action",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &fakeAI{reply: tt.reply}
			p := NewParser(testContacts, ai, config.Static(llmSettings()))

			got := p.Parse(context.Background(), "play some jazz")
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, core.TierLLM, got.Tier)
			assert.Equal(t, tt.human, got.HumanRequired)
			assert.Equal(t, tt.reason, got.Reason)
			require.Len(t, ai.prompts, 1)
			assert.Contains(t, ai.prompts[0], "email, text, reminder, search, note, order, calendar")
		})
	}
}

func TestParser_LLMCache(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	ai := &fakeAI{reply: `{"action": "note", "params": {"content": "jazz"}, "confidence": 0.9}`}
	p := NewParser(testContacts, ai, config.Static(llmSettings()), WithClock(clock))
	ctx := context.Background()

	first := p.Parse(ctx, "Play some  jazz")
	second := p.Parse(ctx, "play some jazz")
	assert.Equal(t, int32(1), ai.calls.Load(), "normalized repeat hits the cache")
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, "play some jazz", second.RawText)

	second.Params["content"] = "mutated"
	third := p.Parse(ctx, "play some jazz")
	assert.Equal(t, "jazz", third.Params["content"])

	advance(5*time.Minute + time.Second)
	p.Parse(ctx, "play some jazz")
	assert.Equal(t, int32(2), ai.calls.Load(), "expired entries are refetched")

	p.InvalidateCache()
	p.Parse(ctx, "play some jazz")
	assert.Equal(t, int32(3), ai.calls.Load())
}

func TestParser_LLMFailuresAreNotCached(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{err: errors.New("boom")}
	p := NewParser(testContacts, ai, config.Static(llmSettings()))

	p.Parse(context.Background(), "play some jazz")
	p.Parse(context.Background(), "play some jazz")
	assert.Equal(t, int32(2), ai.calls.Load())
}

func TestParser_LLMSingleflight(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{
		reply: `{"action": "note", "params": {"content": "jazz"}, "confidence": 0.9}`,
		block: make(chan struct{}),
	}
	p := NewParser(testContacts, ai, config.Static(llmSettings()))

	var wg sync.WaitGroup
	results := make([]core.ParsedIntent, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Parse(context.Background(), "play some jazz")
		}(i)
	}

	require.Eventually(t, func() bool { return ai.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(ai.block)
	wg.Wait()

	assert.Equal(t, int32(1), ai.calls.Load())
	for _, r := range results {
		assert.Equal(t, core.ActionNote, r.Action)
	}
}

func TestParser_LLMTimeout(t *testing.T) {
	t.Parallel()
	s := llmSettings()
	s.Intent.LLMTimeout = 20 * time.Millisecond
	ai := &fakeAI{block: make(chan struct{})}
	p := NewParser(testContacts, ai, config.Static(s))

	start := time.Now()
	got := p.Parse(context.Background(), "play some jazz")
	assert.Equal(t, core.ActionUnknown, got.Action)
	assert.Equal(t, core.TierFallback, got.Tier)
	assert.Less(t, time.Since(start), time.Second)
}
