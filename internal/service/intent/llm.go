package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/providers/llm"
	"github.com/sandevgo/percept/pkg/log"
)

const ReasonLowConfidence = "low_confidence"

type llmReply struct {
	Action     string         `json:"action"`
	Intent     string         `json:"intent"`
	Params     map[string]any `json:"params"`
	Confidence float64        `json:"confidence"`
}

func buildIntentPrompt(command string) string {
	actions := make([]string, 0, len(core.Actions))
	for _, a := range core.Actions {
		actions = append(actions, string(a))
	}
	return fmt.Sprintf(
		`Classify the voice command. Output format: one JSON object {"action": string, "params": object, "confidence": number between 0 and 1}. Actions: [%s]. Params per action: email {to, subject, body}; text {to, body}; reminder {what, delay_seconds or when}; search {query}; note {content}; order {item, quantity, store}; calendar {title, when, duration_seconds, with}. Use "unknown" when none fits. Command: %q`,
		strings.Join(actions, ", "), command,
	)
}

type llmTier struct {
	ai       core.AIProvider
	settings config.Provider
	cache    *Cache
	group    singleflight.Group
}

func (*llmTier) Name() string { return core.TierLLM }

// Parse classifies command through the language model. Identical commands
// share one call and successful results are cached.
func (t *llmTier) Parse(ctx context.Context, command string) (core.ParsedIntent, bool) {
	s := t.settings.Current().Intent
	if !s.LLMFallback || t.ai == nil {
		return core.ParsedIntent{}, false
	}

	key := cacheKey(command)
	if hit, ok := t.cache.Get(key); ok {
		log.FromCtx(ctx).Debug().Str("command", command).Msg("intent cache hit")
		hit.RawText = command
		return hit, true
	}

	v, err, shared := t.group.Do(key, func() (any, error) {
		// A caller that lost the race to the cache still finds the result here.
		if hit, ok := t.cache.Get(key); ok {
			return hit, nil
		}
		intent, err := t.classify(ctx, command, s)
		if err != nil {
			return nil, err
		}
		t.cache.Put(key, intent, s.CacheTTL)
		return intent, nil
	})
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("command", command).Msg("llm intent tier failed")
		return core.ParsedIntent{}, false
	}

	intent := cloneIntent(v.(core.ParsedIntent))
	intent.RawText = command
	log.FromCtx(ctx).Debug().
		Str("action", string(intent.Action)).
		Float64("confidence", intent.Confidence).
		Bool("shared", shared).
		Msg("llm intent")
	return intent, true
}

func (t *llmTier) classify(ctx context.Context, command string, s config.IntentSettings) (core.ParsedIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.LLMTimeout)
	defer cancel()

	resp, err := t.ai.Chat(ctx, []core.Message{
		{Role: core.RoleUser, Content: buildIntentPrompt(command)},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ParsedIntent{}, fmt.Errorf("%w: intent classification timed out after %s", core.ErrCollaboratorUnavailable, s.LLMTimeout)
		}
		return core.ParsedIntent{}, fmt.Errorf("intent classification: %w", err)
	}

	var reply llmReply
	if err := llm.DecodeObject(resp.Content, &reply); err != nil {
		return core.ParsedIntent{}, fmt.Errorf("parse intent classification: %w", err)
	}
	return fromReply(reply, command, s.HumanThreshold), nil
}

func fromReply(r llmReply, command string, threshold float64) core.ParsedIntent {
	action := core.Action(strings.ToLower(strings.TrimSpace(first(r.Action, r.Intent))))
	params := r.Params
	if params == nil {
		params = map[string]any{}
	}

	intent := core.ParsedIntent{
		Action:     action,
		Params:     params,
		Confidence: min(max(r.Confidence, 0), 1),
		Tier:       core.TierLLM,
		RawText:    command,
	}
	switch {
	case !action.Known():
		intent.Action = core.ActionUnknown
		intent.Params = map[string]any{"text": command}
		intent.HumanRequired = true
		intent.Reason = "unrecognized_action"
	case intent.Confidence < threshold:
		intent.HumanRequired = true
		intent.Reason = ReasonLowConfidence
	}
	return intent
}

// cacheKey lower-cases and collapses whitespace.
func cacheKey(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}
