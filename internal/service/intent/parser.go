package intent

import (
	"context"
	"strings"
	"time"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

const ReasonUnclassified = "unclassified"

// Tier is one classification strategy. Tiers run in order until one claims the command.
type Tier interface {
	Name() string
	Parse(ctx context.Context, command string) (core.ParsedIntent, bool)
}

// Parser turns a command string into a ParsedIntent. It never fails: a
// command no tier can classify comes back as the unknown intent.
type Parser struct {
	tiers []Tier
	cache *Cache
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock the result cache expires entries by.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewParser(contacts ContactLister, ai core.AIProvider, settings config.Provider, opts ...Option) *Parser {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cache := NewCache(o.now)
	return &Parser{
		cache: cache,
		tiers: []Tier{
			&patternTier{contacts: contacts},
			&llmTier{ai: ai, settings: settings, cache: cache},
		},
	}
}

func (p *Parser) Parse(ctx context.Context, command string) core.ParsedIntent {
	command = strings.TrimSpace(command)
	if command == "" {
		return core.Unknown(command, "empty_command")
	}

	for _, tier := range p.tiers {
		if intent, ok := tier.Parse(ctx, command); ok {
			log.FromCtx(ctx).Debug().
				Str("tier", tier.Name()).
				Str("action", string(intent.Action)).
				Msg("intent parsed")
			return intent
		}
	}

	log.FromCtx(ctx).Info().Str("command", command).Msg("no intent tier matched, passing through")
	return core.Unknown(command, ReasonUnclassified)
}

// InvalidateCache drops every cached LLM classification, e.g. after a settings change.
func (p *Parser) InvalidateCache() {
	p.cache.Invalidate()
}
