package command

import (
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

const WakeContinuation = "(continuation)"

const trimSet = ",.!?;: \t\n"

type Match struct {
	WakePhrase string
	Command    string
}

// Extractor finds wake phrases in flushed command text and tracks the
// per-session continuation window.
type Extractor struct {
	settings config.Provider
	speakers *LastSpeakers
	now      func() time.Time

	mu       sync.Mutex
	lastWake map[string]time.Time
}

type ExtractorOption func(*Extractor)

func WithExtractorClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

func NewExtractor(settings config.Provider, speakers *LastSpeakers, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		settings: settings,
		speakers: speakers,
		now:      time.Now,
		lastWake: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract searches text for the configured wake phrases, longest first.
// The command is whatever follows the first occurrence of the phrase.
func (e *Extractor) Extract(text string) (Match, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range e.settings.Current().WakePhrases {
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		rest := text
		if len(lower) != len(text) {
			// lowering changed byte widths, offsets only hold in the lowered copy
			rest = lower
		}
		rest = rest[idx+len(phrase):]
		return Match{WakePhrase: phrase, Command: strings.Trim(rest, trimSet)}, true
	}
	return Match{}, false
}

// ExtractSession is Extract plus the continuation window: a flush without a
// wake phrase that lands within the window after a woken flush is still a command.
// The window is consumed by the continuation.
func (e *Extractor) ExtractSession(sessionID, text string) (Match, bool) {
	now := e.now()
	window := e.settings.Current().Session.ContinuationWindow

	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.Extract(text); ok {
		e.lastWake[sessionID] = now
		return m, true
	}

	last, ok := e.lastWake[sessionID]
	if !ok {
		return Match{}, false
	}
	delete(e.lastWake, sessionID)
	if window <= 0 || now.Sub(last) > window {
		return Match{}, false
	}
	cmd := strings.Trim(text, trimSet)
	if cmd == "" {
		return Match{}, false
	}
	return Match{WakePhrase: WakeContinuation, Command: cmd}, true
}

// Observe records the last non-owner speaker of segments for the session.
func (e *Extractor) Observe(sessionID string, segments []core.Segment) {
	e.speakers.Observe(sessionID, segments)
}

// Forget drops all per-session state once the session closes.
func (e *Extractor) Forget(sessionID string) {
	e.mu.Lock()
	delete(e.lastWake, sessionID)
	e.mu.Unlock()
	e.speakers.Forget(sessionID)
}
