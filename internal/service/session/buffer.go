package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

var ErrClosed = errors.New("session buffer closed")

// CommandFlush is what the buffer hands over after the command silence.
type CommandFlush struct {
	SessionID string
	Text      string
	Segments  []core.Segment

	// Recent holds the open conversation so far, in arrival order.
	Recent         []core.Utterance
	ConversationID string
	Speakers       []string
	StartedAt      time.Time
}

type CommandHandler func(ctx context.Context, flush CommandFlush)

type ConversationHandler func(ctx context.Context, conv *core.Conversation)

type session struct {
	id string

	mu   sync.Mutex
	ctx  context.Context
	dead bool

	cmd      []core.Segment
	cmdTimer Timer
	cmdGen   uint64

	conv      *core.Conversation
	convTimer Timer
	convGen   uint64

	// flushMu serializes handler runs for the session.
	flushMu sync.Mutex
}

// Buffer accumulates segments per session and fires the command and
// conversation handlers after their silence thresholds.
type Buffer struct {
	settings       config.Provider
	clock          Clock
	onCommand      CommandHandler
	onConversation ConversationHandler

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	running sync.WaitGroup
}

type Option func(*Buffer)

func WithClock(c Clock) Option {
	return func(b *Buffer) { b.clock = c }
}

func NewBuffer(settings config.Provider, onCommand CommandHandler, onConversation ConversationHandler, opts ...Option) *Buffer {
	b := &Buffer{
		settings:       settings,
		clock:          RealClock(),
		onCommand:      onCommand,
		onConversation: onConversation,
		sessions:       make(map[string]*session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnSegment validates seg and appends it to both accumulators of the session,
// re-arming both silence timers.
func (b *Buffer) OnSegment(ctx context.Context, sessionID string, seg core.Segment) error {
	if seg.SessionID == "" {
		seg.SessionID = sessionID
	}
	if err := seg.Validate(); err != nil {
		return err
	}
	if seg.SessionID != sessionID {
		return fmt.Errorf("%w: segment for %q routed to %q", core.ErrInputMalformed, seg.SessionID, sessionID)
	}
	now := b.clock.Now()
	if seg.ReceivedAt.IsZero() {
		seg.ReceivedAt = now
	}
	settings := b.settings.Current()

	for {
		s, err := b.session(sessionID)
		if err != nil {
			return err
		}

		s.mu.Lock()
		if s.dead {
			// lost the race with a conversation end, take a fresh session
			s.mu.Unlock()
			continue
		}
		s.ctx = context.WithoutCancel(ctx)
		s.cmd = append(s.cmd, seg)
		s.appendUtterance(seg, now)

		s.cmdGen++
		if s.cmdTimer != nil {
			s.cmdTimer.Stop()
		}
		cmdGen := s.cmdGen
		s.cmdTimer = b.clock.AfterFunc(settings.Session.CommandSilence, func() { b.flushCommand(s, cmdGen) })

		s.convGen++
		if s.convTimer != nil {
			s.convTimer.Stop()
		}
		convGen := s.convGen
		s.convTimer = b.clock.AfterFunc(settings.Session.ConversationSilence, func() { b.endConversation(s, convGen) })
		s.mu.Unlock()
		return nil
	}
}

func (b *Buffer) session(id string) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s, ok := b.sessions[id]
	if !ok {
		s = &session{id: id}
		b.sessions[id] = s
	}
	return s, nil
}

func (s *session) appendUtterance(seg core.Segment, now time.Time) {
	if s.conv == nil {
		s.conv = &core.Conversation{
			ID:        uuid.NewString(),
			SessionID: s.id,
			StartedAt: seg.ReceivedAt,
		}
	}
	c := s.conv
	c.Utterances = append(c.Utterances, core.Utterance{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		Seq:            len(c.Utterances),
		Text:           strings.TrimSpace(seg.Text),
		SpeakerID:      seg.SpeakerID,
		StartTS:        seg.Start,
		EndTS:          seg.End,
		Confidence:     seg.Confidence,
		IsCommand:      seg.IsCommandChannel,
		CreatedAt:      now,
	})
	c.LastActivityAt = seg.ReceivedAt
	c.WordCount += len(strings.Fields(seg.Text))
	if seg.SpeakerID != "" && !contains(c.Speakers, seg.SpeakerID) {
		c.Speakers = append(c.Speakers, seg.SpeakerID)
	}
}

func (b *Buffer) flushCommand(s *session, gen uint64) {
	if !b.begin() {
		return
	}
	defer b.running.Done()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if gen != s.cmdGen || len(s.cmd) == 0 {
		s.mu.Unlock()
		return
	}
	segs := s.cmd
	s.cmd = nil
	s.cmdTimer = nil
	ctx := s.ctx
	flush := CommandFlush{SessionID: s.id, Segments: segs}
	if s.conv != nil {
		flush.Recent = append([]core.Utterance(nil), s.conv.Utterances...)
		flush.ConversationID = s.conv.ID
		flush.Speakers = append([]string(nil), s.conv.Speakers...)
		flush.StartedAt = s.conv.StartedAt
	}
	s.mu.Unlock()

	texts := make([]string, 0, len(segs))
	for _, seg := range segs {
		texts = append(texts, strings.TrimSpace(seg.Text))
	}
	flush.Text = strings.Join(texts, " ")

	safely(ctx, "command", func() { b.onCommand(ctx, flush) })
}

func (b *Buffer) endConversation(s *session, gen uint64) {
	if !b.begin() {
		return
	}
	defer b.running.Done()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	b.mu.Lock()
	s.mu.Lock()
	if gen != s.convGen || s.conv == nil {
		s.mu.Unlock()
		b.mu.Unlock()
		return
	}
	conv := s.conv
	s.conv = nil
	s.convTimer = nil
	ctx := s.ctx
	if len(s.cmd) == 0 {
		s.dead = true
		if b.sessions[s.id] == s {
			delete(b.sessions, s.id)
		}
	}
	s.mu.Unlock()
	b.mu.Unlock()

	conv.EndedAt = conv.LastActivityAt
	safely(ctx, "conversation", func() { b.onConversation(ctx, conv) })
}

// begin registers a timer-driven flush. Registration happens under b.mu and
// stops once the buffer is closed, so Shutdown can wait on running.
func (b *Buffer) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.running.Add(1)
	return true
}

// safely runs a handler, recovering and logging a panic.
func safely(ctx context.Context, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.FromCtx(ctx).Error().
				Str("flush", kind).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("flush handler panicked")
		}
	}()
	fn()
}

// Sessions lists the ids of open sessions in sorted order.
func (b *Buffer) Sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Participants lists the speaker ids of the session's open conversation.
func (b *Buffer) Participants(sessionID string) []string {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	return append([]string(nil), s.conv.Speakers...)
}

// Start blocks until ctx is done. The buffer is driven by OnSegment.
func (b *Buffer) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Shutdown stops every timer and closes every open conversation through the
// conversation handler. Pending command text is not dispatched.
func (b *Buffer) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	open := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		open = append(open, s)
	}
	b.sessions = make(map[string]*session)
	b.mu.Unlock()

	sort.Slice(open, func(i, j int) bool { return open[i].id < open[j].id })

	logger := log.FromCtx(ctx)
	for _, s := range open {
		s.flushMu.Lock()
		s.mu.Lock()
		s.dead = true
		s.cmdGen++
		s.convGen++
		if s.cmdTimer != nil {
			s.cmdTimer.Stop()
		}
		if s.convTimer != nil {
			s.convTimer.Stop()
		}
		if n := len(s.cmd); n > 0 {
			logger.Warn().Str("session_id", s.id).Int("segments", n).Msg("dropping pending command on shutdown")
		}
		conv := s.conv
		s.cmd, s.conv = nil, nil
		s.mu.Unlock()

		if conv != nil {
			conv.EndedAt = conv.LastActivityAt
			safely(ctx, "conversation", func() { b.onConversation(ctx, conv) })
		}
		s.flushMu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		b.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
