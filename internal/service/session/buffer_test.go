package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock fires due timers synchronously inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type recorder struct {
	mu       sync.Mutex
	commands []CommandFlush
	convs    []*core.Conversation
}

func (r *recorder) command(_ context.Context, f CommandFlush) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, f)
}

func (r *recorder) conversation(_ context.Context, c *core.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs = append(r.convs, c)
}

func newTestBuffer() (*Buffer, *fakeClock, *recorder) {
	clock := newFakeClock()
	rec := &recorder{}
	b := NewBuffer(config.Static(config.DefaultSettings()), rec.command, rec.conversation, WithClock(clock))
	return b, clock, rec
}

func seg(speaker, text string) core.Segment {
	return core.Segment{SessionID: "kitchen", SpeakerID: speaker, Text: text, Start: 1, End: 2, Confidence: 0.9}
}

func TestBuffer_CommandFlushJoinsInArrivalOrder(t *testing.T) {
	b, clock, rec := newTestBuffer()
	ctx := context.Background()

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "hey jarvis")))
	clock.Advance(time.Second)
	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", " email Sarah ")))
	clock.Advance(2 * time.Second)
	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "about the budget")))

	clock.Advance(2999 * time.Millisecond)
	assert.Empty(t, rec.commands, "timer re-armed on every segment")

	clock.Advance(time.Millisecond)
	require.Len(t, rec.commands, 1)
	f := rec.commands[0]
	assert.Equal(t, "kitchen", f.SessionID)
	assert.Equal(t, "hey jarvis email Sarah about the budget", f.Text)
	assert.Len(t, f.Segments, 3)
	assert.Len(t, f.Recent, 3)
	assert.Equal(t, []string{"SPEAKER_00"}, f.Speakers)

	clock.Advance(10 * time.Second)
	assert.Len(t, rec.commands, 1, "exactly one fire per idle gap")

	require.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_SegmentsDuringFlushGoToNextFlush(t *testing.T) {
	clock := newFakeClock()
	entered := make(chan struct{})
	release := make(chan struct{})

	var (
		mu      sync.Mutex
		flushes []CommandFlush
	)
	onCommand := func(_ context.Context, f CommandFlush) {
		mu.Lock()
		flushes = append(flushes, f)
		first := len(flushes) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	}
	b := NewBuffer(config.Static(config.DefaultSettings()), onCommand, func(context.Context, *core.Conversation) {}, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "one")))
	fired := make(chan struct{})
	go func() {
		clock.Advance(3 * time.Second)
		close(fired)
	}()
	<-entered

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_02", "two")))
	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_02", "three")))
	close(release)
	<-fired

	clock.Advance(3 * time.Second)

	mu.Lock()
	texts := make([]string, 0, len(flushes))
	for _, f := range flushes {
		texts = append(texts, f.Text)
	}
	require.Len(t, flushes, 2)
	assert.Len(t, flushes[0].Segments, 1, "the in-flight flush keeps its own segments")
	mu.Unlock()
	assert.Equal(t, []string{"one", "two three"}, texts)

	require.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_ConversationEnd(t *testing.T) {
	b, clock, rec := newTestBuffer()
	ctx := context.Background()
	start := clock.Now()

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "morning")))
	clock.Advance(5 * time.Second)
	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_02", "morning to you too")))
	assert.Equal(t, []string{"SPEAKER_00", "SPEAKER_02"}, b.Participants("kitchen"))
	assert.Equal(t, []string{"kitchen"}, b.Sessions())

	clock.Advance(59 * time.Second)
	assert.Empty(t, rec.convs)
	clock.Advance(time.Second)

	require.Len(t, rec.convs, 1)
	c := rec.convs[0]
	assert.Equal(t, "kitchen", c.SessionID)
	assert.Equal(t, start, c.StartedAt)
	assert.Equal(t, start.Add(5*time.Second), c.EndedAt)
	assert.Equal(t, 5*time.Second, c.Duration())
	assert.Equal(t, 5, c.WordCount)
	require.Len(t, c.Utterances, 2)
	for i, u := range c.Utterances {
		assert.Equal(t, i, u.Seq)
		assert.Equal(t, c.ID, u.ConversationID)
	}
	assert.Empty(t, b.Sessions())
	assert.Nil(t, b.Participants("kitchen"))

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "back again")))
	clock.Advance(time.Minute)
	require.Len(t, rec.convs, 2)
	assert.NotEqual(t, rec.convs[0].ID, rec.convs[1].ID)

	require.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_RejectsMalformed(t *testing.T) {
	b, clock, rec := newTestBuffer()
	ctx := context.Background()

	err := b.OnSegment(ctx, "kitchen", core.Segment{SessionID: "kitchen", Text: "  "})
	assert.ErrorIs(t, err, core.ErrInputMalformed)
	err = b.OnSegment(ctx, "kitchen", core.Segment{SessionID: "kitchen", Text: "hi", Start: 3, End: 1})
	assert.ErrorIs(t, err, core.ErrInputMalformed)
	err = b.OnSegment(ctx, "kitchen", core.Segment{SessionID: "garage", Text: "hi"})
	assert.ErrorIs(t, err, core.ErrInputMalformed)

	clock.Advance(2 * time.Minute)
	assert.Empty(t, rec.commands, "a buffer that never received a segment never fires")
	assert.Empty(t, rec.convs)
	require.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_SessionsAreIndependent(t *testing.T) {
	b, clock, rec := newTestBuffer()
	ctx := context.Background()

	a := seg("SPEAKER_00", "jarvis note eggs")
	require.NoError(t, b.OnSegment(ctx, "kitchen", a))
	clock.Advance(2 * time.Second)
	o := seg("SPEAKER_01", "jarvis note milk")
	o.SessionID = "office"
	require.NoError(t, b.OnSegment(ctx, "office", o))

	clock.Advance(time.Second)
	require.Len(t, rec.commands, 1)
	assert.Equal(t, "kitchen", rec.commands[0].SessionID)

	clock.Advance(2 * time.Second)
	require.Len(t, rec.commands, 2)
	assert.Equal(t, "office", rec.commands[1].SessionID)
	assert.Equal(t, []string{"kitchen", "office"}, b.Sessions())

	require.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_HandlerPanicIsRecovered(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	b := NewBuffer(config.Static(config.DefaultSettings()),
		func(context.Context, CommandFlush) {
			calls++
			panic("boom")
		},
		func(context.Context, *core.Conversation) {},
		WithClock(clock),
	)
	ctx := context.Background()

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "jarvis one")))
	clock.Advance(3 * time.Second)
	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "jarvis two")))
	clock.Advance(3 * time.Second)
	assert.Equal(t, 2, calls)

	require.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_ShutdownClosesOpenConversations(t *testing.T) {
	b, clock, rec := newTestBuffer()
	ctx := context.Background()

	require.NoError(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "jarvis remind me")))
	o := seg("SPEAKER_01", "quarterly numbers look fine")
	o.SessionID = "office"
	require.NoError(t, b.OnSegment(ctx, "office", o))

	require.NoError(t, b.Shutdown(ctx))
	require.Len(t, rec.convs, 2)
	assert.Equal(t, "kitchen", rec.convs[0].SessionID)
	assert.Equal(t, "office", rec.convs[1].SessionID)
	assert.Empty(t, rec.commands, "pending commands are not dispatched on shutdown")

	clock.Advance(2 * time.Minute)
	assert.Len(t, rec.convs, 2, "stopped timers stay quiet")
	assert.ErrorIs(t, b.OnSegment(ctx, "kitchen", seg("SPEAKER_00", "late")), ErrClosed)
	assert.NoError(t, b.Shutdown(ctx))
}

func TestBuffer_RealClock(t *testing.T) {
	s := config.DefaultSettings()
	s.Session.CommandSilence = 20 * time.Millisecond
	s.Session.ConversationSilence = time.Hour
	fired := make(chan CommandFlush, 1)
	b := NewBuffer(config.Static(s),
		func(_ context.Context, f CommandFlush) { fired <- f },
		func(context.Context, *core.Conversation) {},
	)

	require.NoError(t, b.OnSegment(context.Background(), "kitchen", seg("SPEAKER_00", "jarvis note tea")))
	select {
	case f := <-fired:
		assert.Equal(t, "jarvis note tea", f.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("command flush never fired")
	}
	require.NoError(t, b.Shutdown(context.Background()))
}
