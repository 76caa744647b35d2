package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/core"
)

type fakeRegistry struct {
	taught   map[string]string
	approved []string
	known    map[string]string
	err      error
}

func (f *fakeRegistry) Teach(_ context.Context, id, name string) error {
	if f.err != nil {
		return f.err
	}
	f.taught[id] = name
	return nil
}

func (f *fakeRegistry) Approve(_ context.Context, ref string) (core.Speaker, error) {
	for id, name := range f.known {
		if strings.EqualFold(name, ref) || strings.EqualFold(id, ref) {
			f.approved = append(f.approved, id)
			return core.Speaker{ID: id, DisplayName: f.taught[id], Approved: true}, nil
		}
	}
	return core.Speaker{}, core.ErrNotFound
}

func (f *fakeRegistry) Labels(_ context.Context, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := f.taught[id]; ok {
			out = append(out, name)
		} else {
			out = append(out, id)
		}
	}
	return out
}

type fakeParticipants map[string][]string

func (f fakeParticipants) Participants(sessionID string) []string { return f[sessionID] }

var (
	owner   = Invocation{SessionID: "s1", SpeakerID: "SPEAKER_00"}
	visitor = Invocation{SessionID: "s1", SpeakerID: "SPEAKER_03"}
)

func newTestRouter(reg *fakeRegistry) (*Router, *LastSpeakers) {
	speakers := NewLastSpeakers(testSettings())
	parts := fakeParticipants{"s1": {"SPEAKER_00", "SPEAKER_03"}}
	return New(NewCommands(speakers, reg, parts)), speakers
}

func TestRouter_Execute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := &fakeRegistry{
		taught: map[string]string{},
		known:  map[string]string{"SPEAKER_03": "marcus"},
	}
	r, speakers := newTestRouter(reg)

	reply, ok := r.Execute(ctx, owner, "that was marcus")
	require.True(t, ok)
	assert.Equal(t, "I haven't heard anyone else in this session yet.", reply)
	assert.Empty(t, reg.taught)

	speakers.Observe("s1", []core.Segment{{SpeakerID: "SPEAKER_03"}, {SpeakerID: "SPEAKER_00"}})

	reply, ok = r.Execute(ctx, owner, "That was Marcus Aurelius.")
	require.True(t, ok)
	assert.Equal(t, "Got it, SPEAKER_03 is Marcus Aurelius.", reply)
	assert.Equal(t, "Marcus Aurelius", reg.taught["SPEAKER_03"])

	reply, ok = r.Execute(ctx, owner, "who was in that conversation")
	require.True(t, ok)
	assert.Equal(t, "Speakers in this conversation: SPEAKER_00, Marcus Aurelius.", reply)

	reply, ok = r.Execute(ctx, Invocation{SessionID: "s2", SpeakerID: "SPEAKER_00"}, "Who was that?")
	require.True(t, ok)
	assert.Equal(t, "Nobody has spoken in this conversation yet.", reply)

	reply, ok = r.Execute(ctx, owner, "approve speaker Marcus")
	require.True(t, ok)
	assert.Equal(t, "Marcus Aurelius can now give commands.", reply)
	assert.Equal(t, []string{"SPEAKER_03"}, reg.approved)

	reply, ok = r.Execute(ctx, owner, "approve speaker nobody")
	require.True(t, ok)
	assert.Equal(t, "I don't know a speaker called nobody.", reply)
}

func TestRouter_ApproveKeepsSpokenCase(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{
		taught: map[string]string{},
		known:  map[string]string{"SPEAKER_03": ""},
	}
	r, _ := newTestRouter(reg)

	reply, ok := r.Execute(context.Background(), owner, "Approve speaker SPEAKER_03")
	require.True(t, ok)
	assert.Equal(t, "SPEAKER_03 can now give commands.", reply)
	assert.Equal(t, []string{"SPEAKER_03"}, reg.approved)
}

func TestRouter_TeachSkipsTheCommander(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{taught: map[string]string{}}
	r, speakers := newTestRouter(reg)
	speakers.Observe("s1", []core.Segment{{SpeakerID: "SPEAKER_04"}, {SpeakerID: "SPEAKER_03"}})

	reply, ok := r.Execute(context.Background(), visitor, "that was bob")
	require.True(t, ok)
	assert.Equal(t, "Got it, SPEAKER_04 is Bob.", reply)
	assert.NotContains(t, reg.taught, "SPEAKER_03")

	speakers.Forget("s1")
	speakers.Observe("s1", []core.Segment{{SpeakerID: "SPEAKER_03"}})
	reply, _ = r.Execute(context.Background(), visitor, "that was bob")
	assert.Equal(t, "I haven't heard anyone else in this session yet.", reply)
}

func TestRouter_Match(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(&fakeRegistry{taught: map[string]string{}})

	cmd, ok := r.Match("Approve speaker Bob.")
	require.True(t, ok)
	assert.Equal(t, "approve_speaker", cmd.Name())

	_, ok = r.Match("note buy milk")
	assert.False(t, ok)
}

func TestRouter_NotControl(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(&fakeRegistry{taught: map[string]string{}})

	for _, input := range []string{
		"",
		"email sarah about the budget",
		"that was a great meeting today",
		"who was at the standup",
	} {
		_, ok := r.Execute(context.Background(), owner, input)
		assert.False(t, ok, input)
	}
}

func TestRouter_TeachError(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{taught: map[string]string{}, err: errors.New("db locked")}
	r, speakers := newTestRouter(reg)
	speakers.Observe("s1", []core.Segment{{SpeakerID: "SPEAKER_05"}})

	reply, ok := r.Execute(context.Background(), owner, "that was priya")
	require.True(t, ok)
	assert.Equal(t, "Error: teach speaker: db locked", reply)
}
