package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

type fakeAI struct {
	reply string
	err   error
	calls int
}

func (f *fakeAI) Chat(_ context.Context, _ []core.Message) (core.Message, error) {
	f.calls++
	if f.err != nil {
		return core.Message{}, f.err
	}
	return core.Message{Role: core.RoleAssistant, Content: f.reply}, nil
}

var started = time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)

func conversation(texts ...string) *core.Conversation {
	c := &core.Conversation{
		ID:             "c1",
		SessionID:      "office",
		StartedAt:      started,
		LastActivityAt: started.Add(3 * time.Minute),
		EndedAt:        started.Add(3 * time.Minute),
		Speakers:       []string{"SPEAKER_00", "SPEAKER_02"},
	}
	for i, t := range texts {
		c.Utterances = append(c.Utterances, core.Utterance{
			Seq:       i,
			SpeakerID: c.Speakers[i%2],
			Text:      t,
		})
		c.WordCount += len(strings.Fields(t))
	}
	return c
}

var budgetTalk = []string{
	"The budget review for the Orion launch is on Friday.",
	"I'll send the budget numbers to finance tonight.",
	"We need to confirm the launch venue before Friday.",
	"Don't forget to book the photographer for the launch.",
}

func settings(mut func(*config.Settings)) config.Provider {
	s := config.DefaultSettings()
	if mut != nil {
		mut(s)
	}
	return config.Static(s)
}

func TestSummarize_Skips(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		conv *core.Conversation
	}{
		{name: "nil", conv: nil},
		{name: "too few utterances", conv: conversation(
			"this is a fairly long utterance with more than twenty words in it so only the count matters here",
			"and a second one to go with it",
		)},
		{name: "too few words", conv: conversation("hi", "hello there", "how are you", "fine")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ai := &fakeAI{reply: `{"summary":"x"}`}
			s := New(ai, settings(func(s *config.Settings) { s.Summary.UseLLM = true }))
			res, err := s.Summarize(context.Background(), tt.conv)
			require.NoError(t, err)
			assert.True(t, res.Skipped)
			assert.Empty(t, res.Text)
			assert.Zero(t, ai.calls)
		})
	}
}

func TestSummarize_Extractive(t *testing.T) {
	t.Parallel()
	s := New(nil, settings(nil))

	res, err := s.Summarize(context.Background(), conversation(budgetTalk...))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, []string{
		"send the budget numbers to finance tonight",
		"confirm the launch venue before Friday",
		"book the photographer for the launch",
	}, res.ActionItems)
	assert.Equal(t, []string{"launch", "budget", "friday", "review", "orion"}, res.KeyTopics)
	assert.Equal(t,
		`2 speakers over 3 min (36 words) about launch, budget, friday, review, orion. 3 action items.`+
			` SPEAKER_00: "The budget review for the Orion launch is on Friday."`+
			` SPEAKER_00: "We need to confirm the launch venue before Friday."`,
		res.Text)
}

func TestSummarize_LLM(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{reply: "Sure:\n```json\n{\"summary\":\"Launch prep for Orion.\",\"action_items\":[\"book photographer\"],\"topics\":[\"launch\"]}\n```"}
	s := New(ai, settings(func(s *config.Settings) { s.Summary.UseLLM = true }))

	res, err := s.Summarize(context.Background(), conversation(budgetTalk...))
	require.NoError(t, err)
	assert.Equal(t, 1, ai.calls)
	assert.Equal(t, "Launch prep for Orion.", res.Text)
	assert.Equal(t, []string{"book photographer"}, res.ActionItems)
	assert.Equal(t, []string{"launch"}, res.KeyTopics)
}

func TestSummarize_LLMFailureFallsBack(t *testing.T) {
	t.Parallel()
	for _, ai := range []*fakeAI{
		{err: errors.New("connection refused")},
		{reply: "no json here"},
		{reply: `{"summary":"  "}`},
	} {
		s := New(ai, settings(func(s *config.Settings) { s.Summary.UseLLM = true }))
		res, err := s.Summarize(context.Background(), conversation(budgetTalk...))
		require.NoError(t, err)
		assert.Equal(t, 1, ai.calls)
		assert.Contains(t, res.Text, "2 speakers over 3 min")
		assert.Len(t, res.ActionItems, 3)
	}
}

func TestActionItems(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text     string
		expected []string
	}{
		{"I will follow up with the vendor tomorrow", []string{"follow up with the vendor tomorrow"}},
		{"Let's follow up on the invoice, then lunch", []string{"the invoice"}},
		{"Remind me to water the plants. Todo: renew passport!", []string{"water the plants", "renew passport"}},
		{"I'll go", nil},
		{"nothing to see", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ActionItems([]core.Utterance{{Text: tt.text}}))
		})
	}
}
