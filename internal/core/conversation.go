package core

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one transcript fragment handed over by the ASR collaborator.
type Segment struct {
	SessionID        string  `json:"session_id"`
	Text             string  `json:"text"`
	SpeakerID        string  `json:"speaker_id"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Confidence       float64 `json:"confidence"`
	IsCommandChannel bool    `json:"is_command_channel,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

func (s Segment) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return fmt.Errorf("%w: missing session_id", ErrInputMalformed)
	}
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInputMalformed)
	}
	if s.End < s.Start {
		return fmt.Errorf("%w: end %.2f before start %.2f", ErrInputMalformed, s.End, s.Start)
	}
	return nil
}

type Utterance struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Seq            int       `json:"seq"`
	Text           string    `json:"text"`
	SpeakerID      string    `json:"speaker_id"`
	StartTS        float64   `json:"start_ts"`
	EndTS          float64   `json:"end_ts"`
	Confidence     float64   `json:"confidence"`
	IsCommand      bool      `json:"is_command"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"session_id"`
	StartedAt      time.Time   `json:"started_at"`
	LastActivityAt time.Time   `json:"last_activity_at"`
	EndedAt        time.Time   `json:"ended_at,omitempty"`
	Utterances     []Utterance `json:"utterances,omitempty"`
	Speakers       []string    `json:"speakers"`
	SummaryText    string      `json:"summary_text,omitempty"`
	ActionItems    []string    `json:"action_items,omitempty"`
	KeyTopics      []string    `json:"key_topics,omitempty"`
	WordCount      int         `json:"word_count"`
}

// FullText renders one "speaker: text" line per utterance in arrival order.
func (c *Conversation) FullText() string {
	var b strings.Builder
	for i, u := range c.Utterances {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.SpeakerID)
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}

// PlainText joins utterance texts without speaker labels.
func (c *Conversation) PlainText() string {
	parts := make([]string, 0, len(c.Utterances))
	for _, u := range c.Utterances {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, " ")
}

func (c *Conversation) Duration() time.Duration {
	end := c.EndedAt
	if end.IsZero() {
		end = c.LastActivityAt
	}
	if end.Before(c.StartedAt) {
		return 0
	}
	return end.Sub(c.StartedAt)
}

// UtteranceHit is a full-text search result.
type UtteranceHit struct {
	Utterance
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Snippet   string    `json:"snippet"`
}

type Speaker struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name,omitempty"`
	IsOwner      bool      `json:"is_owner"`
	Approved     bool      `json:"approved"`
	WordCount    int       `json:"word_count"`
	SegmentCount int       `json:"segment_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Label is the display name when taught, the raw id otherwise.
func (s Speaker) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}

type Contact struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	Relationship string   `json:"relationship,omitempty"`
}

// Matches reports a case-insensitive match on name or any alias.
func (c Contact) Matches(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if strings.EqualFold(c.Name, name) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
