package core

import "time"

type Action string

const (
	ActionEmail    Action = "email"
	ActionText     Action = "text"
	ActionReminder Action = "reminder"
	ActionSearch   Action = "search"
	ActionCalendar Action = "calendar"
	ActionNote     Action = "note"
	ActionOrder    Action = "order"

	ActionUnknown Action = "unknown"
	ActionControl Action = "control"
)

// Actions lists the dispatchable actions in pattern-tier priority order.
var Actions = []Action{
	ActionEmail,
	ActionText,
	ActionReminder,
	ActionSearch,
	ActionNote,
	ActionOrder,
	ActionCalendar,
}

func (a Action) Known() bool {
	for _, k := range Actions {
		if a == k {
			return true
		}
	}
	return false
}

const (
	TierPattern  = "pattern"
	TierLLM      = "llm"
	TierFallback = "fallback"
)

type ParsedIntent struct {
	Action        Action         `json:"action"`
	Params        map[string]any `json:"params"`
	Confidence    float64        `json:"confidence"`
	Tier          string         `json:"tier"`
	RawText       string         `json:"raw_text"`
	HumanRequired bool           `json:"human_required"`
	Reason        string         `json:"reason,omitempty"`
}

// Unknown builds the pass-through intent used whenever classification fails.
func Unknown(raw, reason string) ParsedIntent {
	return ParsedIntent{
		Action:        ActionUnknown,
		Params:        map[string]any{"text": raw},
		Tier:          TierFallback,
		RawText:       raw,
		HumanRequired: true,
		Reason:        reason,
	}
}

type SafetyLevel string

const (
	SafetyAllowed           SafetyLevel = "allowed"
	SafetyNeedsConfirmation SafetyLevel = "needs_confirmation"
	SafetyBlocked           SafetyLevel = "blocked"
)

type SafetyVerdict struct {
	Level    SafetyLevel `json:"level"`
	Category string      `json:"category,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type EventKind string

const (
	EventIntent  EventKind = "intent"
	EventAction  EventKind = "action"
	EventSummary EventKind = "summary"
	EventControl EventKind = "control"
)

// Event is the envelope written to every event sink.
type Event struct {
	Kind EventKind `json:"event"`
	Time time.Time `json:"ts"`
	Data any       `json:"data"`
}

type IntentEvent struct {
	SessionID        string         `json:"session_id"`
	WakeWordDetected string         `json:"wake_word_detected"`
	RawText          string         `json:"raw_text"`
	Intent           Action         `json:"intent"`
	Entities         map[string]any `json:"entities"`
	Confidence       float64        `json:"confidence"`
	HumanRequired    bool           `json:"human_required"`
	Reply            string         `json:"reply,omitempty"`
}

type ActionRequest struct {
	ID                   string         `json:"id"`
	SessionID            string         `json:"session_id"`
	ConversationID       string         `json:"conversation_id,omitempty"`
	Intent               Action         `json:"intent"`
	Params               map[string]any `json:"params"`
	RawText              string         `json:"raw_text"`
	Confidence           float64        `json:"confidence"`
	Context              ContextPacket  `json:"context"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	HumanRequired        bool           `json:"human_required"`
	Reason               string         `json:"reason,omitempty"`
	Safety               SafetyVerdict  `json:"safety"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Status is the persisted dispatch state.
func (r ActionRequest) Status() string {
	switch {
	case r.Safety.Level == SafetyBlocked:
		return "blocked"
	case r.RequiresConfirmation || r.HumanRequired:
		return "needs_confirmation"
	default:
		return "pending"
	}
}

type SummaryEvent struct {
	ConversationID  string       `json:"conversation_id"`
	SessionID       string       `json:"session_id"`
	DurationSeconds float64      `json:"duration_seconds"`
	Speakers        []string     `json:"speakers"`
	SummaryText     string       `json:"summary_text"`
	ActionItems     []string     `json:"action_items"`
	KeyTopics       []string     `json:"key_topics"`
	Entities        []Resolution `json:"entities,omitempty"`
}
