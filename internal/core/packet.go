package core

import "time"

// ContextPacket is the per-command bundle handed to the action layer.
// It is never persisted beyond delivery.
type ContextPacket struct {
	Conversation  ConversationBlock `json:"conversation"`
	Command       CommandBlock      `json:"command"`
	Relationships []RelationshipRef `json:"relationships"`
	RecentContext []string          `json:"recent_context"`
}

type ConversationBlock struct {
	ID              string    `json:"id,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	Mode            string    `json:"mode"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	DurationMinutes float64   `json:"duration_minutes"`
	Speakers        []string  `json:"speakers"`
	UtteranceCount  int       `json:"utterance_count"`
}

type CommandBlock struct {
	RawText          string           `json:"raw_text"`
	Intent           Action           `json:"intent,omitempty"`
	Params           map[string]any   `json:"params"`
	Confidence       float64          `json:"confidence"`
	HumanRequired    bool             `json:"human_required"`
	ResolvedEntities []ResolvedEntity `json:"resolved_entities"`
}

type ResolvedEntity struct {
	Mention    string     `json:"mention"`
	EntityID   string     `json:"entity_id"`
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
	Band       Band       `json:"band"`
	Tier       string     `json:"tier"`
}

type RelationshipRef struct {
	SourceID string       `json:"source_id"`
	Source   string       `json:"source"`
	TargetID string       `json:"target_id"`
	Target   string       `json:"target"`
	Type     RelationType `json:"type"`
	Weight   float64      `json:"weight"`
}
