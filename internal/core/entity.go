package core

import (
	"fmt"
	"strings"
	"time"
)

type EntityType string

const (
	EntityPerson   EntityType = "person"
	EntityOrg      EntityType = "org"
	EntityProject  EntityType = "project"
	EntityProduct  EntityType = "product"
	EntityLocation EntityType = "location"
	EntityEvent    EntityType = "event"

	// Literal mention kinds. They never become canonical entities on their own.
	EntityEmail EntityType = "email"
	EntityPhone EntityType = "phone"
	EntityURL   EntityType = "url"
	EntityDate  EntityType = "date"
)

// Resolvable reports whether mentions of this type go through the full cascade.
func (t EntityType) Resolvable() bool {
	switch t {
	case EntityPerson, EntityOrg, EntityProject, EntityProduct, EntityLocation, EntityEvent:
		return true
	}
	return false
}

func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "organization", "company":
		return EntityOrg, true
	}
	if t.Resolvable() {
		return t, true
	}
	return "", false
}

const (
	SourceFast     = "fast"
	SourceSemantic = "semantic"
)

type EntityMention struct {
	SurfaceText    string     `json:"surface_text"`
	Type           EntityType `json:"entity_type"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Offset         int        `json:"offset"`
	Source         string     `json:"source"`
	Confidence     float64    `json:"confidence"`
}

// Entity is a canonical identity that mentions collapse onto.
type Entity struct {
	ID              string     `json:"id"`
	Type            EntityType `json:"type"`
	DisplayName     string     `json:"display_name"`
	NeedsReview     bool       `json:"needs_review"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastMentionedAt time.Time  `json:"last_mentioned_at"`
}

// Band is the confidence class of a resolution.
type Band string

const (
	BandAuto       Band = "auto"
	BandSoft       Band = "soft"
	BandNeedsHuman Band = "needs_human"
	BandLiteral    Band = "literal"
)

type Resolution struct {
	Mention     EntityMention `json:"mention"`
	EntityID    string        `json:"entity_id,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	EntityType  EntityType    `json:"entity_type"`
	Confidence  float64       `json:"confidence"`
	Tier        string        `json:"tier"`
	Band        Band          `json:"band"`
}

// Resolved reports whether the resolution is merged into the canonical table.
func (r Resolution) Resolved() bool {
	return r.EntityID != "" && (r.Band == BandAuto || r.Band == BandSoft)
}

// Err wraps ErrResolutionAmbiguous for a mention left to a human.
func (r Resolution) Err() error {
	if r.Band != BandNeedsHuman {
		return nil
	}
	return fmt.Errorf("%w: %q as %s", ErrResolutionAmbiguous, r.Mention.SurfaceText, r.EntityType)
}

type RelationType string

const (
	RelMentionedWith RelationType = "mentioned_with"
	RelWorksOn       RelationType = "works_on"
	RelClientOf      RelationType = "client_of"
)

func (t RelationType) Directed() bool {
	return t != RelMentionedWith
}

// EdgeKey identifies a relationship. Undirected keys keep endpoints sorted.
type EdgeKey struct {
	Source string       `json:"source_id"`
	Target string       `json:"target_id"`
	Type   RelationType `json:"type"`
}

func NewEdgeKey(a, b string, t RelationType) EdgeKey {
	if !t.Directed() && b < a {
		a, b = b, a
	}
	return EdgeKey{Source: a, Target: b, Type: t}
}

// Touches reports whether id is either endpoint.
func (k EdgeKey) Touches(id string) bool {
	return k.Source == id || k.Target == id
}

// Other returns the endpoint opposite id.
func (k EdgeKey) Other(id string) string {
	if k.Source == id {
		return k.Target
	}
	return k.Source
}

type Relationship struct {
	EdgeKey
	Weight        float64   `json:"weight"`
	EvidenceCount int       `json:"evidence_count"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// ReviewItem is a mention queued for a human decision.
type ReviewItem struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SurfaceText    string     `json:"surface_text"`
	EntityType     EntityType `json:"entity_type"`
	CandidateID    string     `json:"candidate_id,omitempty"`
	Confidence     float64    `json:"confidence"`
	Band           Band       `json:"band"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SemanticHit is one nearest-neighbour match from the search collaborator.
type SemanticHit struct {
	EntityID string     `json:"entity_id"`
	Name     string     `json:"name"`
	Type     EntityType `json:"type"`
	Score    float64    `json:"score"`
}
