package packet

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

const (
	ModeAmbient = "ambient"

	DefaultMaxRelationships = 10
	ellipsis                = "..."
)

type ConversationInfo struct {
	ID             string
	SessionID      string
	StartedAt      time.Time
	Duration       time.Duration
	Speakers       []string
	UtteranceCount int
}

type Limits struct {
	MaxRelationships int
	RecentLimit      int
	SnippetLength    int
}

func LimitsFrom(s *config.Settings) Limits {
	return Limits{
		MaxRelationships: DefaultMaxRelationships,
		RecentLimit:      s.Context.RecentLimit,
		SnippetLength:    s.Context.SnippetLength,
	}
}

type Input struct {
	Conversation *ConversationInfo
	Intent       *core.ParsedIntent
	Resolved     []core.Resolution
	Edges        []core.Relationship
	// Names maps entity ids to display names for relationship endpoints.
	Names map[string]string
	// Labels maps speaker ids to display names for recent snippets.
	Labels map[string]string
	Recent []core.Utterance
	Limits Limits
}

// Assemble builds the context packet for one command. It has no side effects
// and tolerates missing or partial input by leaving blocks empty.
func Assemble(in Input) core.ContextPacket {
	names := make(map[string]string, len(in.Names)+len(in.Resolved))
	for id, n := range in.Names {
		names[id] = n
	}

	p := core.ContextPacket{
		Conversation: conversationBlock(in.Conversation),
		Command: core.CommandBlock{
			Params:           map[string]any{},
			ResolvedEntities: []core.ResolvedEntity{},
		},
		Relationships: []core.RelationshipRef{},
		RecentContext: []string{},
	}

	if in.Intent != nil {
		p.Command.RawText = in.Intent.RawText
		p.Command.Intent = in.Intent.Action
		p.Command.Confidence = in.Intent.Confidence
		p.Command.HumanRequired = in.Intent.HumanRequired
		for k, v := range in.Intent.Params {
			p.Command.Params[k] = v
		}
	}

	ids := make(map[string]struct{})
	for _, r := range in.Resolved {
		if r.EntityID == "" {
			continue
		}
		ids[r.EntityID] = struct{}{}
		if _, ok := names[r.EntityID]; !ok && r.DisplayName != "" {
			names[r.EntityID] = r.DisplayName
		}
		p.Command.ResolvedEntities = append(p.Command.ResolvedEntities, core.ResolvedEntity{
			Mention:    r.Mention.SurfaceText,
			EntityID:   r.EntityID,
			Name:       r.DisplayName,
			Type:       r.EntityType,
			Confidence: r.Confidence,
			Band:       r.Band,
			Tier:       r.Tier,
		})
	}

	p.Relationships = relationships(in.Edges, ids, names, in.Limits.MaxRelationships)
	p.RecentContext = recent(in.Recent, in.Labels, in.Limits)
	return p
}

func conversationBlock(c *ConversationInfo) core.ConversationBlock {
	b := core.ConversationBlock{Mode: ModeAmbient, Speakers: []string{}}
	if c == nil {
		return b
	}
	b.ID = c.ID
	b.SessionID = c.SessionID
	b.StartedAt = c.StartedAt
	if c.Duration > 0 {
		b.DurationMinutes = math.Round(c.Duration.Minutes()*100) / 100
	}
	if c.UtteranceCount > 0 {
		b.UtteranceCount = c.UtteranceCount
	}
	b.Speakers = append(b.Speakers, c.Speakers...)
	return b
}

func relationships(edges []core.Relationship, ids map[string]struct{}, names map[string]string, limit int) []core.RelationshipRef {
	if limit <= 0 {
		limit = DefaultMaxRelationships
	}
	seen := make(map[core.EdgeKey]struct{})
	var picked []core.Relationship
	for _, e := range edges {
		if e.Weight <= 0 {
			continue
		}
		_, src := ids[e.Source]
		_, dst := ids[e.Target]
		if !src && !dst {
			continue
		}
		if _, dup := seen[e.EdgeKey]; dup {
			continue
		}
		seen[e.EdgeKey] = struct{}{}
		picked = append(picked, e)
	}

	sort.SliceStable(picked, func(i, j int) bool {
		a, b := picked[i], picked[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Type < b.Type
	})
	if len(picked) > limit {
		picked = picked[:limit]
	}

	out := make([]core.RelationshipRef, 0, len(picked))
	for _, e := range picked {
		out = append(out, core.RelationshipRef{
			SourceID: e.Source,
			Source:   nameOr(names, e.Source),
			TargetID: e.Target,
			Target:   nameOr(names, e.Target),
			Type:     e.Type,
			Weight:   e.Weight,
		})
	}
	return out
}

func recent(utts []core.Utterance, labels map[string]string, l Limits) []string {
	out := []string{}
	if l.RecentLimit <= 0 {
		return out
	}
	for i := len(utts) - 1; i >= 0 && len(out) < l.RecentLimit; i-- {
		text := strings.TrimSpace(utts[i].Text)
		if text == "" {
			continue
		}
		speaker := nameOr(labels, utts[i].SpeakerID)
		if speaker == "" {
			speaker = "unknown"
		}
		out = append(out, speaker+": "+truncate(text, l.SnippetLength))
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + ellipsis
}

func nameOr(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return id
}
