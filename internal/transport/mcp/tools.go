package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/service/entity"
)

const (
	defaultSearchLimit = 20
	defaultEdgeLimit   = 50
	neighborLimit      = 20
)

type Conversations interface {
	SearchUtterances(ctx context.Context, query string, limit int) ([]core.UtteranceHit, error)
	RecentConversations(ctx context.Context, since time.Time, limit int) ([]core.Conversation, error)
}

type Entities interface {
	Get(id string) (core.Entity, bool)
	Find(name string) []core.Entity
	List() []core.Entity
}

type Relations interface {
	Neighbors(id string, t core.RelationType) []core.Relationship
	Edges() []core.Relationship
}

type MentionResolver interface {
	NewContext(ctx context.Context, conversationID string) (*entity.ResolutionContext, error)
	Resolve(ctx context.Context, m core.EntityMention, rc *entity.ResolutionContext) core.Resolution
}

// Sessions lists open sessions when the server runs inside the pipeline process.
type Sessions interface {
	Sessions() []string
}

type Deps struct {
	Conversations Conversations
	Entities      Entities
	Graph         Relations
	Resolver      MentionResolver
	Sessions      Sessions
	Now           func() time.Time
}

// Tools holds the query tools exposed over MCP. Every tool is read-only.
type Tools struct {
	Deps
}

func NewTools(deps Deps) *Tools {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Tools{Deps: deps}
}

type relationView struct {
	SourceID      string            `json:"source_id"`
	Source        string            `json:"source"`
	TargetID      string            `json:"target_id"`
	Target        string            `json:"target"`
	Type          core.RelationType `json:"type"`
	Weight        float64           `json:"weight"`
	EvidenceCount int               `json:"evidence_count"`
	LastSeenAt    time.Time         `json:"last_seen_at"`
}

func (t *Tools) SearchUtterances(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcpproto.NewToolResultError("query is required"), nil
	}
	limit := positive(req.GetInt("limit", defaultSearchLimit), defaultSearchLimit)

	hits, err := t.Conversations.SearchUtterances(ctx, query, limit)
	if err != nil {
		return mcpproto.NewToolResultErrorFromErr("search failed", err), nil
	}
	if hits == nil {
		hits = []core.UtteranceHit{}
	}
	return jsonResult(hits)
}

func (t *Tools) GetEntity(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil || strings.TrimSpace(name) == "" {
		return mcpproto.NewToolResultError("name is required"), nil
	}

	matches := t.Entities.Find(name)
	if want := req.GetString("type", ""); want != "" {
		matches = filterType(matches, core.EntityType(strings.ToLower(want)))
	}
	if len(matches) == 0 {
		return mcpproto.NewToolResultError(fmt.Sprintf("no entity named %q", name)), nil
	}

	e := matches[0]
	neighbors := t.Graph.Neighbors(e.ID, "")
	if len(neighbors) > neighborLimit {
		neighbors = neighbors[:neighborLimit]
	}

	return jsonResult(struct {
		Entity        core.Entity    `json:"entity"`
		Relationships []relationView `json:"relationships"`
		Others        int            `json:"other_matches"`
	}{
		Entity:        e,
		Relationships: t.views(neighbors),
		Others:        len(matches) - 1,
	})
}

func (t *Tools) ListRelationships(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	relType := core.RelationType(strings.ToLower(req.GetString("type", "")))
	minWeight := req.GetFloat("min_weight", 0)
	limit := positive(req.GetInt("limit", defaultEdgeLimit), defaultEdgeLimit)

	var edges []core.Relationship
	for _, r := range t.Graph.Edges() {
		if relType != "" && r.Type != relType {
			continue
		}
		if r.Weight < minWeight {
			continue
		}
		edges = append(edges, r)
		if len(edges) == limit {
			break
		}
	}
	return jsonResult(t.views(edges))
}

func (t *Tools) RecentConversations(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	hours := req.GetFloat("hours", 24)
	if hours <= 0 {
		hours = 24
	}
	limit := positive(req.GetInt("limit", 10), 10)
	since := t.Now().Add(-time.Duration(hours * float64(time.Hour)))

	convs, err := t.Conversations.RecentConversations(ctx, since, limit)
	if err != nil {
		return mcpproto.NewToolResultErrorFromErr("list conversations failed", err), nil
	}
	if convs == nil {
		convs = []core.Conversation{}
	}
	return jsonResult(convs)
}

func (t *Tools) ResolveMention(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil || strings.TrimSpace(text) == "" {
		return mcpproto.NewToolResultError("text is required"), nil
	}
	typ := core.EntityPerson
	if raw := req.GetString("type", ""); raw != "" {
		parsed, ok := core.ParseEntityType(raw)
		if !ok {
			return mcpproto.NewToolResultError(fmt.Sprintf("unknown entity type %q", raw)), nil
		}
		typ = parsed
	}

	rc, err := t.Resolver.NewContext(ctx, "")
	if err != nil {
		return mcpproto.NewToolResultErrorFromErr("resolver unavailable", err), nil
	}
	res := t.Resolver.Resolve(ctx, core.EntityMention{
		SurfaceText: strings.TrimSpace(text),
		Type:        typ,
		Source:      core.SourceFast,
		Confidence:  1,
	}, rc)
	return jsonResult(res)
}

func (t *Tools) Status(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	sessions := []string{}
	if t.Sessions != nil {
		sessions = t.Sessions.Sessions()
	}
	return jsonResult(struct {
		Entities      int      `json:"entities"`
		Relationships int      `json:"relationships"`
		OpenSessions  []string `json:"open_sessions"`
	}{
		Entities:      len(t.Entities.List()),
		Relationships: len(t.Graph.Edges()),
		OpenSessions:  sessions,
	})
}

func (t *Tools) views(rels []core.Relationship) []relationView {
	out := make([]relationView, 0, len(rels))
	for _, r := range rels {
		out = append(out, relationView{
			SourceID:      r.Source,
			Source:        t.name(r.Source),
			TargetID:      r.Target,
			Target:        t.name(r.Target),
			Type:          r.Type,
			Weight:        r.Weight,
			EvidenceCount: r.EvidenceCount,
			LastSeenAt:    r.LastSeenAt,
		})
	}
	return out
}

func (t *Tools) name(id string) string {
	if e, ok := t.Entities.Get(id); ok {
		return e.DisplayName
	}
	return id
}

func filterType(list []core.Entity, typ core.EntityType) []core.Entity {
	var out []core.Entity
	for _, e := range list {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func positive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func jsonResult(v any) (*mcpproto.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcpproto.NewToolResultText(string(data)), nil
}
