package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

type Origin string

const (
	OriginEntity  Origin = "entity"
	OriginContact Origin = "contact"
	OriginSpeaker Origin = "speaker"
)

// KnownName is one matchable spelling of an identity.
type KnownName struct {
	Text          string
	Display       string
	EntityID      string
	Type          core.EntityType
	LastMentioned time.Time
	Origin        Origin

	norm string
}

func (n KnownName) DisplayName() string {
	if n.Display != "" {
		return n.Display
	}
	return n.Text
}

// Snapshot is the read-only view a resolver works against.
type Snapshot struct {
	Entities map[string]core.Entity
	Contacts []core.Contact
	Names    []KnownName
}

// BuildSnapshot indexes every matchable spelling. Contacts and taught speaker
// names map to the person entity their name would create.
func BuildSnapshot(entities []core.Entity, contacts []core.Contact, speakers []core.Speaker) *Snapshot {
	snap := &Snapshot{
		Entities: make(map[string]core.Entity, len(entities)),
		Contacts: contacts,
	}
	add := func(text, display, id string, t core.EntityType, origin Origin) {
		snap.Names = append(snap.Names, KnownName{
			Text:          text,
			Display:       display,
			EntityID:      id,
			Type:          t,
			LastMentioned: snap.Entities[id].LastMentionedAt,
			Origin:        origin,
			norm:          Normalize(text),
		})
	}

	for _, e := range entities {
		snap.Entities[e.ID] = e
	}
	for _, e := range entities {
		add(e.DisplayName, "", e.ID, e.Type, OriginEntity)
	}
	for _, ct := range contacts {
		id := ID(core.EntityPerson, ct.Name)
		add(ct.Name, ct.Name, id, core.EntityPerson, OriginContact)
		for _, alias := range ct.Aliases {
			add(alias, ct.Name, id, core.EntityPerson, OriginContact)
		}
	}
	for _, sp := range speakers {
		if sp.DisplayName == "" {
			continue
		}
		add(sp.DisplayName, sp.DisplayName, ID(core.EntityPerson, sp.DisplayName), core.EntityPerson, OriginSpeaker)
	}
	return snap
}

// Directory hands out resolver snapshots. Catalog is the production one.
type Directory interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Neighborhood is the slice of the relationship graph the contextual tier reads.
type Neighborhood interface {
	Neighbors(id string, t core.RelationType) []core.Relationship
}

// ResolutionContext carries per-conversation state between mentions.
type ResolutionContext struct {
	ConversationID string
	Snapshot       *Snapshot

	history []core.Resolution
}

func NewResolutionContext(conversationID string, snap *Snapshot) *ResolutionContext {
	if snap == nil {
		snap = &Snapshot{Entities: map[string]core.Entity{}}
	}
	return &ResolutionContext{ConversationID: conversationID, Snapshot: snap}
}

// Seed preloads resolutions made earlier, e.g. the recent mentions a command refers back to.
func (rc *ResolutionContext) Seed(prior []core.Resolution) {
	for _, r := range prior {
		rc.add(r)
	}
}

// Resolved returns the accepted resolutions so far, oldest first.
func (rc *ResolutionContext) Resolved() []core.Resolution {
	return rc.history
}

func (rc *ResolutionContext) add(r core.Resolution) {
	if r.Resolved() {
		rc.history = append(rc.history, r)
	}
}

// Candidate is a tier's proposal for a mention.
type Candidate struct {
	EntityID    string
	DisplayName string
	Type        core.EntityType
	Confidence  float64
}

// Tier is one resolution strategy. Tiers are tried in order and the first
// candidate wins.
type Tier interface {
	Name() string
	Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) (Candidate, bool)
}

// Resolver runs the tier cascade over mentions.
type Resolver struct {
	dir      Directory
	tiers    []Tier
	settings config.Provider
}

type ResolverDeps struct {
	Directory Directory
	Graph     Neighborhood
	Searcher  core.EntitySearcher
	Settings  config.Provider
	// Similarity overrides the fuzzy ratio, mostly for tests.
	Similarity func(a, b string) float64
}

func NewResolver(deps ResolverDeps) *Resolver {
	sim := deps.Similarity
	if sim == nil {
		sim = Ratio
	}
	return &Resolver{
		dir:      deps.Directory,
		settings: deps.Settings,
		tiers: []Tier{
			&exactTier{},
			&fuzzyTier{settings: deps.Settings, similarity: sim},
			&contextualTier{graph: deps.Graph},
			&recencyTier{settings: deps.Settings},
			&semanticTier{searcher: deps.Searcher, settings: deps.Settings},
		},
	}
}

// NewContext takes a fresh snapshot for one conversation or command.
func (r *Resolver) NewContext(ctx context.Context, conversationID string) (*ResolutionContext, error) {
	snap, err := r.dir.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver snapshot: %w", err)
	}
	return NewResolutionContext(conversationID, snap), nil
}

// ResolveAll resolves mentions in order, each one seeing the ones before it.
// Nothing is written.
func (r *Resolver) ResolveAll(ctx context.Context, conversationID string, mentions []core.EntityMention) ([]core.Resolution, error) {
	rc, err := r.NewContext(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Resolution, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, r.Resolve(ctx, m, rc))
	}
	return out, nil
}

// Resolve runs the cascade for one mention and records the outcome in rc.
func (r *Resolver) Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) core.Resolution {
	res := core.Resolution{
		Mention:    m,
		EntityType: m.Type,
		Tier:       "none",
		Band:       core.BandNeedsHuman,
	}

	for _, tier := range r.tiers {
		c, ok := tier.Resolve(ctx, m, rc)
		if !ok {
			continue
		}
		res.EntityID = c.EntityID
		res.DisplayName = c.DisplayName
		res.EntityType = c.Type
		res.Confidence = c.Confidence
		res.Tier = tier.Name()
		res.Band = r.band(c.Confidence)
		break
	}

	if res.EntityID == "" && !m.Type.Resolvable() {
		res.Band = core.BandLiteral
	}

	log.FromCtx(ctx).Debug().
		Err(res.Err()).
		Str("mention", m.SurfaceText).
		Str("tier", res.Tier).
		Str("band", string(res.Band)).
		Float64("confidence", res.Confidence).
		Msg("mention resolved")

	rc.add(res)
	return res
}

func (r *Resolver) band(conf float64) core.Band {
	return Band(r.settings.Current().Resolution, conf)
}

// Band is the confidence class of conf under s.
func Band(s config.ResolutionSettings, conf float64) core.Band {
	switch {
	case conf >= s.AutoThreshold:
		return core.BandAuto
	case conf >= s.SoftThreshold:
		return core.BandSoft
	default:
		return core.BandNeedsHuman
	}
}
