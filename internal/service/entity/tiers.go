package entity

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

const (
	exactConfidence      = 0.95
	clientConfidence     = 0.7
	membershipConfidence = 0.65
	partialConfidence    = 0.7
	recencyConfidence    = 0.65
	semanticDiscount     = 0.75
	semanticLimit        = 5

	// weakTypeConfidence is the extraction confidence below which a mention's
	// type is a guess and may match a known name of another type.
	weakTypeConfidence = 0.7
)

// Ratio is difflib's SequenceMatcher ratio over characters.
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

func compatible(m core.EntityMention, t core.EntityType) bool {
	if m.Type == t {
		return true
	}
	return m.Source == core.SourceFast && m.Confidence < weakTypeConfidence && t.Resolvable()
}

type scored struct {
	Candidate
	score    float64
	weight   float64
	lastSeen time.Time
}

// best picks the highest score, then the highest weight, then the most
// recent, then the smallest id.
func best(list []scored) (Candidate, bool) {
	if len(list) == 0 {
		return Candidate{}, false
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if !a.lastSeen.Equal(b.lastSeen) {
			return a.lastSeen.After(b.lastSeen)
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.DisplayName < b.DisplayName
	})
	return list[0].Candidate, true
}

func fromName(n KnownName, conf float64) scored {
	return scored{
		Candidate: Candidate{EntityID: n.EntityID, DisplayName: n.DisplayName(), Type: n.Type, Confidence: conf},
		score:     conf,
		lastSeen:  n.LastMentioned,
	}
}

type exactTier struct{}

func (exactTier) Name() string { return "exact" }

func (exactTier) Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) (Candidate, bool) {
	switch m.Type {
	case core.EntityEmail, core.EntityPhone:
		return matchContactAttribute(m, rc.Snapshot.Contacts)
	}
	if !m.Type.Resolvable() {
		return Candidate{}, false
	}

	key := Normalize(m.SurfaceText)
	var list []scored
	for _, n := range rc.Snapshot.Names {
		if n.norm == key && compatible(m, n.Type) {
			list = append(list, fromName(n, exactConfidence))
		}
	}
	return best(list)
}

func matchContactAttribute(m core.EntityMention, contacts []core.Contact) (Candidate, bool) {
	var list []scored
	for _, ct := range contacts {
		var hit bool
		switch m.Type {
		case core.EntityEmail:
			hit = ct.Email != "" && strings.EqualFold(strings.TrimSpace(ct.Email), strings.TrimSpace(m.SurfaceText))
		case core.EntityPhone:
			d := digits(m.SurfaceText)
			hit = len(d) >= 7 && digits(ct.Phone) == d
		}
		if hit {
			list = append(list, scored{
				Candidate: Candidate{EntityID: ID(core.EntityPerson, ct.Name), DisplayName: ct.Name, Type: core.EntityPerson, Confidence: exactConfidence},
				score:     exactConfidence,
			})
		}
	}
	return best(list)
}

type fuzzyTier struct {
	settings   config.Provider
	similarity func(a, b string) float64
}

func (fuzzyTier) Name() string { return "fuzzy" }

func (t *fuzzyTier) Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) (Candidate, bool) {
	if !m.Type.Resolvable() {
		return Candidate{}, false
	}
	key := Normalize(m.SurfaceText)
	if len([]rune(key)) < 3 {
		return Candidate{}, false
	}

	threshold := t.settings.Current().Resolution.FuzzyThreshold
	var list []scored
	for _, n := range rc.Snapshot.Names {
		if !compatible(m, n.Type) {
			continue
		}
		ratio := t.similarity(key, n.norm)
		if ratio >= threshold {
			list = append(list, fromName(n, ratio))
		}
	}
	return best(list)
}

// referenceRelations maps definite references to the edge they follow.
var referenceRelations = map[string]core.RelationType{
	"the client":  core.RelClientOf,
	"our client":  core.RelClientOf,
	"a client":    core.RelClientOf,
	"the team":    core.RelWorksOn,
	"our team":    core.RelWorksOn,
	"the project": core.RelWorksOn,
	"our project": core.RelWorksOn,
	"the company": core.RelWorksOn,
	"our company": core.RelWorksOn,
}

type contextualTier struct {
	graph Neighborhood
}

func (contextualTier) Name() string { return "contextual" }

func (t *contextualTier) Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) (Candidate, bool) {
	if t.graph == nil || !m.Type.Resolvable() {
		return Candidate{}, false
	}
	anchors := resolvedIDs(rc)
	if len(anchors) == 0 {
		return Candidate{}, false
	}

	phrase := Normalize(m.SurfaceText)
	if rel, ok := referenceRelations[phrase]; ok {
		return t.byReference(phrase, rel, anchors, rc)
	}
	return t.byPartialName(phrase, anchors, rc)
}

func (t *contextualTier) byReference(phrase string, rel core.RelationType, anchors []string, rc *ResolutionContext) (Candidate, bool) {
	conf := membershipConfidence
	if rel == core.RelClientOf {
		conf = clientConfidence
	}

	var list []scored
	for _, id := range anchors {
		for _, edge := range t.graph.Neighbors(id, rel) {
			var target string
			switch rel {
			case core.RelClientOf:
				// client_of points from the client to the person it serves.
				if edge.Target != id {
					continue
				}
				target = edge.Source
			default:
				if edge.Source != id {
					continue
				}
				target = edge.Target
			}
			e, ok := rc.Snapshot.Entities[target]
			if !ok || !referenceAccepts(phrase, e.Type) {
				continue
			}
			list = append(list, scored{
				Candidate: Candidate{EntityID: e.ID, DisplayName: e.DisplayName, Type: e.Type, Confidence: conf},
				score:     conf,
				weight:    edge.Weight,
				lastSeen:  edge.LastSeenAt,
			})
		}
	}
	return best(list)
}

func referenceAccepts(phrase string, t core.EntityType) bool {
	switch {
	case strings.HasSuffix(phrase, "company"):
		return t == core.EntityOrg
	case strings.HasSuffix(phrase, "client"):
		return t == core.EntityOrg || t == core.EntityPerson
	default:
		return t == core.EntityProject || t == core.EntityOrg
	}
}

func (t *contextualTier) byPartialName(phrase string, anchors []string, rc *ResolutionContext) (Candidate, bool) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return Candidate{}, false
	}

	var list []scored
	for _, id := range anchors {
		for _, edge := range t.graph.Neighbors(id, "") {
			e, ok := rc.Snapshot.Entities[edge.Other(id)]
			if !ok || !tokenPrefix(words, strings.Fields(Normalize(e.DisplayName))) {
				continue
			}
			list = append(list, scored{
				Candidate: Candidate{EntityID: e.ID, DisplayName: e.DisplayName, Type: e.Type, Confidence: partialConfidence},
				score:     partialConfidence,
				weight:    edge.Weight,
				lastSeen:  edge.LastSeenAt,
			})
		}
	}
	return best(list)
}

// tokenPrefix reports whether short is a strict word prefix of long.
func tokenPrefix(short, long []string) bool {
	if len(short) >= len(long) {
		return false
	}
	for i := range short {
		if short[i] != long[i] {
			return false
		}
	}
	return true
}

func resolvedIDs(rc *ResolutionContext) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range rc.Resolved() {
		if _, ok := seen[r.EntityID]; ok {
			continue
		}
		seen[r.EntityID] = struct{}{}
		ids = append(ids, r.EntityID)
	}
	return ids
}

// pronounTypes lists the entity types each pronoun or definite reference can bind to.
var pronounTypes = map[string][]core.EntityType{
	"he":          {core.EntityPerson},
	"him":         {core.EntityPerson},
	"his":         {core.EntityPerson},
	"she":         {core.EntityPerson},
	"her":         {core.EntityPerson},
	"it":          {core.EntityOrg, core.EntityProject, core.EntityProduct},
	"its":         {core.EntityOrg, core.EntityProject, core.EntityProduct},
	"they":        {core.EntityPerson, core.EntityOrg},
	"them":        {core.EntityPerson, core.EntityOrg},
	"the client":  {core.EntityOrg, core.EntityPerson},
	"our client":  {core.EntityOrg, core.EntityPerson},
	"the company": {core.EntityOrg},
	"our company": {core.EntityOrg},
	"the team":    {core.EntityProject, core.EntityOrg},
	"the project": {core.EntityProject, core.EntityOrg},
}

// IsReference reports whether text is a pronoun or definite reference the
// recency tier understands.
func IsReference(text string) bool {
	_, ok := pronounTypes[Normalize(text)]
	return ok
}

type recencyTier struct {
	settings config.Provider
}

func (recencyTier) Name() string { return "recency" }

func (t *recencyTier) Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) (Candidate, bool) {
	types, ok := pronounTypes[Normalize(m.SurfaceText)]
	if !ok {
		return Candidate{}, false
	}

	history := rc.Resolved()
	window := t.settings.Current().Resolution.RecencyWindow
	if len(history) > window {
		history = history[len(history)-window:]
	}

	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		for _, typ := range types {
			if r.EntityType == typ {
				return Candidate{EntityID: r.EntityID, DisplayName: r.DisplayName, Type: r.EntityType, Confidence: recencyConfidence}, true
			}
		}
	}
	return Candidate{}, false
}

type semanticTier struct {
	searcher core.EntitySearcher
	settings config.Provider
}

func (semanticTier) Name() string { return "semantic" }

func (t *semanticTier) Resolve(ctx context.Context, m core.EntityMention, rc *ResolutionContext) (Candidate, bool) {
	if t.searcher == nil || !m.Type.Resolvable() {
		return Candidate{}, false
	}
	s := t.settings.Current().Resolution

	ctx, cancel := context.WithTimeout(ctx, s.SemanticTimeout)
	defer cancel()

	hits, err := t.searcher.SearchEntities(ctx, m.SurfaceText, semanticLimit)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("mention", m.SurfaceText).Msg("semantic tier skipped")
		return Candidate{}, false
	}

	var list []scored
	for _, h := range hits {
		if h.Score < s.SemanticMinScore || h.EntityID == "" {
			continue
		}
		typ := h.Type
		if !typ.Resolvable() {
			typ = m.Type
		}
		name := h.Name
		e, known := rc.Snapshot.Entities[h.EntityID]
		if known && name == "" {
			name = e.DisplayName
		}
		list = append(list, scored{
			Candidate: Candidate{EntityID: h.EntityID, DisplayName: name, Type: typ, Confidence: h.Score * semanticDiscount},
			score:     h.Score,
			lastSeen:  e.LastMentionedAt,
		})
	}
	return best(list)
}
