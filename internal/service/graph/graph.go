package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
	"github.com/sandevgo/percept/pkg/retry"
)

// epsilon is the weight at or below which an edge counts as dead.
const epsilon = 1e-9

// Graph is the weighted relationship store shared by every conversation.
// All mutations go through one lock; the repository is written before memory
// so a failed write leaves the graph untouched.
type Graph struct {
	mu    sync.RWMutex
	edges map[core.EdgeKey]core.Relationship
	adj   map[string]map[core.EdgeKey]struct{}

	repo     core.RelationshipRepository
	settings config.Provider
	retrier  *retry.Retrier
	now      func() time.Time
}

type Option func(*Graph)

func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

func WithRetry(cfg *retry.Config) Option {
	return func(g *Graph) { g.retrier = retry.NewRetrier(cfg) }
}

func New(repo core.RelationshipRepository, settings config.Provider, opts ...Option) *Graph {
	g := &Graph{
		edges:    make(map[core.EdgeKey]core.Relationship),
		adj:      make(map[string]map[core.EdgeKey]struct{}),
		repo:     repo,
		settings: settings,
		retrier: retry.NewRetrier(retry.NewStoreConfig(func(err error) bool {
			return errors.Is(err, core.ErrGraphWriteConflict)
		})),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load replaces the in-memory graph with the persisted one.
func (g *Graph) Load(ctx context.Context) error {
	rels, err := g.repo.LoadRelationships(ctx)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges = make(map[core.EdgeKey]core.Relationship, len(rels))
	g.adj = make(map[string]map[core.EdgeKey]struct{})
	for _, r := range rels {
		g.put(r)
	}
	log.FromCtx(ctx).Info().Int("edges", len(rels)).Msg("relationship graph loaded")
	return nil
}

// Record adds one piece of evidence for the edge a-b.
func (g *Graph) Record(ctx context.Context, a, b string, t core.RelationType) (core.Relationship, error) {
	key, err := edgeKey(a, b, t)
	if err != nil {
		return core.Relationship{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.bump(key, g.now())
	if err := g.persist(ctx, []core.Relationship{next}); err != nil {
		return core.Relationship{}, err
	}
	g.put(next)
	return next, nil
}

// RecordConversation records each distinct pair once for a closed conversation.
func (g *Graph) RecordConversation(ctx context.Context, resolutions []core.Resolution) ([]core.Relationship, error) {
	keys := Evidence(resolutions)
	if len(keys) == 0 {
		return nil, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	batch := make([]core.Relationship, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, g.bump(k, now))
	}
	if err := g.persist(ctx, batch); err != nil {
		return nil, err
	}
	for _, r := range batch {
		g.put(r)
	}

	log.FromCtx(ctx).Debug().Int("edges", len(batch)).Msg("conversation evidence recorded")
	return batch, nil
}

// DecayResult summarizes one sweep.
type DecayResult struct {
	Decayed int
	Deleted int
}

// Decay lowers every stale edge by the decay rate and drops the dead ones.
// Weight never goes up here.
func (g *Graph) Decay(ctx context.Context, now time.Time) (DecayResult, error) {
	s := g.settings.Current().Graph
	cutoff := now.Add(-s.Staleness)

	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		updated []core.Relationship
		deleted []core.EdgeKey
	)
	for k, r := range g.edges {
		if r.LastSeenAt.Before(cutoff) {
			r.Weight = math.Max(0, r.Weight-s.DecayRate)
		}
		if r.Weight <= epsilon {
			deleted = append(deleted, k)
			continue
		}
		if r.Weight != g.edges[k].Weight {
			updated = append(updated, r)
		}
	}

	if len(updated) == 0 && len(deleted) == 0 {
		return DecayResult{}, nil
	}

	err := g.retrier.Do(ctx, func() error {
		return g.repo.ApplyDecay(ctx, updated, deleted)
	})
	if err != nil {
		return DecayResult{}, fmt.Errorf("apply decay: %w", err)
	}

	for _, r := range updated {
		g.edges[r.EdgeKey] = r
	}
	for _, k := range deleted {
		g.remove(k)
	}

	res := DecayResult{Decayed: len(updated), Deleted: len(deleted)}
	log.FromCtx(ctx).Info().Int("decayed", res.Decayed).Int("deleted", res.Deleted).Msg("decay sweep done")
	return res, nil
}

// Get returns the edge between a and b. Undirected lookups ignore argument order.
func (g *Graph) Get(a, b string, t core.RelationType) (core.Relationship, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.edges[core.NewEdgeKey(a, b, t)]
	return r, ok
}

// Neighbors returns edges touching id, strongest first. An empty type means any.
func (g *Graph) Neighbors(id string, t core.RelationType) []core.Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []core.Relationship
	for k := range g.adj[id] {
		if t != "" && k.Type != t {
			continue
		}
		out = append(out, g.edges[k])
	}
	SortByStrength(out)
	return out
}

// Touching returns the distinct edges that touch any of ids, strongest first.
func (g *Graph) Touching(ids []string) []core.Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[core.EdgeKey]struct{})
	var out []core.Relationship
	for _, id := range ids {
		for k := range g.adj[id] {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, g.edges[k])
		}
	}
	SortByStrength(out)
	return out
}

func (g *Graph) Edges() []core.Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]core.Relationship, 0, len(g.edges))
	for _, r := range g.edges {
		out = append(out, r)
	}
	SortByStrength(out)
	return out
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// SortByStrength orders by weight, then recency, then key.
func SortByStrength(rels []core.Relationship) {
	sort.SliceStable(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return keyString(a.EdgeKey) < keyString(b.EdgeKey)
	})
}

func (g *Graph) bump(k core.EdgeKey, now time.Time) core.Relationship {
	r, ok := g.edges[k]
	if !ok {
		return core.Relationship{EdgeKey: k, Weight: 1.0, EvidenceCount: 1, FirstSeenAt: now, LastSeenAt: now}
	}
	r.Weight += g.settings.Current().Graph.Increment
	r.EvidenceCount++
	r.LastSeenAt = now
	return r
}

func (g *Graph) persist(ctx context.Context, batch []core.Relationship) error {
	err := g.retrier.Do(ctx, func() error {
		return g.repo.UpsertRelationships(ctx, batch)
	})
	if err != nil {
		return fmt.Errorf("persist relationships: %w", err)
	}
	return nil
}

func (g *Graph) put(r core.Relationship) {
	g.edges[r.EdgeKey] = r
	for _, id := range []string{r.Source, r.Target} {
		if g.adj[id] == nil {
			g.adj[id] = make(map[core.EdgeKey]struct{})
		}
		g.adj[id][r.EdgeKey] = struct{}{}
	}
}

func (g *Graph) remove(k core.EdgeKey) {
	delete(g.edges, k)
	for _, id := range []string{k.Source, k.Target} {
		delete(g.adj[id], k)
		if len(g.adj[id]) == 0 {
			delete(g.adj, id)
		}
	}
}

func edgeKey(a, b string, t core.RelationType) (core.EdgeKey, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return core.EdgeKey{}, fmt.Errorf("%w: empty endpoint", core.ErrInputMalformed)
	}
	if a == b {
		return core.EdgeKey{}, fmt.Errorf("%w: self edge on %s", core.ErrInputMalformed, a)
	}
	switch t {
	case core.RelMentionedWith, core.RelWorksOn, core.RelClientOf:
	default:
		return core.EdgeKey{}, fmt.Errorf("%w: unknown relation type %q", core.ErrInputMalformed, t)
	}
	return core.NewEdgeKey(a, b, t), nil
}

func keyString(k core.EdgeKey) string {
	return k.Source + "\x00" + k.Target + "\x00" + string(k.Type)
}
