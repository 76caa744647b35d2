package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/retry"
)

type memRepo struct {
	mu       sync.Mutex
	rows     map[core.EdgeKey]core.Relationship
	failures int
	err      error
	calls    int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[core.EdgeKey]core.Relationship)}
}

func (m *memRepo) fail() error {
	m.calls++
	if m.failures > 0 {
		m.failures--
		return m.err
	}
	return nil
}

func (m *memRepo) LoadRelationships(ctx context.Context) ([]core.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Relationship
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) UpsertRelationships(ctx context.Context, rels []core.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for _, r := range rels {
		m.rows[r.EdgeKey] = r
	}
	return nil
}

func (m *memRepo) ApplyDecay(ctx context.Context, updated []core.Relationship, deleted []core.EdgeKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	for _, r := range updated {
		m.rows[r.EdgeKey] = r
	}
	for _, k := range deleted {
		delete(m.rows, k)
	}
	return nil
}

var fastRetry = &retry.Config{
	MaxRetries:    3,
	BackoffFactor: 1,
	InitialDelay:  time.Millisecond,
	MaxDelay:      time.Millisecond,
	IsRetryable: func(err error) bool {
		return errors.Is(err, core.ErrGraphWriteConflict)
	},
}

func newTestGraph(repo *memRepo, now *time.Time) *Graph {
	return New(repo, config.Static(config.DefaultSettings()),
		WithClock(func() time.Time { return *now }),
		WithRetry(fastRetry),
	)
}

func person(id, surface string) core.Resolution {
	return core.Resolution{
		Mention:    core.EntityMention{SurfaceText: surface, Type: core.EntityPerson},
		EntityID:   id,
		EntityType: core.EntityPerson,
		Confidence: 0.95,
		Band:       core.BandAuto,
	}
}

func org(id, surface string) core.Resolution {
	return core.Resolution{
		Mention:    core.EntityMention{SurfaceText: surface, Type: core.EntityOrg},
		EntityID:   id,
		EntityType: core.EntityOrg,
		Confidence: 0.95,
		Band:       core.BandAuto,
	}
}

func TestGraph_Record(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	g := newTestGraph(repo, &now)
	ctx := context.Background()

	r, err := g.Record(ctx, "b", "a", core.RelMentionedWith)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Weight)
	assert.Equal(t, "a", r.Source, "undirected keys are sorted")

	now = now.Add(time.Hour)
	r, err = g.Record(ctx, "a", "b", core.RelMentionedWith)
	require.NoError(t, err)
	assert.Equal(t, 2.0, r.Weight)
	assert.Equal(t, 2, r.EvidenceCount)
	assert.Equal(t, now, r.LastSeenAt)
	assert.Equal(t, now.Add(-time.Hour), r.FirstSeenAt)

	got, ok := g.Get("b", "a", core.RelMentionedWith)
	require.True(t, ok)
	assert.Equal(t, r, got)

	_, err = g.Record(ctx, "a", "a", core.RelMentionedWith)
	require.ErrorIs(t, err, core.ErrInputMalformed)
	_, err = g.Record(ctx, "a", "", core.RelWorksOn)
	require.ErrorIs(t, err, core.ErrInputMalformed)
	_, err = g.Record(ctx, "a", "b", "likes")
	require.ErrorIs(t, err, core.ErrInputMalformed)
}

func TestGraph_WorksOnAcrossConversations(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGraph(newMemRepo(), &now)
	ctx := context.Background()

	conv := []core.Resolution{person("david", "David"), org("acme", "Acme Corp"), person("david", "he")}
	_, err := g.RecordConversation(ctx, conv)
	require.NoError(t, err)
	now = now.Add(24 * time.Hour)
	_, err = g.RecordConversation(ctx, conv)
	require.NoError(t, err)

	r, ok := g.Get("david", "acme", core.RelWorksOn)
	require.True(t, ok)
	assert.GreaterOrEqual(t, r.Weight, 2.0)
	assert.Equal(t, 2, r.EvidenceCount, "repeated mentions count once per conversation")

	_, ok = g.Get("acme", "david", core.RelWorksOn)
	assert.False(t, ok, "works_on is directed")
}

func TestGraph_WriteConflictIsRetried(t *testing.T) {
	t.Parallel()
	now := time.Now()
	repo := newMemRepo()
	repo.failures, repo.err = 2, core.ErrGraphWriteConflict
	g := newTestGraph(repo, &now)

	_, err := g.Record(context.Background(), "a", "b", core.RelMentionedWith)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, 1, g.Len())
}

func TestGraph_FailedWriteLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()
	now := time.Now()
	repo := newMemRepo()
	g := newTestGraph(repo, &now)
	ctx := context.Background()

	_, err := g.Record(ctx, "a", "b", core.RelMentionedWith)
	require.NoError(t, err)

	repo.failures, repo.err = 10, core.ErrGraphWriteConflict
	_, err = g.Record(ctx, "a", "b", core.RelMentionedWith)
	require.ErrorIs(t, err, core.ErrGraphWriteConflict)

	r, _ := g.Get("a", "b", core.RelMentionedWith)
	assert.Equal(t, 1.0, r.Weight)

	repo.failures, repo.err = 1, errors.New("disk full")
	_, err = g.Record(ctx, "a", "b", core.RelMentionedWith)
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrGraphWriteConflict))
}

func TestGraph_Decay(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	repo := newMemRepo()
	g := newTestGraph(repo, &now)
	ctx := context.Background()

	_, err := g.Record(ctx, "old", "x", core.RelMentionedWith)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = g.Record(ctx, "strong", "x", core.RelMentionedWith)
		require.NoError(t, err)
	}

	now = start.Add(10 * 24 * time.Hour)
	_, err = g.Record(ctx, "fresh", "x", core.RelMentionedWith)
	require.NoError(t, err)

	prev := map[core.EdgeKey]float64{}
	for _, r := range g.Edges() {
		prev[r.EdgeKey] = r.Weight
	}

	for sweep := 0; sweep < 25; sweep++ {
		_, err := g.Decay(ctx, now)
		require.NoError(t, err)
		for _, r := range g.Edges() {
			assert.LessOrEqual(t, r.Weight, prev[r.EdgeKey], "decay never raises weight")
			assert.Greater(t, r.Weight, epsilon)
			prev[r.EdgeKey] = r.Weight
		}
	}

	_, ok := g.Get("old", "x", core.RelMentionedWith)
	assert.False(t, ok, "a 1.0 edge is gone after ten sweeps")
	_, ok = g.Get("strong", "x", core.RelMentionedWith)
	assert.False(t, ok, "a 2.0 edge is gone after twenty sweeps")
	fresh, ok := g.Get("fresh", "x", core.RelMentionedWith)
	require.True(t, ok)
	assert.Equal(t, 1.0, fresh.Weight, "recent edges do not decay")

	assert.Len(t, repo.rows, 1)
}

func TestGraph_DecayFloatingPointTail(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := newTestGraph(newMemRepo(), &now)
	ctx := context.Background()

	_, err := g.Record(ctx, "a", "b", core.RelMentionedWith)
	require.NoError(t, err)

	now = now.Add(30 * 24 * time.Hour)
	var deleted int
	for i := 0; i < 10; i++ {
		res, err := g.Decay(ctx, now)
		require.NoError(t, err)
		deleted += res.Deleted
	}
	assert.Equal(t, 1, deleted, "0.1 steps from 1.0 reach zero within epsilon on the tenth sweep")
	assert.Zero(t, g.Len())
}

func TestGraph_LoadAndNeighbors(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	repo := newMemRepo()
	repo.rows[core.NewEdgeKey("david", "acme", core.RelWorksOn)] = core.Relationship{
		EdgeKey: core.NewEdgeKey("david", "acme", core.RelWorksOn), Weight: 3, LastSeenAt: now,
	}
	repo.rows[core.NewEdgeKey("david", "sarah", core.RelMentionedWith)] = core.Relationship{
		EdgeKey: core.NewEdgeKey("david", "sarah", core.RelMentionedWith), Weight: 1, LastSeenAt: now,
	}

	g := newTestGraph(repo, &now)
	require.NoError(t, g.Load(context.Background()))

	all := g.Neighbors("david", "")
	require.Len(t, all, 2)
	assert.Equal(t, core.RelWorksOn, all[0].Type)

	works := g.Neighbors("david", core.RelWorksOn)
	require.Len(t, works, 1)
	assert.Equal(t, "acme", works[0].Other("david"))

	assert.Len(t, g.Touching([]string{"acme", "sarah", "david"}), 2)
	assert.Empty(t, g.Neighbors("nobody", ""))
}

func TestEvidence(t *testing.T) {
	t.Parallel()
	client := org("acme", "the client")

	tests := []struct {
		name string
		in   []core.Resolution
		want []core.EdgeKey
	}{
		{
			name: "two people",
			in:   []core.Resolution{person("b", "Bob"), person("a", "Alice")},
			want: []core.EdgeKey{core.NewEdgeKey("a", "b", core.RelMentionedWith)},
		},
		{
			name: "client phrase",
			in:   []core.Resolution{person("d", "David"), client},
			want: []core.EdgeKey{
				core.NewEdgeKey("acme", "d", core.RelClientOf),
				core.NewEdgeKey("d", "acme", core.RelWorksOn),
			},
		},
		{
			name: "unresolved and literal are skipped",
			in: []core.Resolution{
				person("a", "Alice"),
				{Mention: core.EntityMention{SurfaceText: "Bob"}, EntityType: core.EntityPerson, Band: core.BandNeedsHuman},
				{Mention: core.EntityMention{SurfaceText: "a@x.com"}, EntityID: "c1", EntityType: core.EntityEmail, Band: core.BandAuto},
			},
			want: []core.EdgeKey{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, Evidence(tt.in))
		})
	}
}
