package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/core"
)

func TestRelationshipsRepo_UpsertAndDecay(t *testing.T) {
	repo := NewRelationshipsRepo(newTestDB(t))
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	keep := core.Relationship{EdgeKey: core.NewEdgeKey("david", "acme", core.RelWorksOn), Weight: 1, EvidenceCount: 1, FirstSeenAt: t0, LastSeenAt: t0}
	drop := core.Relationship{EdgeKey: core.NewEdgeKey("b", "a", core.RelMentionedWith), Weight: 1, EvidenceCount: 1, FirstSeenAt: t0, LastSeenAt: t0}
	require.NoError(t, repo.UpsertRelationships(ctx, []core.Relationship{keep, drop}))

	keep.Weight, keep.EvidenceCount, keep.LastSeenAt = 2, 2, t0.Add(time.Hour)
	require.NoError(t, repo.UpsertRelationships(ctx, []core.Relationship{keep}))

	got, err := repo.LoadRelationships(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byKey := map[core.EdgeKey]core.Relationship{}
	for _, r := range got {
		byKey[r.EdgeKey] = r
	}
	assert.Equal(t, 2.0, byKey[keep.EdgeKey].Weight)
	assert.Equal(t, t0, byKey[keep.EdgeKey].FirstSeenAt)
	assert.Equal(t, "a", byKey[drop.EdgeKey].Source, "undirected endpoints are stored sorted")

	keep.Weight = 1.5
	require.NoError(t, repo.ApplyDecay(ctx, []core.Relationship{keep}, []core.EdgeKey{drop.EdgeKey}))

	got, err = repo.LoadRelationships(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.5, got[0].Weight)
	assert.Equal(t, 2, got[0].EvidenceCount)
}

func TestRelationshipsRepo_RejectsNegativeWeight(t *testing.T) {
	repo := NewRelationshipsRepo(newTestDB(t))
	now := time.Now()

	err := repo.UpsertRelationships(context.Background(), []core.Relationship{{
		EdgeKey:     core.NewEdgeKey("a", "b", core.RelMentionedWith),
		Weight:      -1,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrGraphWriteConflict))
}

func TestConflict(t *testing.T) {
	busy := fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
	require.ErrorIs(t, conflict(busy), core.ErrGraphWriteConflict)
	require.NoError(t, conflict(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, conflict(plain))
}
