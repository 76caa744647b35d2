package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/retry"
)

var catalogNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fastCatalogRetry() *retry.Config {
	return &retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		IsRetryable: func(err error) bool {
			return errors.Is(err, core.ErrGraphWriteConflict)
		},
	}
}

func newTestCatalog(repo *memEntityRepo, opts ...CatalogOption) *Catalog {
	opts = append([]CatalogOption{
		WithCatalogClock(func() time.Time { return catalogNow }),
		WithCatalogRetry(fastCatalogRetry()),
	}, opts...)
	return NewCatalog(repo, staticContacts{{Name: "Sarah Connor", Aliases: []string{"Sarah"}}}, nil, opts...)
}

func resolution(id, name string, t core.EntityType, band core.Band) core.Resolution {
	return core.Resolution{
		Mention:     core.EntityMention{SurfaceText: name, Type: t},
		EntityID:    id,
		DisplayName: name,
		EntityType:  t,
		Band:        band,
	}
}

func TestCatalog_Commit(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	searcher := &fakeSearcher{}
	c := newTestCatalog(repo, WithSearcher(searcher))

	written, err := c.Commit(context.Background(), []core.Resolution{
		resolution(davidID, "David Chen", core.EntityPerson, core.BandAuto),
		resolution(acmeID, "Acme Corp", core.EntityOrg, core.BandSoft),
		resolution("", "Zebulon", core.EntityPerson, core.BandNeedsHuman),
		resolution("", "bob@acme.com", core.EntityEmail, core.BandLiteral),
		resolution(davidID, "David Chen", core.EntityPerson, core.BandAuto),
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, 1, repo.upserts, "one batch per commit")

	david, ok := c.Get(davidID)
	require.True(t, ok)
	assert.False(t, david.NeedsReview)
	assert.Equal(t, catalogNow, david.FirstSeenAt)
	assert.Equal(t, catalogNow, david.LastMentionedAt)

	acme, ok := c.Get(acmeID)
	require.True(t, ok)
	assert.True(t, acme.NeedsReview, "new soft entities wait for review")
	assert.Equal(t, repo.rows[acmeID], acme)
	assert.Len(t, searcher.indexed, 2)

	// An auto mention confirms the soft entity.
	_, err = c.Commit(context.Background(), []core.Resolution{
		resolution(acmeID, "Acme Corp", core.EntityOrg, core.BandAuto),
	})
	require.NoError(t, err)
	acme, _ = c.Get(acmeID)
	assert.False(t, acme.NeedsReview)
	assert.Len(t, searcher.indexed, 2, "known entities are not re-indexed")
}

func TestCatalog_CommitNothing(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	c := newTestCatalog(repo)

	written, err := c.Commit(context.Background(), []core.Resolution{
		resolution("", "Zebulon", core.EntityPerson, core.BandNeedsHuman),
	})
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.Zero(t, repo.upserts)
}

func TestCatalog_CommitRetriesConflicts(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	repo.failures = 2
	c := newTestCatalog(repo)

	_, err := c.Commit(context.Background(), []core.Resolution{
		resolution(davidID, "David Chen", core.EntityPerson, core.BandAuto),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.upserts)
	_, ok := c.Get(davidID)
	assert.True(t, ok)
}

func TestCatalog_CommitFailureLeavesMemory(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	repo.err = errors.New("disk full")
	c := newTestCatalog(repo)

	_, err := c.Commit(context.Background(), []core.Resolution{
		resolution(davidID, "David Chen", core.EntityPerson, core.BandAuto),
	})
	require.Error(t, err)
	assert.Equal(t, 1, repo.upserts, "other errors are not retried")
	_, ok := c.Get(davidID)
	assert.False(t, ok)
}

func TestCatalog_Promote(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	c := newTestCatalog(repo)

	e, err := c.Promote(context.Background(), 7, core.EntityPerson, "  Zebulon Pike ")
	require.NoError(t, err)
	assert.Equal(t, ID(core.EntityPerson, "Zebulon Pike"), e.ID)
	assert.Equal(t, "Zebulon Pike", e.DisplayName)
	assert.False(t, e.NeedsReview)
	assert.Equal(t, e.ID, repo.closed[7])

	_, err = c.Promote(context.Background(), 8, core.EntityEmail, "bob@acme.com")
	assert.ErrorIs(t, err, core.ErrInputMalformed)
	_, err = c.Promote(context.Background(), 8, core.EntityPerson, " ")
	assert.ErrorIs(t, err, core.ErrInputMalformed)
}

func TestCatalog_SeedFindAndSnapshot(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	c := newTestCatalog(repo)
	ctx := context.Background()

	first, err := c.Seed(ctx, core.EntityOrg, "Acme Corp")
	require.NoError(t, err)
	again, err := c.Seed(ctx, core.EntityOrg, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, repo.upserts)

	assert.Equal(t, []core.Entity{first}, c.Find("ACME  Corp"))
	assert.Empty(t, c.Find("Acme"))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	var names []string
	for _, n := range snap.Names {
		names = append(names, n.Text)
	}
	assert.ElementsMatch(t, []string{"Acme Corp", "Sarah Connor", "Sarah"}, names)
	assert.Contains(t, snap.Entities, acmeID)
}

func TestCatalog_Load(t *testing.T) {
	t.Parallel()
	repo := newMemEntityRepo()
	older := core.Entity{ID: "a", Type: core.EntityPerson, DisplayName: "Ann", LastMentionedAt: catalogNow.Add(-time.Hour)}
	newer := core.Entity{ID: "b", Type: core.EntityPerson, DisplayName: "Ben", LastMentionedAt: catalogNow}
	repo.rows["a"], repo.rows["b"] = older, newer

	c := newTestCatalog(repo)
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, []core.Entity{newer, older}, c.List())
}
