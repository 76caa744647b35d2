package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
	"github.com/sandevgo/percept/pkg/retry"
)

// Catalog is the process-wide canonical entity table. Writes are serialized
// by one lock and reach the repository before memory.
type Catalog struct {
	mu       sync.RWMutex
	entities map[string]core.Entity

	repo     core.EntityRepository
	contacts core.ContactRepository
	speakers core.SpeakerRepository
	searcher core.EntitySearcher
	retrier  *retry.Retrier
	now      func() time.Time
}

type CatalogOption func(*Catalog)

// WithSearcher indexes every new entity in the search collaborator.
func WithSearcher(s core.EntitySearcher) CatalogOption {
	return func(c *Catalog) { c.searcher = s }
}

func WithCatalogClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) { c.now = now }
}

func WithCatalogRetry(cfg *retry.Config) CatalogOption {
	return func(c *Catalog) { c.retrier = retry.NewRetrier(cfg) }
}

func NewCatalog(repo core.EntityRepository, contacts core.ContactRepository, speakers core.SpeakerRepository, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		entities: make(map[string]core.Entity),
		repo:     repo,
		contacts: contacts,
		speakers: speakers,
		retrier: retry.NewRetrier(retry.NewStoreConfig(func(err error) bool {
			return errors.Is(err, core.ErrGraphWriteConflict)
		})),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) Load(ctx context.Context) error {
	list, err := c.repo.LoadEntities(ctx)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[string]core.Entity, len(list))
	for _, e := range list {
		c.entities[e.ID] = e
	}
	log.FromCtx(ctx).Info().Int("entities", len(list)).Msg("entity catalog loaded")
	return nil
}

func (c *Catalog) Get(id string) (core.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	return e, ok
}

// Find returns entities whose normalized name equals name, newest first.
func (c *Catalog) Find(name string) []core.Entity {
	key := Normalize(name)
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []core.Entity
	for _, e := range c.entities {
		if Normalize(e.DisplayName) == key {
			out = append(out, e)
		}
	}
	sortByRecency(out)
	return out
}

func (c *Catalog) List() []core.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	sortByRecency(out)
	return out
}

// Snapshot captures the names a resolver may match: canonical entities,
// contacts and taught speaker names.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	var (
		contacts []core.Contact
		speakers []core.Speaker
		err      error
	)
	if c.contacts != nil {
		if contacts, err = c.contacts.ListContacts(ctx); err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
	}
	if c.speakers != nil {
		if speakers, err = c.speakers.ListSpeakers(ctx); err != nil {
			return nil, fmt.Errorf("list speakers: %w", err)
		}
	}
	return BuildSnapshot(c.List(), contacts, speakers), nil
}

// Commit writes the canonical side of a batch of resolutions. Auto mentions
// upsert their entity, soft mentions upsert flagged for review when new, and
// everything else leaves the entity table alone.
func (c *Catalog) Commit(ctx context.Context, resolutions []core.Resolution) ([]core.Entity, error) {
	var fresh []core.Entity
	defer func() { c.index(ctx, fresh) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	batch := make(map[string]core.Entity)
	for _, r := range resolutions {
		if !r.Resolved() || !r.EntityType.Resolvable() {
			continue
		}
		e, ok := batch[r.EntityID]
		if !ok {
			e, ok = c.entities[r.EntityID]
		}
		if !ok {
			name := r.DisplayName
			if name == "" {
				name = r.Mention.SurfaceText
			}
			e = core.Entity{
				ID:          r.EntityID,
				Type:        r.EntityType,
				DisplayName: strings.TrimSpace(name),
				NeedsReview: r.Band == core.BandSoft,
				FirstSeenAt: now,
			}
		} else if r.Band == core.BandAuto {
			e.NeedsReview = false
		}
		e.LastMentionedAt = now
		batch[r.EntityID] = e
	}
	if len(batch) == 0 {
		return nil, nil
	}

	list := make([]core.Entity, 0, len(batch))
	for _, e := range batch {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	fresh, err := c.write(ctx, list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Promote makes name a canonical entity of type t and closes review item id.
func (c *Catalog) Promote(ctx context.Context, reviewID int64, t core.EntityType, name string) (core.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" || !t.Resolvable() {
		return core.Entity{}, fmt.Errorf("%w: cannot promote %q as %q", core.ErrInputMalformed, name, t)
	}

	var fresh []core.Entity
	defer func() { c.index(ctx, fresh) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	id := ID(t, name)
	e, ok := c.entities[id]
	if !ok {
		e = core.Entity{ID: id, Type: t, DisplayName: name, FirstSeenAt: now}
	}
	e.NeedsReview = false
	e.LastMentionedAt = now

	fresh, err := c.write(ctx, []core.Entity{e})
	if err != nil {
		return core.Entity{}, err
	}
	if err := c.repo.CloseReview(ctx, reviewID, id); err != nil {
		return core.Entity{}, fmt.Errorf("close review %d: %w", reviewID, err)
	}
	return e, nil
}

// Seed registers a known entity directly, e.g. from an import.
func (c *Catalog) Seed(ctx context.Context, t core.EntityType, name string) (core.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" || !t.Resolvable() {
		return core.Entity{}, fmt.Errorf("%w: cannot seed %q as %q", core.ErrInputMalformed, name, t)
	}

	var fresh []core.Entity
	defer func() { c.index(ctx, fresh) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	id := ID(t, name)
	if e, ok := c.entities[id]; ok {
		return e, nil
	}
	now := c.now()
	e := core.Entity{ID: id, Type: t, DisplayName: name, FirstSeenAt: now, LastMentionedAt: now}
	fresh, err := c.write(ctx, []core.Entity{e})
	if err != nil {
		return core.Entity{}, err
	}
	return e, nil
}

// write persists list with retry, applies it to memory and returns the
// entities that were not known before. Callers hold mu.
func (c *Catalog) write(ctx context.Context, list []core.Entity) ([]core.Entity, error) {
	err := c.retrier.Do(ctx, func() error {
		return c.repo.UpsertEntities(ctx, list)
	})
	if err != nil {
		return nil, fmt.Errorf("persist entities: %w", err)
	}

	var fresh []core.Entity
	for _, e := range list {
		if _, ok := c.entities[e.ID]; !ok {
			fresh = append(fresh, e)
		}
		c.entities[e.ID] = e
	}
	return fresh, nil
}

func (c *Catalog) index(ctx context.Context, fresh []core.Entity) {
	if c.searcher == nil {
		return
	}
	for _, e := range fresh {
		if err := c.searcher.IndexEntity(ctx, e); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("entity", e.DisplayName).Msg("entity not indexed")
		}
	}
}

func sortByRecency(list []core.Entity) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastMentionedAt.Equal(list[j].LastMentionedAt) {
			return list[i].LastMentionedAt.After(list[j].LastMentionedAt)
		}
		return list[i].ID < list[j].ID
	})
}
