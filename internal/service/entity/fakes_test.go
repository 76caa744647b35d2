package entity

import (
	"context"
	"sync"

	"github.com/sandevgo/percept/internal/core"
)

type fakeAI struct {
	reply string
	err   error
	calls int
}

func (f *fakeAI) Chat(ctx context.Context, history []core.Message) (core.Message, error) {
	f.calls++
	if f.err != nil {
		return core.Message{}, f.err
	}
	return core.Message{Role: core.RoleAssistant, Content: f.reply}, nil
}

type fakeSearcher struct {
	hits    []core.SemanticHit
	err     error
	indexed []core.Entity
}

func (f *fakeSearcher) SearchEntities(ctx context.Context, query string, limit int) ([]core.SemanticHit, error) {
	return f.hits, f.err
}

func (f *fakeSearcher) IndexEntity(ctx context.Context, e core.Entity) error {
	f.indexed = append(f.indexed, e)
	return nil
}

type fakeGraph struct {
	edges []core.Relationship
}

func (f *fakeGraph) Neighbors(id string, t core.RelationType) []core.Relationship {
	var out []core.Relationship
	for _, e := range f.edges {
		if e.Touches(id) && (t == "" || e.Type == t) {
			out = append(out, e)
		}
	}
	return out
}

type staticDirectory struct {
	snap *Snapshot
}

func (d staticDirectory) Snapshot(ctx context.Context) (*Snapshot, error) {
	return d.snap, nil
}

type memEntityRepo struct {
	mu      sync.Mutex
	rows    map[string]core.Entity
	closed  map[int64]string
	upserts int

	// failures makes the first n upserts report a write conflict.
	failures int
	err      error
}

func newMemEntityRepo() *memEntityRepo {
	return &memEntityRepo{rows: map[string]core.Entity{}, closed: map[int64]string{}}
}

func (m *memEntityRepo) LoadEntities(ctx context.Context) ([]core.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Entity
	for _, e := range m.rows {
		out = append(out, e)
	}
	return out, nil
}

func (m *memEntityRepo) UpsertEntities(ctx context.Context, entities []core.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failures > 0 {
		m.failures--
		return core.ErrGraphWriteConflict
	}
	if m.err != nil {
		return m.err
	}
	for _, e := range entities {
		m.rows[e.ID] = e
	}
	return nil
}

func (m *memEntityRepo) ListReview(ctx context.Context, limit int) ([]core.ReviewItem, error) {
	return nil, nil
}

func (m *memEntityRepo) GetReview(ctx context.Context, id int64) (core.ReviewItem, error) {
	return core.ReviewItem{}, core.ErrNotFound
}

func (m *memEntityRepo) CloseReview(ctx context.Context, id int64, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[id] = entityID
	return nil
}

type staticContacts []core.Contact

func (s staticContacts) ListContacts(ctx context.Context) ([]core.Contact, error) { return s, nil }

func (s staticContacts) SaveContact(ctx context.Context, c core.Contact) error { return nil }
