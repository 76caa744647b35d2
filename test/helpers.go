package test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/storage/sqlite"
)

// NewDB opens a migrated database in a temp dir that is closed with the test.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.NewDB(context.Background(), filepath.Join(t.TempDir(), "percept.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// FastSettings shortens the silence thresholds so real timers fire within a test.
func FastSettings() *config.Settings {
	s := config.DefaultSettings()
	s.Session.CommandSilence = 50 * time.Millisecond
	s.Session.ConversationSilence = 300 * time.Millisecond
	return s
}

// Sink records published events.
type Sink struct {
	mu     sync.Mutex
	events []core.Event
}

func (s *Sink) Publish(_ context.Context, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Sink) Kinds() []core.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

// Find returns the first event of kind.
func (s *Sink) Find(kind core.EventKind) (core.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return core.Event{}, false
}
