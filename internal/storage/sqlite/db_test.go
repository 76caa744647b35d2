package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandevgo/percept/internal/core"
)

// Migrations touch goose globals, so tests in this package do not run in parallel.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "percept.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConversation(id string, ended time.Time, texts ...string) *core.Conversation {
	conv := &core.Conversation{
		ID:             id,
		SessionID:      "room-1",
		StartedAt:      ended.Add(-time.Minute),
		LastActivityAt: ended,
		EndedAt:        ended,
		Speakers:       []string{"SPEAKER_00", "SPEAKER_01"},
	}
	for i, text := range texts {
		conv.Utterances = append(conv.Utterances, core.Utterance{
			ID:             id + "-u" + string(rune('a'+i)),
			ConversationID: id,
			Text:           text,
			SpeakerID:      conv.Speakers[i%2],
			StartTS:        float64(i),
			EndTS:          float64(i) + 0.5,
			Confidence:     0.9,
			CreatedAt:      conv.StartedAt.Add(time.Duration(i) * time.Second),
		})
		conv.WordCount += len(text)
	}
	return conv
}

func TestNewDB_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "percept.db")

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'utterances_fts'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestMillis(t *testing.T) {
	require.Equal(t, int64(0), toMillis(time.Time{}))
	require.True(t, fromMillis(0).IsZero())

	now := time.UnixMilli(1_700_000_000_123).UTC()
	require.Equal(t, now, fromMillis(toMillis(now)))
}
