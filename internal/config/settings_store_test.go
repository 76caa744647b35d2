package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeSettings(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestSettingsStore_LoadMissingFileUsesDefaults(t *testing.T) {
	store := NewSettingsStore(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, store.Load(context.Background()))
	assert.Equal(t, DefaultSettings().WakePhrases, store.Current().WakePhrases)
}

func TestSettingsStore_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	base := time.Now().Add(-time.Hour)
	writeSettings(t, path, "graph:\n  decay_rate: 0.2\n", base)

	store := NewSettingsStore(path)
	var notified atomic.Int32
	store.OnChange(func(*Settings) { notified.Add(1) })
	require.NoError(t, store.Load(context.Background()))
	assert.Equal(t, 0.2, store.Current().Graph.DecayRate)

	// unchanged mtime is a no-op
	changed, err := store.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	writeSettings(t, path, "resolution:\n  fuzzy_threshold: 7\n", base.Add(time.Minute))
	changed, err = store.Reload(context.Background())
	assert.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0.2, store.Current().Graph.DecayRate)

	writeSettings(t, path, "graph:\n  decay_rate: 0.3\n", base.Add(2*time.Minute))
	changed, err = store.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0.3, store.Current().Graph.DecayRate)
	assert.Equal(t, int32(2), notified.Load())
}

func TestSettingsStore_WatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	base := time.Now().Add(-time.Hour)
	writeSettings(t, path, "reload_interval: 20ms\n", base)

	store := NewSettingsStore(path)
	require.NoError(t, store.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Start(ctx)
	}()

	writeSettings(t, path, "reload_interval: 20ms\nwake_phrases: [computer]\n", base.Add(time.Minute))

	assert.Eventually(t, func() bool {
		return len(store.Current().WakePhrases) == 1 && store.Current().WakePhrases[0] == "computer"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
