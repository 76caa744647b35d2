package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sandevgo/percept/pkg/log"
)

// Provider hands out the current settings snapshot. Callers must treat it as read-only.
type Provider interface {
	Current() *Settings
}

type staticProvider struct {
	s *Settings
}

func (p staticProvider) Current() *Settings { return p.s }

// Static wraps fixed settings, mainly for tests and one-shot commands.
func Static(s *Settings) Provider {
	return staticProvider{s: s}
}

// SettingsStore keeps the live settings and reloads them when the file changes.
// A file that fails to parse or validate leaves the previous settings in place.
type SettingsStore struct {
	path    string
	current atomic.Pointer[Settings]

	mu        sync.Mutex
	lastMod   time.Time
	listeners []func(*Settings)
}

func NewSettingsStore(path string) *SettingsStore {
	s := &SettingsStore{path: path}
	s.current.Store(DefaultSettings())
	return s
}

func (s *SettingsStore) Current() *Settings {
	return s.current.Load()
}

func (s *SettingsStore) Path() string {
	return s.path
}

// OnChange registers fn to run after every successful reload.
func (s *SettingsStore) OnChange(fn func(*Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load reads the settings file once. A missing file keeps the defaults.
func (s *SettingsStore) Load(ctx context.Context) error {
	_, err := s.Reload(ctx)
	if errors.Is(err, os.ErrNotExist) {
		log.FromCtx(ctx).Info().Str("path", s.path).Msg("settings file not found, using defaults")
		return nil
	}
	return err
}

// Reload re-reads the file when its modification time moved forward.
func (s *SettingsStore) Reload(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return false, err
	}
	if !info.ModTime().After(s.lastMod) {
		return false, nil
	}

	next, err := LoadSettingsFile(s.path)
	if err != nil {
		// Remember the broken version so it is not re-parsed on every tick.
		s.lastMod = info.ModTime()
		return false, fmt.Errorf("reload %s: %w", s.path, err)
	}

	s.lastMod = info.ModTime()
	s.current.Store(next)
	for _, fn := range s.listeners {
		fn(next)
	}
	return true, nil
}

// Start watches the settings file until ctx is done.
// fsnotify gives prompt reloads; the interval poll covers filesystems where events are lost.
func (s *SettingsStore) Start(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	logger.Info().Str("path", s.path).Msg("starting settings watcher")

	var events <-chan fsnotify.Event
	var watchErrs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
	} else if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		logger.Warn().Err(err).Msg("cannot watch settings dir, falling back to polling")
		_ = watcher.Close()
	} else {
		defer watcher.Close()
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	interval := s.Current().ReloadInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reload := func(trigger string) {
		changed, err := s.Reload(ctx)
		switch {
		case err != nil && !errors.Is(err, os.ErrNotExist):
			logger.Error().Err(err).Msg("settings reload failed, keeping previous settings")
		case changed:
			logger.Info().Str("trigger", trigger).Msg("settings reloaded")
			if next := s.Current().ReloadInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reload("poll")
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reload("fsnotify")
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Warn().Err(err).Msg("settings watcher error")
		}
	}
}

func (s *SettingsStore) Shutdown(ctx context.Context) error {
	return nil
}
