package command

import (
	"strings"
	"sync"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
)

const recentSpeakers = 4

// LastSpeakers remembers, per session, the most recent speakers that are not
// owners, newest first.
type LastSpeakers struct {
	settings config.Provider

	mu   sync.RWMutex
	last map[string][]string
}

func NewLastSpeakers(settings config.Provider) *LastSpeakers {
	return &LastSpeakers{
		settings: settings,
		last:     make(map[string][]string),
	}
}

func (l *LastSpeakers) Observe(sessionID string, segments []core.Segment) {
	s := l.settings.Current()

	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.last[sessionID]
	for _, seg := range segments {
		id := seg.SpeakerID
		if id == "" || s.IsOwner(id) {
			continue
		}
		list = pushFront(list, id)
	}
	if len(list) > 0 {
		l.last[sessionID] = list
	}
}

// Get returns the most recent non-owner speaker other than exclude.
func (l *LastSpeakers) Get(sessionID, exclude string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.last[sessionID] {
		if exclude != "" && strings.EqualFold(id, exclude) {
			continue
		}
		return id, true
	}
	return "", false
}

func (l *LastSpeakers) Forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, sessionID)
}

func pushFront(list []string, id string) []string {
	out := make([]string, 0, recentSpeakers)
	out = append(out, id)
	for _, v := range list {
		if v == id {
			continue
		}
		if len(out) == recentSpeakers {
			break
		}
		out = append(out, v)
	}
	return out
}
