package speaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

const ReasonUnauthorized = "unauthorized_speaker"

// Registry keeps speaker identities, their running stats and approval state.
type Registry struct {
	repo     core.SpeakerRepository
	settings config.Provider
	now      func() time.Time
}

func NewRegistry(repo core.SpeakerRepository, settings config.Provider) *Registry {
	return &Registry{repo: repo, settings: settings, now: time.Now}
}

type stats struct {
	words, segments int
	last            time.Time
}

// Observe records one flush worth of segments: unknown speakers are created
// and every speaker's word and segment counts grow.
func (r *Registry) Observe(ctx context.Context, segments []core.Segment) error {
	s := r.settings.Current()
	order := make([]string, 0, len(segments))
	per := make(map[string]*stats)

	for _, seg := range segments {
		id := strings.TrimSpace(seg.SpeakerID)
		if id == "" {
			continue
		}
		st, ok := per[id]
		if !ok {
			st = &stats{}
			per[id] = st
			order = append(order, id)
		}
		st.words += len(strings.Fields(seg.Text))
		st.segments++
		seen := seg.ReceivedAt
		if seen.IsZero() {
			seen = r.now()
		}
		if seen.After(st.last) {
			st.last = seen
		}
	}

	var errs []error
	for _, id := range order {
		st := per[id]
		err := r.repo.EnsureSpeaker(ctx, core.Speaker{ID: id, IsOwner: s.IsOwner(id), LastSeen: st.last})
		if err == nil {
			err = r.repo.AddStats(ctx, id, st.words, st.segments, st.last)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Teach sets the display name of speaker id, creating the speaker if needed.
func (r *Registry) Teach(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return fmt.Errorf("%w: speaker id and name required", core.ErrInputMalformed)
	}
	s := r.settings.Current()
	if err := r.repo.EnsureSpeaker(ctx, core.Speaker{ID: id, IsOwner: s.IsOwner(id), LastSeen: r.now()}); err != nil {
		return err
	}
	if err := r.repo.SetDisplayName(ctx, id, name); err != nil {
		return err
	}
	log.FromCtx(ctx).Info().Str("speaker_id", id).Str("name", name).Msg("speaker taught")
	return nil
}

// Find looks a speaker up by id or display name, both case-insensitively.
func (r *Registry) Find(ctx context.Context, ref string) (core.Speaker, error) {
	ref = strings.TrimSpace(ref)
	list, err := r.repo.ListSpeakers(ctx)
	if err != nil {
		return core.Speaker{}, err
	}
	for _, sp := range list {
		if strings.EqualFold(sp.ID, ref) {
			return sp, nil
		}
	}
	for _, sp := range list {
		if sp.DisplayName != "" && strings.EqualFold(sp.DisplayName, ref) {
			return sp, nil
		}
	}
	return core.Speaker{}, fmt.Errorf("speaker %q: %w", ref, core.ErrNotFound)
}

// Approve marks the speaker named ref as allowed to issue commands.
func (r *Registry) Approve(ctx context.Context, ref string) (core.Speaker, error) {
	sp, err := r.Find(ctx, ref)
	if err != nil {
		return core.Speaker{}, err
	}
	if err := r.repo.SetApproved(ctx, sp.ID, true); err != nil {
		return core.Speaker{}, err
	}
	sp.Approved = true
	log.FromCtx(ctx).Info().Str("speaker_id", sp.ID).Msg("speaker approved")
	return sp, nil
}

// Labels maps ids to display names, falling back to the id.
func (r *Registry) Labels(ctx context.Context, ids []string) []string {
	out := make([]string, 0, len(ids))
	known := make(map[string]string)
	if list, err := r.repo.ListSpeakers(ctx); err == nil {
		for _, sp := range list {
			known[sp.ID] = sp.Label()
		}
	} else {
		log.FromCtx(ctx).Warn().Err(err).Msg("speaker labels unavailable")
	}
	for _, id := range ids {
		if l, ok := known[id]; ok {
			out = append(out, l)
		} else {
			out = append(out, id)
		}
	}
	return out
}

// Authorize is the command gate. With approval required, only owners and
// approved speakers pass. Store errors deny.
func (r *Registry) Authorize(ctx context.Context, speakerID string) bool {
	s := r.settings.Current()
	if !s.Auth.RequireApprovedSpeaker || s.IsOwner(speakerID) {
		return true
	}
	sp, err := r.repo.GetSpeaker(ctx, speakerID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.FromCtx(ctx).Warn().Err(err).Str("speaker_id", speakerID).Msg("authorization lookup failed")
		}
		return false
	}
	return sp.Approved || sp.IsOwner
}
