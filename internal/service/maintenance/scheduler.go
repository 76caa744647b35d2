package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/service/graph"
	"github.com/sandevgo/percept/pkg/log"
)

type Decayer interface {
	Decay(ctx context.Context, now time.Time) (graph.DecayResult, error)
}

type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the relationship decay sweep and the retention purge on
// their cron schedules.
type Scheduler struct {
	settings config.Provider
	decayer  Decayer
	purger   Purger
	now      func() time.Time
	cron     *cron.Cron
}

func New(settings config.Provider, decayer Decayer, purger Purger) *Scheduler {
	return &Scheduler{
		settings: settings,
		decayer:  decayer,
		purger:   purger,
		now:      time.Now,
	}
}

// RunDecay runs one decay sweep now.
func (s *Scheduler) RunDecay(ctx context.Context) (graph.DecayResult, error) {
	return s.decayer.Decay(ctx, s.now())
}

// RunPurge deletes conversations past the retention window. Zero days keeps everything.
func (s *Scheduler) RunPurge(ctx context.Context) (int64, error) {
	days := s.settings.Current().Retention.Days
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	log.FromCtx(ctx).Info().Int64("conversations", n).Time("cutoff", cutoff).Msg("retention purge done")
	return n, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "maintenance")
	logger := log.FromCtx(ctx)
	cfg := s.settings.Current()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(cfg.Graph.DecaySchedule, func() {
		if _, err := s.RunDecay(ctx); err != nil {
			logger.Error().Err(err).Msg("decay sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule decay %q: %w", cfg.Graph.DecaySchedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.Retention.Schedule, func() {
		if _, err := s.RunPurge(ctx); err != nil {
			logger.Error().Err(err).Msg("retention purge failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule purge %q: %w", cfg.Retention.Schedule, err)
	}

	logger.Info().
		Str("decay", cfg.Graph.DecaySchedule).
		Str("retention", cfg.Retention.Schedule).
		Msg("maintenance scheduled")
	s.cron.Start()

	<-ctx.Done()
	return nil
}

// Shutdown stops the scheduler and waits for a running job.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
