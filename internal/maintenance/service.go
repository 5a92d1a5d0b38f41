// Package maintenance runs periodic housekeeping: expiring sessions that
// have been idle longer than the configured timeout.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes sessions last updated before cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Service prunes idle sessions on a cron schedule.
type Service struct {
	cron    *cron.Cron
	pruner  Pruner
	timeout time.Duration
	now     func() time.Time
	ctx     context.Context
}

// NewService schedules pruning of sessions idle longer than timeout.
// schedule accepts standard cron expressions (seconds optional) and
// descriptors such as "@every 5m".
func NewService(p Pruner, timeout time.Duration, schedule string) (*Service, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("session timeout must be positive, got %s", timeout)
	}
	s := &Service{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(
				cron.SkipIfStillRunning(cron.DiscardLogger),
				cron.Recover(cron.DefaultLogger),
			),
		),
		pruner:  p,
		timeout: timeout,
		now:     time.Now,
		ctx:     context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("parse prune schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled. A job in
// progress is allowed to finish.
func (s *Service) Run(ctx context.Context) {
	s.ctx = ctx
	slog.Info("Session pruning started", "timeout", s.timeout)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("Session pruning stopped")
}

// PruneNow deletes sessions idle longer than the timeout.
func (s *Service) PruneNow(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.timeout)
	n, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

func (s *Service) tick() {
	n, err := s.PruneNow(s.ctx)
	if err != nil {
		slog.Error("Session pruning failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned idle sessions", "count", n)
	}
}
