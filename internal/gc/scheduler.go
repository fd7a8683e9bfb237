package gc

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger feeds cron's internal messages into zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

// Scheduler runs the collector on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

func NewScheduler(ctx context.Context, c *Collector, schedule string, log *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{s: log.Sugar()}
	cr := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := cr.AddFunc(schedule, func() {
		if _, err := c.Sweep(ctx); err != nil {
			log.Error("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("gc schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: cr, log: log}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("gc scheduler started")
}

// Stop prevents new runs and waits for a running sweep, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("gc scheduler stop timed out")
	}
}
