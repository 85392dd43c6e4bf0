// Package jobs runs the gateway's background maintenance: removing expired
// cache entries and dropping old usage counters.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/cache"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/pkg/logging/logging"
)

const jobTimeout = time.Minute

type Config struct {
	// SweepInterval schedules the cache sweep; 0 disables it.
	SweepInterval time.Duration
	// UsageRetentionDays keeps this many past days of usage; 0 disables pruning.
	UsageRetentionDays int
	// PruneInterval defaults to once a day.
	PruneInterval time.Duration
}

type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// New registers a job for every target that is non-nil and enabled in cfg.
func New(cfg Config, sweeper cache.Sweeper, pruner quota.UsagePruner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("jobs")

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("jobs: create scheduler: %w", err)
	}
	sch := &Scheduler{scheduler: s, logger: logger}

	if sweeper != nil && cfg.SweepInterval > 0 {
		if err := sch.add("cache_sweep", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := SweepCache(ctx, sweeper)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if pruner != nil && cfg.UsageRetentionDays > 0 {
		every := cfg.PruneInterval
		if every <= 0 {
			every = 24 * time.Hour
		}
		if err := sch.add("usage_prune", every, func(ctx context.Context) error {
			_, err := PruneUsage(ctx, pruner, time.Now(), cfg.UsageRetentionDays)
			return err
		}); err != nil {
			return nil, err
		}
	}

	return sch, nil
}

func (s *Scheduler) add(name string, every time.Duration, fn func(context.Context) error) error {
	logger := s.logger.With(zap.String("job", name))

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			ctx = logging.WithLogger(ctx, logger)

			start := time.Now()
			if err := fn(ctx); err != nil {
				logger.Warn("job failed", zap.Error(err))
				return
			}
			logger.Debug("job finished", zap.Duration("duration", time.Since(start)))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("jobs: register %s: %w", name, err)
	}
	logger.Info("job registered", zap.Duration("every", every))
	return nil
}

func (s *Scheduler) Start() { s.scheduler.Start() }

// Shutdown waits for running jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// SweepCache removes expired cache entries.
func SweepCache(ctx context.Context, s cache.Sweeper) (int, error) {
	n, err := s.Sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs: sweep cache: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).Info("expired cache entries removed", zap.Int("removed", n))
	}
	return n, nil
}

// PruneUsage drops usage counters older than retentionDays before now's UTC
// day. Today's counter is never touched.
func PruneUsage(ctx context.Context, p quota.UsagePruner, now time.Time, retentionDays int) (int, error) {
	if retentionDays < 1 {
		retentionDays = 1
	}
	cutoff := quota.DayBucket(now.AddDate(0, 0, -retentionDays))
	n, err := p.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("jobs: prune usage before %s: %w", cutoff, err)
	}
	if n > 0 {
		logging.FromContext(ctx).Info("old usage counters removed",
			zap.Int("removed", n),
			zap.String("before", cutoff),
		)
	}
	return n, nil
}
