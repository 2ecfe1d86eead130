package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/catena/internal/common"
	"github.com/ternarybob/catena/internal/jobs"
)

// Service drives the stuck-job watcher on a cron schedule. Overlapping
// sweeps are skipped rather than queued; the sweep is idempotent, so a
// missed tick costs nothing.
type Service struct {
	watcher  *jobs.Watcher
	config   *common.WatcherConfig
	cron     *cron.Cron
	logger   arbor.ILogger
	mu       sync.Mutex
	sweeping bool
	running  bool
}

func NewService(logger arbor.ILogger, watcher *jobs.Watcher, cfg *common.WatcherConfig) *Service {
	return &Service{
		watcher: watcher,
		config:  cfg,
		cron:    cron.New(),
		logger:  logger.WithPrefix("scheduler"),
	}
}

// Start registers the sweep and begins the cron loop
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Watcher disabled, sweeps will not run")
		return nil
	}
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to register sweep schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Msg("Stuck-job sweep scheduled")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish
func (s *Service) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) runSweep() {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.logger.Debug().Msg("Previous sweep still running, skipping tick")
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	result, err := s.watcher.Sweep(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep failed")
		return
	}
	s.logger.Debug().
		Int("chunks_restarted", result.ChunksRestarted).
		Int("tasks_restarted", result.TasksRestarted).
		Int("records_repaired", result.RecordsRepaired).
		Int("jobs_failed", result.JobsFailed).
		Msg("Sweep completed")
}
