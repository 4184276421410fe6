package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/common"
)

// PassFunc runs one discovery-and-pipeline pass.
type PassFunc func(ctx context.Context) error

// Service runs the pass on a cron schedule for watch mode. Overlapping
// firings are collapsed: a tick arriving while a pass is still running is
// skipped rather than queued.
type Service struct {
	logger       arbor.ILogger
	cron         *cron.Cron
	schedule     string
	autoStart    bool
	pass         PassFunc
	mu           sync.Mutex // protects isProcessing
	isProcessing bool
	running      bool
}

// NewService creates a scheduler driving pass on the configured schedule.
func NewService(logger arbor.ILogger, config *common.Config, pass PassFunc) *Service {
	return &Service{
		logger:    logger,
		cron:      cron.New(),
		schedule:  config.Scheduler.BrokerSchedule,
		autoStart: config.Scheduler.AutoStart,
		pass:      pass,
	}
}

// Start begins scheduled execution. When auto-start is configured a first
// pass runs immediately rather than waiting for the first tick.
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	schedule := s.schedule
	if schedule == "" {
		schedule = "@every 15m"
	}

	if _, err := s.cron.AddFunc(schedule, s.runScheduledPass); err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", schedule).Msg("Scheduler started")

	if s.autoStart {
		s.logger.Info().Msg("Executing auto-start pass")
		common.SafeGo(s.logger, "auto-start pass", s.runScheduledPass)
	}

	return nil
}

// Stop halts the scheduler, waiting for any in-flight pass started by cron
// to finish.
func (s *Service) Stop() {
	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning returns true while the scheduler is active.
func (s *Service) IsRunning() bool {
	return s.running
}

// runScheduledPass executes one pass with overlap protection and panic
// recovery, so a fault in one pass cannot take the daemon down.
func (s *Service) runScheduledPass() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in scheduled pass")
		}
	}()

	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		s.logger.Debug().Msg("Previous pass still running; skipping this tick")
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := s.pass(context.Background()); err != nil {
		s.logger.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Scheduled pass failed")
		return
	}

	s.logger.Info().
		Dur("duration", time.Since(start)).
		Msg("Scheduled pass completed")
}
