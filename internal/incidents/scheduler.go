package incidents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultDetectionInterval is used when DETECTION_INTERVAL is not set.
const DefaultDetectionInterval = 5 * time.Minute

// Scheduler runs detection for all tenants on a fixed interval.
type Scheduler struct {
	detector *Detector
	interval time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
	// busy keeps a slow pass from overlapping the next tick.
	busy sync.Mutex
}

// NewScheduler creates a detection Scheduler.
func NewScheduler(detector *Detector, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultDetectionInterval
	}
	return &Scheduler{
		detector: detector,
		interval: interval,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "detection_scheduler").Logger(),
	}
}

// Start begins periodic detection.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("detection scheduler already running")
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("schedule detection: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Dur("interval", s.interval).Msg("incident detection scheduler started")
	return nil
}

// Stop stops the scheduler. The returned context is done when a running pass finishes.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.logger.Info().Msg("incident detection scheduler stopped")
	return s.cron.Stop()
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.TryLock() {
		s.logger.Warn().Msg("previous detection pass still running, skipping tick")
		return
	}
	defer s.busy.Unlock()

	start := time.Now()
	res, err := s.detector.DetectAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("detection pass failed")
		return
	}
	s.logger.Debug().
		Int("created", res.Created).
		Int("failed", res.Failed).
		Dur("duration", time.Since(start)).
		Msg("detection pass finished")
}
