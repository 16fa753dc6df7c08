// Package shutdown coordinates graceful shutdown of the Aegis server.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the server is running normally.
	StateRunning State = "running"
	// StateDraining indicates components are being stopped.
	StateDraining State = "draining"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// StopFunc stops one component. It should return once the component is idle
// or ctx is done.
type StopFunc func(ctx context.Context) error

// Status represents the current shutdown status.
type Status struct {
	State            State      `json:"state"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	Components       int        `json:"components"`
	Stopped          int        `json:"stopped"`
	AcceptingNewJobs bool       `json:"accepting_new_jobs"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout is the maximum time to wait for all components.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

type component struct {
	name string
	stop StopFunc
}

// Manager stops registered components in reverse registration order, so the
// HTTP server registered last is drained before the workers it feeds.
type Manager struct {
	config        Config
	logger        zerolog.Logger
	mu            sync.RWMutex
	components    []component
	state         State
	startedAt     *time.Time
	stopped       int32
	acceptingJobs atomic.Bool
	doneCh        chan struct{}
	shutdownOnce  sync.Once
	shutdownErr   error
}

// NewManager creates a new shutdown manager.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	m := &Manager{
		config: config,
		logger: logger.With().Str("component", "shutdown_manager").Logger(),
		state:  StateRunning,
		doneCh: make(chan struct{}),
	}
	m.acceptingJobs.Store(true)
	return m
}

// Register adds a component. Registering after shutdown started is ignored.
func (m *Manager) Register(name string, stop StopFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		m.logger.Warn().Str("name", name).Msg("ignoring registration during shutdown")
		return
	}
	m.components = append(m.components, component{name: name, stop: stop})
}

// RegisterWorker adapts the Stop() context.Context convention of the
// background workers.
func (m *Manager) RegisterWorker(name string, stop func() context.Context) {
	m.Register(name, func(ctx context.Context) error {
		done := stop()
		select {
		case <-done.Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	})
}

// IsAcceptingJobs returns false once shutdown has started.
func (m *Manager) IsAcceptingJobs() bool {
	return m.acceptingJobs.Load()
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:            m.state,
		StartedAt:        m.startedAt,
		Components:       len(m.components),
		Stopped:          int(atomic.LoadInt32(&m.stopped)),
		AcceptingNewJobs: m.acceptingJobs.Load(),
	}
}

// Shutdown stops every component and blocks until they return or the timeout
// elapses. Only the first call does work; later calls return its result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.doShutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) doShutdown(ctx context.Context) error {
	now := time.Now()
	m.mu.Lock()
	m.startedAt = &now
	m.state = StateDraining
	components := append([]component(nil), m.components...)
	m.mu.Unlock()

	m.acceptingJobs.Store(false)
	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Int("components", len(components)).
		Msg("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		start := time.Now()
		if err := c.stop(ctx); err != nil {
			m.logger.Error().Err(err).Str("name", c.name).Msg("component did not stop cleanly")
			errs = append(errs, err)
			continue
		}
		atomic.AddInt32(&m.stopped, 1)
		m.logger.Info().Str("name", c.name).Dur("duration", time.Since(start)).Msg("component stopped")
	}

	m.mu.Lock()
	m.state = StateComplete
	m.mu.Unlock()
	close(m.doneCh)

	m.logger.Info().
		Dur("duration", time.Since(now)).
		Int("failed", len(errs)).
		Msg("graceful shutdown complete")
	return errors.Join(errs...)
}

// Done is closed once shutdown has completed.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}
