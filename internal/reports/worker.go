package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/aegis/internal/apperr"
	"github.com/MacJediWizard/aegis/internal/events"
	"github.com/MacJediWizard/aegis/internal/models"
	"github.com/MacJediWizard/aegis/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// BatchStore is the persistence the batch worker needs.
type BatchStore interface {
	Store
	ClaimPendingReportExports(ctx context.Context, limit int, staleAfter time.Duration) ([]*models.ReportExport, error)
	FinishReportExport(ctx context.Context, e *models.ReportExport) error
}

// WorkerConfig holds configuration for the batch worker.
type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	// ClaimTimeout is how long an export may stay processing before another
	// worker assumes its owner died and claims it again.
	ClaimTimeout time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Interval:     time.Minute,
		BatchSize:    5,
		ClaimTimeout: 30 * time.Minute,
	}
}

// BatchWorker renders queued exports into the artifact store.
type BatchWorker struct {
	store     BatchStore
	artifacts storage.ArtifactStore
	publisher events.Publisher
	config    WorkerConfig
	cron      *cron.Cron
	logger    zerolog.Logger
	mu        sync.Mutex
	busy      sync.Mutex
	running   bool
}

// NewBatchWorker creates a BatchWorker.
func NewBatchWorker(store BatchStore, artifacts storage.ArtifactStore, publisher events.Publisher, config WorkerConfig, logger zerolog.Logger) *BatchWorker {
	if config.Interval <= 0 {
		config.Interval = DefaultWorkerConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWorkerConfig().BatchSize
	}
	if config.ClaimTimeout <= 0 {
		config.ClaimTimeout = DefaultWorkerConfig().ClaimTimeout
	}
	return &BatchWorker{
		store:     store,
		artifacts: artifacts,
		publisher: publisher,
		config:    config,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "export_worker").Logger(),
	}
}

// Start polls for pending exports on the configured interval.
func (w *BatchWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("export worker already running")
	}

	spec := fmt.Sprintf("@every %s", w.config.Interval)
	if _, err := w.cron.AddFunc(spec, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error().Err(err).Msg("export batch failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule export worker: %w", err)
	}

	w.cron.Start()
	w.running = true
	w.logger.Info().Dur("interval", w.config.Interval).Msg("export worker started")
	return nil
}

// Stop stops the worker. The returned context is done once a running batch finishes.
func (w *BatchWorker) Stop() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	w.running = false
	w.logger.Info().Msg("stopping export worker")
	return w.cron.Stop()
}

// RunOnce claims and renders one batch of pending exports. A failing export is
// marked failed and does not stop the others. It returns the number claimed.
func (w *BatchWorker) RunOnce(ctx context.Context) (int, error) {
	if !w.busy.TryLock() {
		w.logger.Debug().Msg("previous export batch still running")
		return 0, nil
	}
	defer w.busy.Unlock()

	claimed, err := w.store.ClaimPendingReportExports(ctx, w.config.BatchSize, w.config.ClaimTimeout)
	if err != nil {
		return 0, fmt.Errorf("claim exports: %w", err)
	}

	for _, batch := range claimed {
		w.process(ctx, batch)
	}
	return len(claimed), nil
}

func (w *BatchWorker) process(ctx context.Context, batch *models.ReportExport) {
	logger := w.logger.With().
		Str("batch_id", batch.ID.String()).
		Str("tenant_id", batch.TenantID.String()).
		Str("report_type", string(batch.ReportType)).
		Logger()

	start := time.Now()
	key, rows, err := w.render(ctx, batch)
	if err != nil {
		logger.Error().Err(err).Msg("export failed")
		batch.MarkFailed(err.Error())
	} else {
		batch.MarkCompleted(key)
	}

	if err := w.store.FinishReportExport(ctx, batch); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			logger.Warn().Err(err).Msg("export result discarded")
			return
		}
		logger.Error().Err(err).Msg("failed to record export result")
		return
	}
	if batch.Status != models.ExportStatusCompleted {
		return
	}

	logger.Info().
		Int64("rows", rows).
		Dur("duration", time.Since(start)).
		Msg("export completed")

	if w.publisher != nil {
		payload := map[string]any{
			"batch_id":    batch.ID,
			"report_type": batch.ReportType,
			"format":      batch.Format,
			"rows":        rows,
		}
		if err := w.publisher.Publish(ctx, batch.TenantID, events.ExportCompleted, payload); err != nil {
			logger.Warn().Err(err).Msg("failed to publish export event")
		}
	}
}

func (w *BatchWorker) render(ctx context.Context, batch *models.ReportExport) (string, int64, error) {
	src, ok := Source(batch.ReportType)
	if !ok {
		return "", 0, fmt.Errorf("unknown report type %q", batch.ReportType)
	}

	var buf bytes.Buffer
	rows, err := Render(ctx, &buf, batch.Format, src, pager(w.store, batch.TenantID, src, batch.Filters))
	if err != nil {
		return "", rows, fmt.Errorf("render: %w", err)
	}

	key := storage.ExportKey(batch.TenantID, batch.ID, string(batch.Format))
	if err := w.artifacts.Put(ctx, key, buf.Bytes(), ContentType(batch.Format)); err != nil {
		return "", rows, fmt.Errorf("store artifact: %w", err)
	}
	return key, rows, nil
}
