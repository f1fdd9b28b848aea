// Package worker runs pending batches in the background.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/machlab/pricewatch/internal/repository"
	"github.com/machlab/pricewatch/internal/service"
)

// Worker polls for pending batches and runs them.
type Worker struct {
	batchRepo    repository.BatchRepository
	batchSvc     *service.BatchService
	pollInterval time.Duration
	concurrency  int
	stop         chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	// Concurrency is how many batches may run at once. The batch itself
	// fans out over its own worker pool, so one is usually enough.
	Concurrency int
}

// New creates a new worker.
func New(batchRepo repository.BatchRepository, batchSvc *service.BatchService, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		batchRepo:    batchRepo,
		batchSvc:     batchSvc,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins polling for batches.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops the worker, waiting for in-flight batches.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processNextBatch(ctx, workerID)
		}
	}
}

func (w *Worker) processNextBatch(ctx context.Context, workerID int) {
	batch, err := w.batchRepo.ClaimPending(ctx)
	if err != nil {
		w.logger.Error("failed to claim batch", "worker_id", workerID, "error", err)
		return
	}
	if batch == nil {
		return
	}

	w.logger.Info("running batch", "worker_id", workerID, "batch_id", batch.ID, "machines", len(batch.MachineIDs))

	if err := w.batchSvc.Run(ctx, batch); err != nil {
		w.logger.Error("batch run failed", "batch_id", batch.ID, "error", err)
	}
}
