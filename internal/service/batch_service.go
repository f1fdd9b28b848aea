package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/repository"
	"github.com/machlab/pricewatch/internal/siterules"
)

// BatchService runs extraction over a set of machines with a bounded
// worker pool, per-domain concurrency caps, and per-domain politeness
// intervals.
type BatchService struct {
	repos      *repository.Repositories
	extraction *ExtractionService
	logger     *slog.Logger

	workers           int
	perDomain         int64
	perDomainInterval time.Duration

	mu       sync.Mutex
	domSems  map[string]*semaphore.Weighted
	domRates map[string]*rate.Limiter
}

func NewBatchService(repos *repository.Repositories, extraction *ExtractionService, workers int, perDomain int, perDomainInterval time.Duration, logger *slog.Logger) *BatchService {
	if workers <= 0 {
		workers = 5
	}
	if perDomain <= 0 {
		perDomain = 2
	}
	if perDomainInterval <= 0 {
		perDomainInterval = 3 * time.Second
	}
	return &BatchService{
		repos:             repos,
		extraction:        extraction,
		logger:            logger.With("component", "batch"),
		workers:           workers,
		perDomain:         int64(perDomain),
		perDomainInterval: perDomainInterval,
		domSems:           make(map[string]*semaphore.Weighted),
		domRates:          make(map[string]*rate.Limiter),
	}
}

// Create persists a new pending batch for the given machines. The batch
// worker picks it up and runs it.
func (s *BatchService) Create(ctx context.Context, machineIDs []string, debug bool) (*models.Batch, error) {
	if len(machineIDs) == 0 {
		return nil, fmt.Errorf("batch needs at least one machine id")
	}
	now := time.Now().UTC()
	batch := &models.Batch{
		ID:         "batch_" + ulid.Make().String(),
		Status:     models.BatchStatusPending,
		MachineIDs: machineIDs,
		Debug:      debug,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repos.Batch.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}
	s.logger.Info("batch created", "batch_id", batch.ID, "machines", len(machineIDs))
	return batch, nil
}

// Get returns a snapshot of the batch record.
func (s *BatchService) Get(ctx context.Context, batchID string) (*models.Batch, error) {
	return s.repos.Batch.GetByID(ctx, batchID)
}

// Run executes a claimed batch to completion. Single-machine failures are
// recorded and never abort the batch; only a store failure while starting
// marks the batch itself FAILED.
func (s *BatchService) Run(ctx context.Context, batch *models.Batch) error {
	started := time.Now().UTC()
	batch.Status = models.BatchStatusRunning
	batch.StartedAt = &started
	batch.UpdatedAt = started
	if err := s.repos.Batch.Update(ctx, batch); err != nil {
		return fmt.Errorf("marking batch %s running: %w", batch.ID, err)
	}

	s.logger.Info("batch started", "batch_id", batch.ID, "machines", len(batch.MachineIDs), "workers", s.workers)

	// progress guards the shared counters and result list; workers also
	// flush a snapshot through it so status queries see fresh counts.
	var progress sync.Mutex
	jobs := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for machineID := range jobs {
				result := s.runOne(ctx, batch.ID, machineID)

				progress.Lock()
				if result.Success {
					batch.SuccessCount++
				} else {
					batch.FailureCount++
				}
				// Per-machine results are the debug payload; counts and the
				// history rows carry the durable record either way.
				if batch.Debug {
					batch.Results = append(batch.Results, result.BatchResult)
				}
				batch.LLMCostUSD += result.llmCost
				batch.LLMTokensInput += result.llmTokensIn
				batch.LLMTokensOutput += result.llmTokensOut
				batch.UpdatedAt = time.Now().UTC()
				snapshot := *batch
				progress.Unlock()

				if err := s.repos.Batch.Update(ctx, &snapshot); err != nil {
					s.logger.Warn("batch progress write failed", "batch_id", batch.ID, "error", err)
				}
			}
		}()
	}

	for _, id := range batch.MachineIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	completed := time.Now().UTC()
	progress.Lock()
	batch.Status = models.BatchStatusCompleted
	batch.CompletedAt = &completed
	batch.UpdatedAt = completed
	final := *batch
	progress.Unlock()

	if err := s.repos.Batch.Update(ctx, &final); err != nil {
		return fmt.Errorf("completing batch %s: %w", batch.ID, err)
	}
	s.logger.Info("batch completed",
		"batch_id", batch.ID,
		"success", final.SuccessCount,
		"failure", final.FailureCount,
		"llm_cost_usd", final.LLMCostUSD,
		"duration", completed.Sub(started))
	return nil
}

type batchResult struct {
	models.BatchResult
	llmCost      float64
	llmTokensIn  int
	llmTokensOut int
}

// runOne extracts a single machine under the domain politeness gates.
func (s *BatchService) runOne(ctx context.Context, batchID, machineID string) batchResult {
	start := time.Now()

	machine, err := s.repos.Machine.GetByID(ctx, machineID)
	if err != nil || machine == nil {
		reason := "machine not found"
		if err != nil {
			reason = err.Error()
		}
		return batchResult{BatchResult: models.BatchResult{
			MachineID:  machineID,
			Success:    false,
			Error:      reason,
			DurationMs: int(time.Since(start).Milliseconds()),
		}}
	}

	domain, err := siterules.Domain(machine.ProductURL)
	if err != nil {
		domain = machine.ProductURL
	}

	if err := s.acquireDomain(ctx, domain); err != nil {
		return batchResult{BatchResult: models.BatchResult{
			MachineID:  machineID,
			Success:    false,
			Error:      "cancelled waiting for domain slot: " + err.Error(),
			DurationMs: int(time.Since(start).Milliseconds()),
		}}
	}
	defer s.releaseDomain(domain)

	outcome, err := s.extraction.Extract(ctx, machine, batchID)
	if err != nil {
		return batchResult{BatchResult: models.BatchResult{
			MachineID:  machineID,
			Success:    false,
			Error:      err.Error(),
			DurationMs: int(time.Since(start).Milliseconds()),
		}}
	}

	res := batchResult{BatchResult: models.BatchResult{
		MachineID:        machineID,
		Success:          outcome.Success,
		Tier:             outcome.Tier,
		ValidationStatus: outcome.ValidationStatus,
		RequiresApproval: outcome.RequiresApproval,
		DurationMs:       int(time.Since(start).Milliseconds()),
	}}
	if outcome.Success {
		res.Price = outcome.Price
	} else {
		res.Error = outcome.Reason
	}
	if outcome.History != nil {
		res.llmCost = outcome.History.LLMCostUSD
		res.llmTokensIn = outcome.History.LLMTokensInput
		res.llmTokensOut = outcome.History.LLMTokensOutput
	}
	return res
}

// acquireDomain takes a per-domain concurrency slot and then waits out the
// politeness interval for that domain.
func (s *BatchService) acquireDomain(ctx context.Context, domain string) error {
	sem, limiter := s.domainGates(domain)
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := limiter.Wait(ctx); err != nil {
		sem.Release(1)
		return err
	}
	return nil
}

func (s *BatchService) releaseDomain(domain string) {
	sem, _ := s.domainGates(domain)
	sem.Release(1)
}

func (s *BatchService) domainGates(domain string) (*semaphore.Weighted, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.domSems[domain]
	if !ok {
		sem = semaphore.NewWeighted(s.perDomain)
		s.domSems[domain] = sem
	}
	limiter, ok := s.domRates[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.perDomainInterval), 1)
		s.domRates[domain] = limiter
	}
	return sem, limiter
}
