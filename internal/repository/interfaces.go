// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/machlab/pricewatch/internal/models"
)

// MachineRepository defines methods for machine data access.
// Non-price fields are externally owned; this system only mutates price,
// learned selectors, and their timestamps.
type MachineRepository interface {
	Create(ctx context.Context, m *models.Machine) error
	GetByID(ctx context.Context, id string) (*models.Machine, error)
	List(ctx context.Context, limit, offset int) ([]*models.Machine, error)
	Count(ctx context.Context) (int, error)
	// UpdatePrice writes the accepted current price in place.
	UpdatePrice(ctx context.Context, id string, price float64, at time.Time) error
	// UpdateLearnedSelectors replaces the machine's learned-selector blob.
	// The write is atomic at the row level.
	UpdateLearnedSelectors(ctx context.Context, id string, selectors map[string]models.LearnedSelector) error
}

// PriceHistoryRepository defines methods for the append-only price history.
type PriceHistoryRepository interface {
	// Append inserts a new row. There is no update or delete path besides
	// the approval decision, which only flips approval fields.
	Append(ctx context.Context, row *models.PriceHistory) error
	GetByID(ctx context.Context, id string) (*models.PriceHistory, error)
	GetByMachineID(ctx context.Context, machineID string, limit, offset int) ([]*models.PriceHistory, error)
	// ListPendingApproval returns rows awaiting an approval decision.
	ListPendingApproval(ctx context.Context, limit, offset int) ([]*models.PriceHistory, error)
	// SetApprovalDecision clears requires_approval and stamps the decision.
	SetApprovalDecision(ctx context.Context, id string, approve bool, at time.Time) error
	// Summary aggregates history rows for the stats endpoint.
	Summary(ctx context.Context, since time.Time) (*HistorySummary, error)
}

// HistorySummary represents aggregated extraction outcomes.
type HistorySummary struct {
	TotalAttempts   int     `json:"total_attempts"`
	PricesExtracted int     `json:"prices_extracted"`
	PendingApproval int     `json:"pending_approval"`
	LLMCostUSD      float64 `json:"llm_cost_usd"`
	LLMTokensInput  int     `json:"llm_tokens_input"`
	LLMTokensOutput int     `json:"llm_tokens_output"`
}

// BatchRepository defines methods for batch data access.
type BatchRepository interface {
	Create(ctx context.Context, b *models.Batch) error
	GetByID(ctx context.Context, id string) (*models.Batch, error)
	Update(ctx context.Context, b *models.Batch) error
	// ClaimPending atomically claims the oldest pending batch and returns it,
	// or nil when none are pending.
	ClaimPending(ctx context.Context) (*models.Batch, error)
	// MarkStaleRunningFailed marks batches running longer than maxAge as failed.
	// Returns the number of batches updated.
	MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Repositories bundles all repository implementations.
type Repositories struct {
	Machine      MachineRepository
	PriceHistory PriceHistoryRepository
	Batch        BatchRepository
}

// NewRepositories creates all repositories using the given database.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Machine:      NewSQLiteMachineRepository(db),
		PriceHistory: NewSQLitePriceHistoryRepository(db),
		Batch:        NewSQLiteBatchRepository(db),
	}
}
