package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/machlab/pricewatch/internal/models"
)

// SQLitePriceHistoryRepository implements PriceHistoryRepository for SQLite.
type SQLitePriceHistoryRepository struct {
	db *sql.DB
}

// NewSQLitePriceHistoryRepository creates a new SQLite price history repository.
func NewSQLitePriceHistoryRepository(db *sql.DB) *SQLitePriceHistoryRepository {
	return &SQLitePriceHistoryRepository{db: db}
}

const historyColumns = `id, machine_id, price, currency, previous_price, tier_used,
	selector_or_path, confidence, validation_status, failure_reason, batch_id,
	requires_approval, llm_cost_usd, llm_tokens_input, llm_tokens_output,
	approved_at, rejected_at, created_at`

func (r *SQLitePriceHistoryRepository) Append(ctx context.Context, row *models.PriceHistory) error {
	query := `
		INSERT INTO price_history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var batchID any
	if row.BatchID != nil {
		batchID = *row.BatchID
	}
	_, err := r.db.ExecContext(ctx, query,
		row.ID,
		row.MachineID,
		row.Price,
		row.Currency,
		row.PreviousPrice,
		row.Tier,
		nullString(row.Selector),
		row.Confidence,
		row.ValidationStatus,
		nullString(row.FailureReason),
		batchID,
		row.RequiresApproval,
		row.LLMCostUSD,
		row.LLMTokensInput,
		row.LLMTokensOutput,
		nullTime(row.ApprovedAt),
		nullTime(row.RejectedAt),
		row.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append price history: %w", err)
	}
	return nil
}

func (r *SQLitePriceHistoryRepository) GetByID(ctx context.Context, id string) (*models.PriceHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM price_history WHERE id = ?`
	row, err := scanHistory(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	return row, nil
}

func (r *SQLitePriceHistoryRepository) GetByMachineID(ctx context.Context, machineID string, limit, offset int) ([]*models.PriceHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM price_history
		WHERE machine_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, machineID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

func (r *SQLitePriceHistoryRepository) ListPendingApproval(ctx context.Context, limit, offset int) ([]*models.PriceHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM price_history
		WHERE requires_approval = 1 AND approved_at IS NULL AND rejected_at IS NULL
		ORDER BY created_at ASC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

func (r *SQLitePriceHistoryRepository) SetApprovalDecision(ctx context.Context, id string, approve bool, at time.Time) error {
	column := "rejected_at"
	if approve {
		column = "approved_at"
	}
	// Only rows still awaiting a decision can be decided.
	query := `UPDATE price_history SET requires_approval = 0, ` + column + ` = ?
		WHERE id = ? AND requires_approval = 1 AND approved_at IS NULL AND rejected_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, at.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to set approval decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("price history row %s not found or already decided", id)
	}
	return nil
}

func (r *SQLitePriceHistoryRepository) Summary(ctx context.Context, since time.Time) (*HistorySummary, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN price IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN requires_approval = 1 AND approved_at IS NULL AND rejected_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(llm_cost_usd), 0),
			COALESCE(SUM(llm_tokens_input), 0),
			COALESCE(SUM(llm_tokens_output), 0)
		FROM price_history WHERE created_at >= ?
	`
	var s HistorySummary
	err := r.db.QueryRowContext(ctx, query, since.Format(time.RFC3339Nano)).Scan(
		&s.TotalAttempts,
		&s.PricesExtracted,
		&s.PendingApproval,
		&s.LLMCostUSD,
		&s.LLMTokensInput,
		&s.LLMTokensOutput,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get history summary: %w", err)
	}
	return &s, nil
}

func collectHistory(rows *sql.Rows) ([]*models.PriceHistory, error) {
	var out []*models.PriceHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHistory(row scannable) (*models.PriceHistory, error) {
	var h models.PriceHistory
	var price, previousPrice sql.NullFloat64
	var selector, failureReason, batchID, approvedAt, rejectedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&h.ID,
		&h.MachineID,
		&price,
		&h.Currency,
		&previousPrice,
		&h.Tier,
		&selector,
		&h.Confidence,
		&h.ValidationStatus,
		&failureReason,
		&batchID,
		&h.RequiresApproval,
		&h.LLMCostUSD,
		&h.LLMTokensInput,
		&h.LLMTokensOutput,
		&approvedAt,
		&rejectedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if price.Valid {
		h.Price = &price.Float64
	}
	if previousPrice.Valid {
		h.PreviousPrice = &previousPrice.Float64
	}
	h.Selector = selector.String
	h.FailureReason = failureReason.String
	if batchID.Valid {
		h.BatchID = &batchID.String
	}
	if approvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, approvedAt.String)
		h.ApprovedAt = &t
	}
	if rejectedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, rejectedAt.String)
		h.RejectedAt = &t
	}
	h.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return &h, nil
}
