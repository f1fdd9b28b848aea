package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/machlab/pricewatch/internal/models"
)

// SQLiteBatchRepository implements BatchRepository for SQLite.
type SQLiteBatchRepository struct {
	db *sql.DB
}

// NewSQLiteBatchRepository creates a new SQLite batch repository.
func NewSQLiteBatchRepository(db *sql.DB) *SQLiteBatchRepository {
	return &SQLiteBatchRepository{db: db}
}

const batchColumns = `id, status, machine_ids_json, success_count, failure_count,
	results_json, debug, llm_cost_usd, llm_tokens_input, llm_tokens_output,
	error_message, started_at, completed_at, created_at, updated_at`

func (r *SQLiteBatchRepository) Create(ctx context.Context, b *models.Batch) error {
	machineIDs, err := json.Marshal(b.MachineIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal machine ids: %w", err)
	}
	resultsJSON, err := marshalResults(b.Results)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO batches (` + batchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		b.ID,
		b.Status,
		string(machineIDs),
		b.SuccessCount,
		b.FailureCount,
		resultsJSON,
		b.Debug,
		b.LLMCostUSD,
		b.LLMTokensInput,
		b.LLMTokensOutput,
		nullString(b.ErrorMessage),
		nullTime(b.StartedAt),
		nullTime(b.CompletedAt),
		b.CreatedAt.Format(time.RFC3339),
		b.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *SQLiteBatchRepository) GetByID(ctx context.Context, id string) (*models.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = ?`
	b, err := scanBatch(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

func (r *SQLiteBatchRepository) Update(ctx context.Context, b *models.Batch) error {
	resultsJSON, err := marshalResults(b.Results)
	if err != nil {
		return err
	}

	query := `
		UPDATE batches SET status = ?, success_count = ?, failure_count = ?, results_json = ?,
			llm_cost_usd = ?, llm_tokens_input = ?, llm_tokens_output = ?,
			error_message = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		b.Status,
		b.SuccessCount,
		b.FailureCount,
		resultsJSON,
		b.LLMCostUSD,
		b.LLMTokensInput,
		b.LLMTokensOutput,
		nullString(b.ErrorMessage),
		nullTime(b.StartedAt),
		nullTime(b.CompletedAt),
		time.Now().Format(time.RFC3339),
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	return nil
}

func (r *SQLiteBatchRepository) ClaimPending(ctx context.Context) (*models.Batch, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	// UPDATE ... RETURNING atomically claims and fetches in one statement,
	// reducing lock contention compared to SELECT then UPDATE.
	now := time.Now().Format(time.RFC3339)
	query := `
		UPDATE batches
		SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM batches
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING ` + batchColumns

	b, err := scanBatch(tx.QueryRowContext(ctx, query, now, now))
	if err == sql.ErrNoRows {
		// No pending batches - this is normal, not an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return b, nil
}

func (r *SQLiteBatchRepository) MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().Format(time.RFC3339)
	query := `
		UPDATE batches
		SET status = 'failed', error_message = 'stale: still running at startup',
			completed_at = ?, updated_at = ?
		WHERE status = 'running' AND started_at < ?
	`
	result, err := r.db.ExecContext(ctx, query, now, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale batches: %w", err)
	}
	return result.RowsAffected()
}

func marshalResults(results []models.BatchResult) (any, error) {
	if len(results) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch results: %w", err)
	}
	return string(data), nil
}

func scanBatch(row scannable) (*models.Batch, error) {
	var b models.Batch
	var machineIDsJSON string
	var resultsJSON, errorMessage, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&b.ID,
		&b.Status,
		&machineIDsJSON,
		&b.SuccessCount,
		&b.FailureCount,
		&resultsJSON,
		&b.Debug,
		&b.LLMCostUSD,
		&b.LLMTokensInput,
		&b.LLMTokensOutput,
		&errorMessage,
		&startedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(machineIDsJSON), &b.MachineIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine ids: %w", err)
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &b.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch results: %w", err)
		}
	}
	b.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		b.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		b.CompletedAt = &t
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &b, nil
}
