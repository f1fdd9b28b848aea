package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/machlab/pricewatch/internal/models"
)

// SQLiteMachineRepository implements MachineRepository for SQLite.
type SQLiteMachineRepository struct {
	db *sql.DB
}

// NewSQLiteMachineRepository creates a new SQLite machine repository.
func NewSQLiteMachineRepository(db *sql.DB) *SQLiteMachineRepository {
	return &SQLiteMachineRepository{db: db}
}

func (r *SQLiteMachineRepository) Create(ctx context.Context, m *models.Machine) error {
	variantJSON, err := marshalOrNull(m.VariantAttributes)
	if err != nil {
		return fmt.Errorf("failed to marshal variant attributes: %w", err)
	}
	selectorsJSON, err := marshalOrNull(m.LearnedSelectors)
	if err != nil {
		return fmt.Errorf("failed to marshal learned selectors: %w", err)
	}

	query := `
		INSERT INTO machines (id, name, product_url, brand, category, currency, price,
			variant_attributes_json, learned_selectors_json, price_updated_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		m.ID,
		m.Name,
		m.ProductURL,
		nullString(m.Brand),
		nullString(m.Category),
		m.Currency,
		m.Price,
		variantJSON,
		selectorsJSON,
		nullTime(m.PriceUpdatedAt),
		m.CreatedAt.Format(time.RFC3339),
		m.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create machine: %w", err)
	}
	return nil
}

const machineColumns = `id, name, product_url, brand, category, currency, price,
	variant_attributes_json, learned_selectors_json, price_updated_at, created_at, updated_at`

func (r *SQLiteMachineRepository) GetByID(ctx context.Context, id string) (*models.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines WHERE id = ?`
	m, err := scanMachine(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}
	return m, nil
}

func (r *SQLiteMachineRepository) List(ctx context.Context, limit, offset int) ([]*models.Machine, error) {
	query := `SELECT ` + machineColumns + ` FROM machines ORDER BY name ASC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (r *SQLiteMachineRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM machines").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count machines: %w", err)
	}
	return count, nil
}

func (r *SQLiteMachineRepository) UpdatePrice(ctx context.Context, id string, price float64, at time.Time) error {
	query := `UPDATE machines SET price = ?, price_updated_at = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		price,
		at.Format(time.RFC3339),
		time.Now().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update machine price: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("machine %s not found", id)
	}
	return nil
}

func (r *SQLiteMachineRepository) UpdateLearnedSelectors(ctx context.Context, id string, selectors map[string]models.LearnedSelector) error {
	selectorsJSON, err := marshalOrNull(selectors)
	if err != nil {
		return fmt.Errorf("failed to marshal learned selectors: %w", err)
	}

	query := `UPDATE machines SET learned_selectors_json = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, selectorsJSON, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update learned selectors: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("machine %s not found", id)
	}
	return nil
}

// scannable abstracts sql.Row and sql.Rows for shared scan code.
type scannable interface {
	Scan(dest ...any) error
}

func scanMachine(row scannable) (*models.Machine, error) {
	var m models.Machine
	var brand, category, variantJSON, selectorsJSON, priceUpdatedAt sql.NullString
	var price sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.ProductURL,
		&brand,
		&category,
		&m.Currency,
		&price,
		&variantJSON,
		&selectorsJSON,
		&priceUpdatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Brand = brand.String
	m.Category = category.String
	if price.Valid {
		m.Price = &price.Float64
	}
	if variantJSON.Valid && variantJSON.String != "" {
		if err := json.Unmarshal([]byte(variantJSON.String), &m.VariantAttributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variant attributes: %w", err)
		}
	}
	if selectorsJSON.Valid && selectorsJSON.String != "" {
		if err := json.Unmarshal([]byte(selectorsJSON.String), &m.LearnedSelectors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal learned selectors: %w", err)
		}
	}
	if priceUpdatedAt.Valid {
		t, _ := time.Parse(time.RFC3339, priceUpdatedAt.String)
		m.PriceUpdatedAt = &t
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &m, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func marshalOrNull(v any) (any, error) {
	switch val := v.(type) {
	case map[string]string:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]models.LearnedSelector:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
