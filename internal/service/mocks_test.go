package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/repository"
)

// mockMachineRepo implements repository.MachineRepository in memory.
type mockMachineRepo struct {
	mu       sync.RWMutex
	machines map[string]*models.Machine
}

func newMockMachineRepo() *mockMachineRepo {
	return &mockMachineRepo{machines: make(map[string]*models.Machine)}
}

func (m *mockMachineRepo) Create(_ context.Context, machine *models.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *machine
	m.machines[machine.ID] = &cp
	return nil
}

func (m *mockMachineRepo) GetByID(_ context.Context, id string) (*models.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if machine, ok := m.machines[id]; ok {
		cp := *machine
		return &cp, nil
	}
	return nil, nil
}

func (m *mockMachineRepo) List(_ context.Context, limit, offset int) ([]*models.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Machine
	for _, machine := range m.machines {
		cp := *machine
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMachineRepo) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.machines), nil
}

func (m *mockMachineRepo) UpdatePrice(_ context.Context, id string, price float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[id]
	if !ok {
		return fmt.Errorf("machine %s not found", id)
	}
	machine.Price = &price
	machine.PriceUpdatedAt = &at
	return nil
}

func (m *mockMachineRepo) UpdateLearnedSelectors(_ context.Context, id string, selectors map[string]models.LearnedSelector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[id]
	if !ok {
		return fmt.Errorf("machine %s not found", id)
	}
	machine.LearnedSelectors = selectors
	return nil
}

// mockHistoryRepo implements repository.PriceHistoryRepository in memory,
// preserving append order.
type mockHistoryRepo struct {
	mu   sync.RWMutex
	rows []*models.PriceHistory
}

func newMockHistoryRepo() *mockHistoryRepo { return &mockHistoryRepo{} }

func (m *mockHistoryRepo) Append(_ context.Context, row *models.PriceHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockHistoryRepo) GetByID(_ context.Context, id string) (*models.PriceHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockHistoryRepo) GetByMachineID(_ context.Context, machineID string, limit, offset int) ([]*models.PriceHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PriceHistory
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].MachineID == machineID {
			cp := *m.rows[i]
			out = append(out, &cp)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockHistoryRepo) ListPendingApproval(_ context.Context, limit, offset int) ([]*models.PriceHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.PriceHistory
	for _, row := range m.rows {
		if row.RequiresApproval && row.ApprovedAt == nil && row.RejectedAt == nil {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockHistoryRepo) SetApprovalDecision(_ context.Context, id string, approve bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			row.RequiresApproval = false
			if approve {
				row.ApprovedAt = &at
			} else {
				row.RejectedAt = &at
			}
			return nil
		}
	}
	return fmt.Errorf("history %s not found", id)
}

func (m *mockHistoryRepo) Summary(_ context.Context, _ time.Time) (*repository.HistorySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &repository.HistorySummary{}
	for _, row := range m.rows {
		s.TotalAttempts++
		if row.Price != nil {
			s.PricesExtracted++
		}
		if row.RequiresApproval && row.ApprovedAt == nil && row.RejectedAt == nil {
			s.PendingApproval++
		}
		s.LLMCostUSD += row.LLMCostUSD
	}
	return s, nil
}

// latest returns the last row appended for a machine.
func (m *mockHistoryRepo) latest(machineID string) *models.PriceHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].MachineID == machineID {
			cp := *m.rows[i]
			return &cp
		}
	}
	return nil
}

// mockBatchRepo implements repository.BatchRepository in memory.
type mockBatchRepo struct {
	mu      sync.RWMutex
	batches map[string]*models.Batch
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{batches: make(map[string]*models.Batch)}
}

func (m *mockBatchRepo) Create(_ context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchRepo) GetByID(_ context.Context, id string) (*models.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.batches[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (m *mockBatchRepo) Update(_ context.Context, b *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return fmt.Errorf("batch %s not found", b.ID)
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockBatchRepo) ClaimPending(_ context.Context) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *models.Batch
	for _, b := range m.batches {
		if b.Status != models.BatchStatusPending {
			continue
		}
		if oldest == nil || b.CreatedAt.Before(oldest.CreatedAt) {
			oldest = b
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = models.BatchStatusRunning
	cp := *oldest
	return &cp, nil
}

func (m *mockBatchRepo) MarkStaleRunningFailed(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func newMockRepos() (*repository.Repositories, *mockMachineRepo, *mockHistoryRepo, *mockBatchRepo) {
	machines := newMockMachineRepo()
	history := newMockHistoryRepo()
	batches := newMockBatchRepo()
	return &repository.Repositories{
		Machine:      machines,
		PriceHistory: history,
		Batch:        batches,
	}, machines, history, batches
}
