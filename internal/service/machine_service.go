// Package service holds the orchestration layer: the per-machine tier
// fold, batch execution, validation, and approvals.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/repository"
	"github.com/machlab/pricewatch/internal/siterules"
)

// MachineService is the registration and read surface over the machine
// store.
type MachineService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

func NewMachineService(repos *repository.Repositories, logger *slog.Logger) *MachineService {
	return &MachineService{repos: repos, logger: logger.With("component", "machines")}
}

func (s *MachineService) Get(ctx context.Context, id string) (*models.Machine, error) {
	return s.repos.Machine.GetByID(ctx, id)
}

func (s *MachineService) List(ctx context.Context, limit, offset int) ([]*models.Machine, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repos.Machine.List(ctx, limit, offset)
}

func (s *MachineService) Count(ctx context.Context) (int, error) {
	return s.repos.Machine.Count(ctx)
}

// Create registers a new machine for monitoring. An id is generated when
// the caller does not supply one.
func (s *MachineService) Create(ctx context.Context, machine *models.Machine) error {
	if machine.Name == "" || machine.ProductURL == "" {
		return fmt.Errorf("machine needs a name and a product url")
	}
	if _, err := siterules.Domain(machine.ProductURL); err != nil {
		return fmt.Errorf("invalid product url: %w", err)
	}
	if machine.ID == "" {
		machine.ID = "mach_" + ulid.Make().String()
	}
	if machine.Currency == "" {
		machine.Currency = "USD"
	}
	now := time.Now().UTC()
	machine.CreatedAt = now
	machine.UpdatedAt = now
	if err := s.repos.Machine.Create(ctx, machine); err != nil {
		return fmt.Errorf("creating machine: %w", err)
	}
	s.logger.Info("machine created", "machine_id", machine.ID, "name", machine.Name, "url", machine.ProductURL)
	return nil
}

func (s *MachineService) History(ctx context.Context, machineID string, limit int) ([]*models.PriceHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repos.PriceHistory.GetByMachineID(ctx, machineID, limit, 0)
}
