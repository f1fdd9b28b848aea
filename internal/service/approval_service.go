package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/repository"
)

// Decision is an operator's verdict on a held price change.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// ParseDecision normalizes user input into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVE":
		return DecisionApprove, nil
	case "REJECT":
		return DecisionReject, nil
	default:
		return "", fmt.Errorf("decision must be APPROVE or REJECT, got %q", s)
	}
}

// ApprovalService resolves price changes that validation held back.
// Approving writes the held price onto the machine; rejecting leaves the
// machine untouched. Either way the history row stops being pending.
type ApprovalService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

func NewApprovalService(repos *repository.Repositories, logger *slog.Logger) *ApprovalService {
	return &ApprovalService{
		repos:  repos,
		logger: logger.With("component", "approval"),
	}
}

// ErrHistoryNotFound distinguishes a missing history id at the API surface.
var ErrHistoryNotFound = fmt.Errorf("price history row not found")

// Decide applies an operator decision to a pending history row and returns
// the updated row.
func (s *ApprovalService) Decide(ctx context.Context, historyID string, decision Decision) (*models.PriceHistory, error) {
	row, err := s.repos.PriceHistory.GetByID(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("loading history %s: %w", historyID, err)
	}
	if row == nil {
		return nil, ErrHistoryNotFound
	}
	if !row.RequiresApproval {
		return nil, fmt.Errorf("history %s is not awaiting approval", historyID)
	}
	if row.Price == nil {
		return nil, fmt.Errorf("history %s has no price to approve", historyID)
	}

	now := time.Now().UTC()
	approve := decision == DecisionApprove
	if err := s.repos.PriceHistory.SetApprovalDecision(ctx, historyID, approve, now); err != nil {
		return nil, fmt.Errorf("recording decision for %s: %w", historyID, err)
	}

	row.RequiresApproval = false
	if approve {
		if err := s.repos.Machine.UpdatePrice(ctx, row.MachineID, *row.Price, now); err != nil {
			return nil, fmt.Errorf("applying approved price to %s: %w", row.MachineID, err)
		}
		row.ApprovedAt = &now
		s.logger.Info("price change approved", "history_id", historyID, "machine_id", row.MachineID, "price", *row.Price)
	} else {
		row.RejectedAt = &now
		s.logger.Info("price change rejected", "history_id", historyID, "machine_id", row.MachineID)
	}
	return row, nil
}

// ListPending returns history rows still awaiting a decision.
func (s *ApprovalService) ListPending(ctx context.Context, limit, offset int) ([]*models.PriceHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repos.PriceHistory.ListPendingApproval(ctx, limit, offset)
}
