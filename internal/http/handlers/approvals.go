package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/service"
)

// ApprovalHandler handles the pending-approval queue.
type ApprovalHandler struct {
	approvalSvc *service.ApprovalService
}

// NewApprovalHandler creates a new approval handler.
func NewApprovalHandler(approvalSvc *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvalSvc: approvalSvc}
}

// DecideInput represents an operator decision on a held price change.
type DecideInput struct {
	HistoryID string `path:"history_id" doc:"Price history row awaiting approval"`
	Body      struct {
		Decision string `json:"decision" enum:"APPROVE,REJECT" doc:"APPROVE writes the held price onto the machine; REJECT discards it"`
	}
}

// DecideOutput represents the decision response.
type DecideOutput struct {
	Body models.PriceHistory
}

// Decide applies an APPROVE or REJECT decision to a pending history row.
func (h *ApprovalHandler) Decide(ctx context.Context, input *DecideInput) (*DecideOutput, error) {
	decision, err := service.ParseDecision(input.Body.Decision)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	row, err := h.approvalSvc.Decide(ctx, input.HistoryID, decision)
	if err != nil {
		if errors.Is(err, service.ErrHistoryNotFound) {
			return nil, huma.Error404NotFound("price history row not found")
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &DecideOutput{Body: *row}, nil
}

// ListApprovalsInput represents a pending-approval listing request.
type ListApprovalsInput struct {
	Limit  int `query:"limit" doc:"Maximum rows to return"`
	Offset int `query:"offset" doc:"Rows to skip"`
}

// ListApprovalsOutput represents the pending-approval listing response.
type ListApprovalsOutput struct {
	Body struct {
		Approvals []*models.PriceHistory `json:"approvals"`
		Count     int                    `json:"count"`
	}
}

// ListApprovals returns history rows still awaiting an operator decision.
func (h *ApprovalHandler) ListApprovals(ctx context.Context, input *ListApprovalsInput) (*ListApprovalsOutput, error) {
	rows, err := h.approvalSvc.ListPending(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing approvals", err)
	}
	out := &ListApprovalsOutput{}
	out.Body.Approvals = rows
	out.Body.Count = len(rows)
	return out, nil
}
