package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/machlab/pricewatch/internal/service"
)

// ExtractionHandler handles synchronous extraction requests.
type ExtractionHandler struct {
	extractionSvc *service.ExtractionService
}

// NewExtractionHandler creates a new extraction handler.
func NewExtractionHandler(extractionSvc *service.ExtractionService) *ExtractionHandler {
	return &ExtractionHandler{extractionSvc: extractionSvc}
}

// ExtractInput represents a single-machine extraction request.
type ExtractInput struct {
	MachineID string `path:"machine_id" doc:"Machine to extract a price for"`
}

// ExtractResult is the synchronous extraction response body.
type ExtractResult struct {
	Success          bool     `json:"success" doc:"True when a price passed validation"`
	HistoryID        string   `json:"history_id" doc:"Appended price history row"`
	NewPrice         *float64 `json:"new_price,omitempty" doc:"Extracted (possibly corrected) price"`
	OldPrice         *float64 `json:"old_price,omitempty" doc:"Price on the machine before this run"`
	TierUsed         string   `json:"tier_used,omitempty" doc:"Extraction tier that produced the result"`
	ValidationStatus string   `json:"validation_status" doc:"Validation outcome"`
	RequiresApproval bool     `json:"requires_approval" doc:"True when the change is held for operator sign-off"`
	Reason           string   `json:"reason,omitempty" doc:"Validation or failure detail"`
}

// ExtractOutput represents the extraction response.
type ExtractOutput struct {
	Body ExtractResult
}

// Extract runs the full tier sequence for one machine and waits for the
// result. Bounded by the orchestrator's global deadline.
func (h *ExtractionHandler) Extract(ctx context.Context, input *ExtractInput) (*ExtractOutput, error) {
	outcome, err := h.extractionSvc.ExtractByID(ctx, input.MachineID, "")
	if err != nil {
		if errors.Is(err, service.ErrMachineNotFound) {
			return nil, huma.Error404NotFound("machine not found")
		}
		return nil, huma.Error500InternalServerError("extraction failed", err)
	}

	body := ExtractResult{
		Success:          outcome.Success,
		OldPrice:         outcome.OldPrice,
		TierUsed:         string(outcome.Tier),
		ValidationStatus: string(outcome.ValidationStatus),
		RequiresApproval: outcome.RequiresApproval,
		Reason:           outcome.Reason,
	}
	if outcome.History != nil {
		body.HistoryID = outcome.History.ID
	}
	if outcome.Success {
		body.NewPrice = outcome.Price
	}
	return &ExtractOutput{Body: body}, nil
}
