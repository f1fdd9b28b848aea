package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/service"
)

// BatchHandler handles batch creation and status queries.
type BatchHandler struct {
	batchSvc *service.BatchService
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(batchSvc *service.BatchService) *BatchHandler {
	return &BatchHandler{batchSvc: batchSvc}
}

// CreateBatchInput represents a batch creation request.
type CreateBatchInput struct {
	Body struct {
		MachineIDs []string `json:"machine_ids" minItems:"1" doc:"Machines to extract"`
		Debug      bool     `json:"debug,omitempty" doc:"Record per-machine results on the batch"`
	}
}

// CreateBatchOutput represents the batch creation response.
type CreateBatchOutput struct {
	Body struct {
		BatchID string `json:"batch_id" doc:"Identifier to poll for status"`
		Status  string `json:"status" doc:"Initial batch status"`
	}
}

// CreateBatch persists a pending batch; the background worker picks it up.
func (h *BatchHandler) CreateBatch(ctx context.Context, input *CreateBatchInput) (*CreateBatchOutput, error) {
	batch, err := h.batchSvc.Create(ctx, input.Body.MachineIDs, input.Body.Debug)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	out := &CreateBatchOutput{}
	out.Body.BatchID = batch.ID
	out.Body.Status = string(batch.Status)
	return out, nil
}

// GetBatchInput represents a batch status request.
type GetBatchInput struct {
	BatchID string `path:"batch_id" doc:"Batch to look up"`
	Results bool   `query:"results" doc:"Include per-machine results (recorded only when the batch was created with debug)"`
}

// GetBatchOutput represents the batch snapshot response.
type GetBatchOutput struct {
	Body models.Batch
}

// GetBatch returns a snapshot of the batch record, including progress
// counters while it runs.
func (h *BatchHandler) GetBatch(ctx context.Context, input *GetBatchInput) (*GetBatchOutput, error) {
	batch, err := h.batchSvc.Get(ctx, input.BatchID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading batch", err)
	}
	if batch == nil {
		return nil, huma.Error404NotFound("batch not found")
	}
	if !input.Results {
		batch.Results = nil
	}
	return &GetBatchOutput{Body: *batch}, nil
}
