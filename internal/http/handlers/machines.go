package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/service"
)

// MachineHandler handles the machine read surface.
type MachineHandler struct {
	machineSvc *service.MachineService
}

// NewMachineHandler creates a new machine handler.
func NewMachineHandler(machineSvc *service.MachineService) *MachineHandler {
	return &MachineHandler{machineSvc: machineSvc}
}

// CreateMachineInput represents a machine registration request.
type CreateMachineInput struct {
	Body struct {
		Name              string            `json:"name" minLength:"1" doc:"Machine name, also used for variant matching"`
		ProductURL        string            `json:"product_url" format:"uri" doc:"Manufacturer product page to monitor"`
		Brand             string            `json:"brand,omitempty" doc:"Manufacturer name"`
		Category          string            `json:"category,omitempty" doc:"Machine category (laser, 3d_printer, cnc)"`
		Currency          string            `json:"currency,omitempty" doc:"ISO 4217 code, defaults to USD"`
		VariantAttributes map[string]string `json:"variant_attributes,omitempty" doc:"Free-form variant hints (power, model suffix)"`
	}
}

// CreateMachineOutput represents the machine registration response.
type CreateMachineOutput struct {
	Body models.Machine
}

// CreateMachine registers a new machine for price monitoring.
func (h *MachineHandler) CreateMachine(ctx context.Context, input *CreateMachineInput) (*CreateMachineOutput, error) {
	machine := &models.Machine{
		Name:              input.Body.Name,
		ProductURL:        input.Body.ProductURL,
		Brand:             input.Body.Brand,
		Category:          input.Body.Category,
		Currency:          input.Body.Currency,
		VariantAttributes: input.Body.VariantAttributes,
	}
	if err := h.machineSvc.Create(ctx, machine); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &CreateMachineOutput{Body: *machine}, nil
}

// ListMachinesInput represents a machine listing request.
type ListMachinesInput struct {
	Limit  int `query:"limit" doc:"Maximum machines to return"`
	Offset int `query:"offset" doc:"Machines to skip"`
}

// ListMachinesOutput represents the machine listing response.
type ListMachinesOutput struct {
	Body struct {
		Machines []*models.Machine `json:"machines"`
		Total    int               `json:"total"`
	}
}

// ListMachines returns the monitored machines with their current prices.
func (h *MachineHandler) ListMachines(ctx context.Context, input *ListMachinesInput) (*ListMachinesOutput, error) {
	machines, err := h.machineSvc.List(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing machines", err)
	}
	total, err := h.machineSvc.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting machines", err)
	}
	out := &ListMachinesOutput{}
	out.Body.Machines = machines
	out.Body.Total = total
	return out, nil
}

// GetMachineInput represents a single-machine request.
type GetMachineInput struct {
	MachineID string `path:"machine_id" doc:"Machine to look up"`
}

// GetMachineOutput represents the single-machine response.
type GetMachineOutput struct {
	Body models.Machine
}

// GetMachine returns one machine by id.
func (h *MachineHandler) GetMachine(ctx context.Context, input *GetMachineInput) (*GetMachineOutput, error) {
	machine, err := h.machineSvc.Get(ctx, input.MachineID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading machine", err)
	}
	if machine == nil {
		return nil, huma.Error404NotFound("machine not found")
	}
	return &GetMachineOutput{Body: *machine}, nil
}

// GetHistoryInput represents a machine price-history request.
type GetHistoryInput struct {
	MachineID string `path:"machine_id" doc:"Machine to look up"`
	Limit     int    `query:"limit" doc:"Maximum rows to return"`
}

// GetHistoryOutput represents the price-history response.
type GetHistoryOutput struct {
	Body struct {
		MachineID string                 `json:"machine_id"`
		History   []*models.PriceHistory `json:"history"`
	}
}

// GetMachineHistory returns the extraction history for one machine, newest
// first.
func (h *MachineHandler) GetMachineHistory(ctx context.Context, input *GetHistoryInput) (*GetHistoryOutput, error) {
	machine, err := h.machineSvc.Get(ctx, input.MachineID)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading machine", err)
	}
	if machine == nil {
		return nil, huma.Error404NotFound("machine not found")
	}
	rows, err := h.machineSvc.History(ctx, input.MachineID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("loading history", err)
	}
	out := &GetHistoryOutput{}
	out.Body.MachineID = input.MachineID
	out.Body.History = rows
	return out, nil
}
