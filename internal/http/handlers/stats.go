package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/machlab/pricewatch/internal/repository"
)

// StatsHandler handles extraction and cost aggregates.
type StatsHandler struct {
	repos *repository.Repositories
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(repos *repository.Repositories) *StatsHandler {
	return &StatsHandler{repos: repos}
}

// GetStatsInput represents a stats request.
type GetStatsInput struct {
	Days int `query:"days" doc:"Window in days; default 30"`
}

// GetStatsOutput represents the stats response.
type GetStatsOutput struct {
	Body struct {
		Since    string                     `json:"since"`
		Machines int                        `json:"machines"`
		History  *repository.HistorySummary `json:"history"`
	}
}

// GetStats aggregates extraction outcomes and LLM spend over a window.
func (h *StatsHandler) GetStats(ctx context.Context, input *GetStatsInput) (*GetStatsOutput, error) {
	days := input.Days
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	summary, err := h.repos.PriceHistory.Summary(ctx, since)
	if err != nil {
		return nil, huma.Error500InternalServerError("aggregating history", err)
	}
	machines, err := h.repos.Machine.Count(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting machines", err)
	}

	out := &GetStatsOutput{}
	out.Body.Since = since.Format(time.RFC3339)
	out.Body.Machines = machines
	out.Body.History = summary
	return out, nil
}
