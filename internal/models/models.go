// Package models defines the domain models for the application.
// Machines are externally owned for non-price fields; price, learned
// selectors, price history, and batches are mutated only by this system.
package models

import (
	"time"
)

// Tier identifies the extraction strategy that produced a price.
type Tier string

const (
	TierLearned        Tier = "learned"
	TierSiteRule       Tier = "site_rule"
	TierStructuredData Tier = "structured_data"
	TierCommonSelector Tier = "common_selector"
	TierDynamic        Tier = "dynamic"
	TierLLM            Tier = "llm"
	TierManual         Tier = "manual"
)

// ValidationStatus classifies the outcome of price validation.
type ValidationStatus string

const (
	ValidationPass            ValidationStatus = "pass"
	ValidationOutOfRange      ValidationStatus = "out_of_range"
	ValidationChangeExceeded  ValidationStatus = "change_threshold_exceeded"
	ValidationNoPrice         ValidationStatus = "no_price"
	ValidationNeedsReview     ValidationStatus = "needs_review"
)

// LearnedSelector records a selector previously demonstrated to extract
// the correct price for a (machine, domain) pair.
type LearnedSelector struct {
	Selector    string    `json:"selector"`
	LastSuccess time.Time `json:"last_success"`
	Confidence  float64   `json:"confidence"`
	PriceFound  float64   `json:"price_found"`
	Method      Tier      `json:"method"`
	Reasoning   string    `json:"reasoning,omitempty"`
}

// Machine represents one product variant on one manufacturer page.
type Machine struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ProductURL string   `json:"product_url"`
	Brand      string   `json:"brand,omitempty"`
	Category   string   `json:"category,omitempty"`
	Currency   string   `json:"currency"`
	Price      *float64 `json:"price,omitempty"` // Last accepted price; nil before first extraction

	// VariantAttributes are free-form hints (power rating, model suffix)
	// used for variant disambiguation alongside Name.
	VariantAttributes map[string]string `json:"variant_attributes,omitempty"`

	// LearnedSelectors is keyed by registrable domain. At most one entry
	// per domain; overwrites replace.
	LearnedSelectors map[string]LearnedSelector `json:"learned_selectors,omitempty"`

	PriceUpdatedAt *time.Time `json:"price_updated_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PriceHistory is an append-only record of one extraction attempt that was
// persisted. Failed attempts are recorded too, with ExtractedPrice nil.
type PriceHistory struct {
	ID               string           `json:"id"`
	MachineID        string           `json:"machine_id"`
	Price            *float64         `json:"price,omitempty"` // nil when no price was extracted
	Currency         string           `json:"currency"`
	PreviousPrice    *float64         `json:"previous_price,omitempty"`
	Tier             Tier             `json:"tier_used"`
	Selector         string           `json:"selector_or_path,omitempty"`
	Confidence       float64          `json:"confidence"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	BatchID          *string          `json:"batch_id,omitempty"`
	RequiresApproval bool             `json:"requires_approval"`
	LLMCostUSD       float64          `json:"llm_cost_usd,omitempty"`
	LLMTokensInput   int              `json:"llm_tokens_input,omitempty"`
	LLMTokensOutput  int              `json:"llm_tokens_output,omitempty"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	RejectedAt       *time.Time       `json:"rejected_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// BatchResult is the per-machine outcome recorded on a batch.
type BatchResult struct {
	MachineID        string           `json:"machine_id"`
	Success          bool             `json:"success"`
	Price            *float64         `json:"price,omitempty"`
	Tier             Tier             `json:"tier_used,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
	RequiresApproval bool             `json:"requires_approval,omitempty"`
	Error            string           `json:"error,omitempty"`
	DurationMs       int              `json:"duration_ms"`
}

// Batch represents one batch extraction run over a set of machines.
type Batch struct {
	ID              string        `json:"id"`
	Status          BatchStatus   `json:"status"`
	MachineIDs      []string      `json:"machine_ids"`
	SuccessCount    int           `json:"success_count"`
	FailureCount    int           `json:"failure_count"`
	Results         []BatchResult `json:"results,omitempty"`
	Debug           bool          `json:"debug"` // Records per-machine Results when set
	LLMCostUSD      float64       `json:"llm_cost_usd"`
	LLMTokensInput  int           `json:"llm_tokens_input"`
	LLMTokensOutput int           `json:"llm_tokens_output"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
