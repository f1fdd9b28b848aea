package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oklog/ulid/v2"

	"github.com/machlab/pricewatch/internal/extractor"
	"github.com/machlab/pricewatch/internal/fetch"
	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/priceparse"
	"github.com/machlab/pricewatch/internal/repository"
	"github.com/machlab/pricewatch/internal/siterules"
)

// Fetcher is the page-fetching dependency of the orchestrator. Satisfied
// by *fetch.Client; tests substitute a scripted implementation.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

var _ Fetcher = (*fetch.Client)(nil)

// ExtractionOutcome is what one machine run produced, mirroring the
// history row it appended.
type ExtractionOutcome struct {
	Machine          *models.Machine
	History          *models.PriceHistory
	Success          bool
	Price            *float64
	OldPrice         *float64
	Tier             models.Tier
	ValidationStatus models.ValidationStatus
	RequiresApproval bool
	Reason           string
}

// ExtractionService runs the tier fold for one machine: fetch, static,
// dynamic, LLM, each result validated before it is accepted. Every run
// appends exactly one PriceHistory row, successful or not.
type ExtractionService struct {
	repos     *repository.Repositories
	rules     *siterules.Table
	fetcher   Fetcher
	static    extractor.Extractor
	dynamic   extractor.Extractor
	llm       extractor.Extractor
	validator *Validator
	logger    *slog.Logger

	globalTimeout  time.Duration
	dynamicTimeout time.Duration
	llmTimeout     time.Duration
}

// ExtractionConfig wires the orchestrator's tiers. Dynamic and LLM may be
// nil when the browser or model vendor is not configured; the fold simply
// skips them.
type ExtractionConfig struct {
	Rules          *siterules.Table
	Fetcher        Fetcher
	Static         extractor.Extractor
	Dynamic        extractor.Extractor
	LLM            extractor.Extractor
	Validator      *Validator
	GlobalTimeout  time.Duration
	DynamicTimeout time.Duration
	LLMTimeout     time.Duration
}

func NewExtractionService(repos *repository.Repositories, cfg ExtractionConfig, logger *slog.Logger) *ExtractionService {
	if cfg.GlobalTimeout <= 0 {
		cfg.GlobalTimeout = 180 * time.Second
	}
	if cfg.DynamicTimeout <= 0 {
		cfg.DynamicTimeout = 60 * time.Second
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 30 * time.Second
	}
	return &ExtractionService{
		repos:          repos,
		rules:          cfg.Rules,
		fetcher:        cfg.Fetcher,
		static:         cfg.Static,
		dynamic:        cfg.Dynamic,
		llm:            cfg.LLM,
		validator:      cfg.Validator,
		logger:         logger.With("component", "extraction"),
		globalTimeout:  cfg.GlobalTimeout,
		dynamicTimeout: cfg.DynamicTimeout,
		llmTimeout:     cfg.LLMTimeout,
	}
}

// ExtractByID looks up the machine and runs the fold. batchID attributes
// the resulting history row to a batch; empty for ad-hoc runs.
func (s *ExtractionService) ExtractByID(ctx context.Context, machineID, batchID string) (*ExtractionOutcome, error) {
	machine, err := s.repos.Machine.GetByID(ctx, machineID)
	if err != nil {
		return nil, fmt.Errorf("loading machine %s: %w", machineID, err)
	}
	if machine == nil {
		return nil, ErrMachineNotFound
	}
	return s.Extract(ctx, machine, batchID)
}

// ErrMachineNotFound distinguishes a missing input from an extraction
// failure at the API and CLI surfaces.
var ErrMachineNotFound = errors.New("machine not found")

// Extract runs the full tier fold for one machine.
func (s *ExtractionService) Extract(ctx context.Context, machine *models.Machine, batchID string) (*ExtractionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.globalTimeout)
	defer cancel()

	start := time.Now()
	req, err := s.buildRequest(machine)
	if err != nil {
		return s.recordFailure(ctx, machine, batchID, models.Tier(""), nil, extractor.WrapError(extractor.CategoryFetchPermanent, err, "preparing %s", machine.ProductURL))
	}

	result, tier, exErr := s.runTiers(ctx, req)
	if exErr != nil {
		s.logger.Warn("all tiers failed",
			"machine_id", machine.ID,
			"domain", req.Domain,
			"last_tier", tier,
			"category", exErr.Category,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", exErr)
		return s.recordFailure(ctx, machine, batchID, tier, result, exErr)
	}

	validation := s.validator.Validate(result.Price, machine.Price, req.Rule, req.VariantRule)
	outcome, err := s.record(ctx, machine, batchID, result, validation)
	if err != nil {
		return nil, err
	}

	s.logger.Info("extraction complete",
		"machine_id", machine.ID,
		"domain", req.Domain,
		"tier", result.Tier,
		"price", validation.Price,
		"status", validation.Status,
		"requires_approval", validation.RequiresApproval,
		"duration_ms", time.Since(start).Milliseconds())
	return outcome, nil
}

// buildRequest resolves the domain, site rule, and variant rule for a
// machine.
func (s *ExtractionService) buildRequest(machine *models.Machine) (*extractor.Request, error) {
	domain, err := siterules.Domain(machine.ProductURL)
	if err != nil {
		return nil, err
	}
	req := &extractor.Request{
		Machine:       machine,
		Domain:        domain,
		URL:           machine.ProductURL,
		Rule:          s.rules.Lookup(domain),
		PreviousPrice: machine.Price,
	}
	req.VariantRule = s.rules.MachineRule(domain, machine.Name, machine.ProductURL)
	return req, nil
}

// runTiers is the fold: static on fetched HTML, then dynamic, then LLM.
// Returns the successful result, or the last tier attempted and its error.
func (s *ExtractionService) runTiers(ctx context.Context, req *extractor.Request) (*extractor.Result, models.Tier, *extractor.Error) {
	lastTier := models.TierSiteRule
	var lastErr *extractor.Error

	fetchErr := s.fetchInto(ctx, req)
	if fetchErr == nil {
		res, err := s.static.Extract(ctx, req)
		if err == nil {
			return res, res.Tier, nil
		}
		lastErr = asExtractionError(err)
		lastTier = models.TierSiteRule
		if !lastErr.Escalatable() {
			return nil, lastTier, lastErr
		}
	} else {
		lastErr = fetchErr
		// A permanent fetch failure only escalates when the site is
		// flagged dynamic; otherwise the page is simply gone.
		if lastErr.Category == extractor.CategoryCancelled {
			return nil, lastTier, lastErr
		}
		if lastErr.Category == extractor.CategoryFetchPermanent && (req.Rule == nil || !req.Rule.RequiresDynamic) {
			return nil, lastTier, lastErr
		}
	}

	if s.dynamic != nil {
		// Navigation, variant steps, and the AJAX settle wait together can
		// outrun the dynamic allowance; the deadline caps them as a group.
		dynCtx, cancel := context.WithTimeout(ctx, s.dynamicTimeout)
		res, err := s.dynamic.Extract(dynCtx, req)
		cancel()
		if err == nil {
			return res, res.Tier, nil
		}
		lastErr = asExtractionError(err)
		lastTier = models.TierDynamic
		if !lastErr.Escalatable() {
			return nil, lastTier, lastErr
		}
	}

	if s.llm != nil && req.Doc != nil {
		llmCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
		res, err := s.llm.Extract(llmCtx, req)
		cancel()
		if err == nil {
			return res, res.Tier, nil
		}
		lastErr = asExtractionError(err)
		lastTier = models.TierLLM
	}

	if lastErr == nil {
		lastErr = extractor.NewError(extractor.CategoryParseNoPrice, "no tier available for %s", req.URL)
	}
	return nil, lastTier, lastErr
}

// fetchInto fetches and parses the page for the static and LLM tiers.
func (s *ExtractionService) fetchInto(ctx context.Context, req *extractor.Request) *extractor.Error {
	body, err := s.fetcher.Get(ctx, req.URL)
	if err != nil {
		return asExtractionError(err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return extractor.WrapError(extractor.CategoryParseNoPrice, err, "parsing %s", req.URL)
	}
	req.HTML = body
	req.Doc = doc
	return nil
}

// record persists a successful extraction: learned selector first, then
// the history row, then the machine price when the validation allows it.
// The selector write precedes the history append so a learned entry always
// predates the row that proves it.
func (s *ExtractionService) record(ctx context.Context, machine *models.Machine, batchID string, result *extractor.Result, validation Validation) (*ExtractionOutcome, error) {
	if result.LearnedCandidate != nil && validation.Status == models.ValidationPass {
		if err := s.learnSelector(ctx, machine, result); err != nil {
			s.logger.Warn("persisting learned selector failed", "machine_id", machine.ID, "error", err)
		}
	}

	oldPrice := machine.Price
	price := priceparse.Round(validation.Price)

	history := &models.PriceHistory{
		ID:               newHistoryID(),
		MachineID:        machine.ID,
		Price:            &price,
		Currency:         result.Currency,
		PreviousPrice:    oldPrice,
		Tier:             result.Tier,
		Selector:         result.Selector,
		Confidence:       result.Confidence,
		ValidationStatus: validation.Status,
		FailureReason:    validation.Reason,
		RequiresApproval: validation.RequiresApproval,
		LLMCostUSD:       result.CostUSD,
		LLMTokensInput:   int(result.TokensInput),
		LLMTokensOutput:  int(result.TokensOutput),
		CreatedAt:        time.Now().UTC(),
	}
	if batchID != "" {
		history.BatchID = &batchID
	}
	if err := s.repos.PriceHistory.Append(ctx, history); err != nil {
		return nil, fmt.Errorf("appending price history for %s: %w", machine.ID, err)
	}

	accepted := validation.Status == models.ValidationPass && !validation.RequiresApproval
	if accepted {
		if err := s.repos.Machine.UpdatePrice(ctx, machine.ID, price, history.CreatedAt); err != nil {
			return nil, fmt.Errorf("updating price for %s: %w", machine.ID, err)
		}
		machine.Price = &price
	}

	return &ExtractionOutcome{
		Machine:          machine,
		History:          history,
		Success:          validation.Status == models.ValidationPass,
		Price:            &price,
		OldPrice:         oldPrice,
		Tier:             result.Tier,
		ValidationStatus: validation.Status,
		RequiresApproval: validation.RequiresApproval,
		Reason:           validation.Reason,
	}, nil
}

// recordFailure appends the audit row for a run that produced no price.
func (s *ExtractionService) recordFailure(ctx context.Context, machine *models.Machine, batchID string, tier models.Tier, llmUsage *extractor.Result, exErr *extractor.Error) (*ExtractionOutcome, error) {
	status := models.ValidationNoPrice
	if exErr.Category == extractor.CategoryValidationOutOfRange {
		status = models.ValidationOutOfRange
	}

	history := &models.PriceHistory{
		ID:               newHistoryID(),
		MachineID:        machine.ID,
		Currency:         machine.Currency,
		PreviousPrice:    machine.Price,
		Tier:             tier,
		ValidationStatus: status,
		FailureReason:    exErr.Error(),
		CreatedAt:        time.Now().UTC(),
	}
	if batchID != "" {
		history.BatchID = &batchID
	}
	if llmUsage != nil {
		history.LLMCostUSD = llmUsage.CostUSD
		history.LLMTokensInput = int(llmUsage.TokensInput)
		history.LLMTokensOutput = int(llmUsage.TokensOutput)
	}
	if err := s.repos.PriceHistory.Append(ctx, history); err != nil {
		return nil, fmt.Errorf("appending failure history for %s: %w", machine.ID, err)
	}

	return &ExtractionOutcome{
		Machine:          machine,
		History:          history,
		Success:          false,
		OldPrice:         machine.Price,
		Tier:             tier,
		ValidationStatus: status,
		Reason:           exErr.Error(),
	}, nil
}

// learnSelector merges the new entry into the machine's learned map, keyed
// by registrable domain.
func (s *ExtractionService) learnSelector(ctx context.Context, machine *models.Machine, result *extractor.Result) error {
	domain, err := siterules.Domain(machine.ProductURL)
	if err != nil {
		return err
	}
	selectors := make(map[string]models.LearnedSelector, len(machine.LearnedSelectors)+1)
	for k, v := range machine.LearnedSelectors {
		selectors[k] = v
	}
	selectors[domain] = *result.LearnedCandidate
	if err := s.repos.Machine.UpdateLearnedSelectors(ctx, machine.ID, selectors); err != nil {
		return err
	}
	machine.LearnedSelectors = selectors
	s.logger.Info("learned selector stored", "machine_id", machine.ID, "domain", domain, "selector", result.LearnedCandidate.Selector)
	return nil
}

func asExtractionError(err error) *extractor.Error {
	var exErr *extractor.Error
	if errors.As(err, &exErr) {
		return exErr
	}
	return extractor.WrapError(extractor.CategoryParseNoPrice, err, "extraction failed")
}

func newHistoryID() string {
	return "ph_" + ulid.Make().String()
}
