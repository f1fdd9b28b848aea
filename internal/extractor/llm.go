package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/machlab/pricewatch/internal/llm"
	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/priceparse"
)

const llmSystemPrompt = `You are a price-extraction assistant for industrial machine product pages (laser cutters, 3D printers, CNC routers). You receive trimmed HTML from a single product page and the name of the machine whose current price is wanted. Respond with exactly one JSON object and nothing else:
{"price": number or null, "currency": "USD", "confidence": number between 0 and 1, "selector": "css selector or null", "explanation": "one sentence"}
Rules: report the current purchase price of the named machine variant only. Ignore bundle prices, related products, financing amounts, and struck-through original prices. If the page shows a sale price next to a crossed-out price, report the sale price. If no price for the named machine is visible, set price to null. The selector field, when set, must be a CSS selector that matches the element containing the reported price.`

// llmResponse is the contract the model must honor.
type llmResponse struct {
	Price       *float64 `json:"price"`
	Currency    string   `json:"currency"`
	Confidence  float64  `json:"confidence"`
	Selector    *string  `json:"selector"`
	Explanation string   `json:"explanation"`
}

// LLM is the last-resort tier. It sends trimmed page HTML to a vendor
// model and, when the model names a selector that verifiably reproduces
// the price, reports it as a learned-selector candidate.
type LLM struct {
	client          llm.Client
	maxPayloadChars int
	logger          *slog.Logger
}

func NewLLM(client llm.Client, maxPayloadChars int, logger *slog.Logger) *LLM {
	return &LLM{
		client:          client,
		maxPayloadChars: maxPayloadChars,
		logger:          logger.With("component", "extractor.llm"),
	}
}

func (e *LLM) Name() string { return "llm" }

func (e *LLM) Extract(ctx context.Context, req *Request) (*Result, error) {
	if req.Doc == nil {
		return nil, NewError(CategoryLLMParseFailed, "no document for %s", req.URL)
	}

	payload := trimHTML(req.Doc, e.maxPayloadChars)
	if strings.TrimSpace(payload) == "" {
		return nil, NewError(CategoryLLMParseFailed, "page %s trimmed to nothing", req.URL)
	}

	user := fmt.Sprintf("Machine: %s\nURL: %s\n\nHTML:\n%s", req.Machine.Name, req.URL, payload)

	text, usage, err := e.client.Complete(ctx, llmSystemPrompt, user)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(CategoryCancelled, ctx.Err(), "llm call for %s", req.URL)
		}
		return nil, WrapError(CategoryLLMParseFailed, err, "llm call for %s", req.URL)
	}

	resp, err := parseLLMResponse(text)
	if err != nil {
		e.logger.Warn("model returned unusable response", "machine_id", req.Machine.ID, "error", err)
		return nil, WrapError(CategoryLLMParseFailed, err, "parsing model response for %s", req.URL)
	}

	result := &Result{
		Tier:         models.TierLLM,
		Currency:     req.currency(),
		Confidence:   resp.Confidence,
		TokensInput:  usage.InputTokens,
		TokensOutput: usage.OutputTokens,
		CostUSD:      usage.CostUSD,
	}
	if resp.Currency != "" {
		result.Currency = resp.Currency
	}

	if resp.Price == nil {
		return nil, &Error{
			Category: CategoryParseNoPrice,
			Message:  fmt.Sprintf("model found no price for %s: %s", req.URL, resp.Explanation),
		}
	}

	price := priceparse.Round(*resp.Price)
	if price < priceparse.MinPrice || price > priceparse.MaxPrice || !req.PriceRange().Contains(price) {
		return nil, NewError(CategoryValidationOutOfRange, "model price %v for %s outside range", price, req.URL)
	}
	result.Price = price

	if resp.Selector != nil && *resp.Selector != "" {
		if learned := e.verifySelector(req, *resp.Selector, price, resp.Confidence, resp.Explanation); learned != nil {
			result.Selector = *resp.Selector
			result.LearnedCandidate = learned
		}
	}

	return result, nil
}

// verifySelector re-applies the model's selector to the raw DOM. Only a
// selector that reproduces the same price within a cent is worth learning.
func (e *LLM) verifySelector(req *Request, selector string, price, confidence float64, reasoning string) *models.LearnedSelector {
	cands := collectCandidates(req.Doc, selector, req.Rule)
	for _, c := range cands {
		if math.Abs(c.price-price) <= 0.01 {
			return &models.LearnedSelector{
				Selector:    selector,
				LastSuccess: time.Now().UTC(),
				Confidence:  confidence,
				PriceFound:  price,
				Method:      "llm_verified",
				Reasoning:   reasoning,
			}
		}
	}
	e.logger.Debug("model selector failed verification", "machine_id", req.Machine.ID, "selector", selector)
	return nil
}

// parseLLMResponse decodes the model reply, tolerating a fenced code block
// around the JSON object.
func parseLLMResponse(text string) (*llmResponse, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if i := strings.LastIndex(cleaned, "```"); i >= 0 {
			cleaned = cleaned[:i]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if i := strings.IndexByte(cleaned, '{'); i > 0 {
		cleaned = cleaned[i:]
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", resp.Confidence)
	}
	return &resp, nil
}
