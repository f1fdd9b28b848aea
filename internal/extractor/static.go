package extractor

import (
	"context"
	"log/slog"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/siterules"
)

// commonSelectors is the fallback list tried on sites with no rule or when
// the site's own selectors come up empty. Ordered roughly by how specific a
// match they produce.
var commonSelectors = []string{
	".price ins .amount",
	".price .woocommerce-Price-amount",
	".product__price .price-item--sale",
	".product__price .price-item--regular",
	".price__current",
	".price--sale",
	".product-price__current",
	".current-price",
	".current_price",
	".sale-price",
	".product-price",
	".product_price",
	".price-current",
	".price-now",
	".our-price",
	".offer-price",
	"[itemprop=price]",
	"[data-product-price]",
	"[data-price]",
	"span.money",
	".money",
	".amount",
	".price-box .price",
	".product-info-price .price",
	"#price",
	".price",
}

// Static is the fast-path extractor: learned selector, then site-rule
// selectors, then structured data, then the common-selector sweep, all on a
// single fetched DOM.
type Static struct {
	logger *slog.Logger
}

func NewStatic(logger *slog.Logger) *Static {
	return &Static{logger: logger.With("component", "extractor.static")}
}

func (e *Static) Name() string { return "static" }

func (e *Static) Extract(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(CategoryCancelled, err, "static extract %s", req.URL)
	}
	if req.Doc == nil {
		return nil, NewError(CategoryParseNoPrice, "no document for %s", req.URL)
	}

	sawCandidate := false

	// Learned selector first: the cheapest path when a previous LLM run
	// taught us where this site keeps its price.
	if learned, ok := req.Machine.LearnedSelectors[req.Domain]; ok && learned.Selector != "" {
		if res := e.bySelector(req, learned.Selector, models.TierLearned, 0.95, &sawCandidate); res != nil {
			return res, nil
		}
		e.logger.Debug("learned selector missed", "machine_id", req.Machine.ID, "selector", learned.Selector)
	}

	if req.Rule != nil {
		if req.Rule.Type == siterules.TypeStaticTable {
			if res, err := e.fromTable(req); err == nil {
				return res, nil
			} else {
				e.logger.Debug("table extraction missed", "machine_id", req.Machine.ID, "error", err)
			}
		}
		if req.VariantRule != nil && req.VariantRule.PreferredSelector != "" {
			if res := e.bySelector(req, req.VariantRule.PreferredSelector, models.TierSiteRule, 0.9, &sawCandidate); res != nil {
				return res, nil
			}
		}
		for _, sel := range req.Rule.PriceSelectors {
			if res := e.bySelector(req, sel, models.TierSiteRule, 0.9, &sawCandidate); res != nil {
				return res, nil
			}
		}
	}

	if res := e.fromStructuredData(req); res != nil {
		return res, nil
	}

	for _, sel := range commonSelectors {
		if res := e.bySelector(req, sel, models.TierCommonSelector, 0.7, &sawCandidate); res != nil {
			return res, nil
		}
	}

	if sawCandidate {
		return nil, NewError(CategoryValidationOutOfRange, "candidates found for %s but none within range", req.URL)
	}
	return nil, NewError(CategoryParseNoPrice, "no price found for %s", req.URL)
}

// bySelector runs one selector through candidate collection and the
// selection policy. Returns nil on a miss so the caller tries the next
// strategy.
func (e *Static) bySelector(req *Request, selector string, tier models.Tier, confidence float64, sawCandidate *bool) *Result {
	cands := collectCandidates(req.Doc, selector, req.Rule)
	if len(cands) == 0 {
		return nil
	}
	*sawCandidate = true
	best, ok := pickCandidate(cands, req)
	if !ok {
		return nil
	}
	return &Result{
		Price:      best.price,
		Currency:   req.currency(),
		Tier:       tier,
		Selector:   selector,
		Confidence: confidence,
	}
}

func (r *Request) currency() string {
	if r.Rule != nil && r.Rule.Currency != "" {
		return r.Rule.Currency
	}
	if r.Machine != nil && r.Machine.Currency != "" {
		return r.Machine.Currency
	}
	return "USD"
}
