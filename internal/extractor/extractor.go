// Package extractor implements the tiered price-extraction engine: static
// DOM strategies, a headless-browser tier for JS-rendered storefronts, and
// an LLM fallback for pages nothing else can read.
package extractor

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/siterules"
)

// Request carries everything one tier needs to find a price for a machine.
type Request struct {
	Machine *models.Machine
	// Domain is the registrable domain of the product URL.
	Domain string
	URL    string
	// HTML is the fetched page. Nil for the dynamic tier, which navigates
	// itself.
	HTML []byte
	// Doc is the parsed form of HTML, shared between tiers so each does not
	// re-parse. Nil when HTML is nil.
	Doc *goquery.Document
	// Rule is the site rule for Domain; may be nil for unknown sites.
	Rule *siterules.SiteRule
	// VariantRule is the matched per-machine override; may be nil.
	VariantRule *siterules.VariantRule
	// PreviousPrice is the machine's current price, used for tie-breaking
	// among candidates. Nil for first-time extractions.
	PreviousPrice *float64
}

// PriceRange returns the tightest applicable range: the variant's expected
// range when set, else the site rule's bounds, else a zero range that
// accepts anything within the parser's global limits.
func (r *Request) PriceRange() siterules.PriceRange {
	if r.VariantRule != nil && r.VariantRule.ExpectedPriceRange != nil {
		return *r.VariantRule.ExpectedPriceRange
	}
	if r.Rule != nil {
		return r.Rule.PriceRange
	}
	return siterules.PriceRange{}
}

// Result is a successful extraction from one tier.
type Result struct {
	Price      float64
	Currency   string
	Tier       models.Tier
	Selector   string
	Confidence float64

	// LLM accounting, zero for non-LLM tiers.
	TokensInput  int64
	TokensOutput int64
	CostUSD      float64

	// LearnedCandidate is set when the tier verified a selector worth
	// persisting on the machine for future fast-path extractions.
	LearnedCandidate *models.LearnedSelector
}

// Extractor is one tier of the engine.
type Extractor interface {
	// Name identifies the tier in logs.
	Name() string
	// Extract returns a price or a categorized *Error.
	Extract(ctx context.Context, req *Request) (*Result, error)
}
