package service

import (
	"math"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/priceparse"
	"github.com/machlab/pricewatch/internal/siterules"
)

const (
	// changeApprovalThreshold is the relative change above which a price
	// update is held for approval.
	defaultApprovalThreshold = 0.15
	// changeReviewThreshold is the relative change above which the value is
	// treated as a suspected extraction error.
	defaultReviewThreshold = 0.50
	// correctionFitThreshold is how close a digit-corrected value must land
	// to the previous price to count as a fit.
	correctionFitThreshold = 0.15
)

// Validation is the outcome of the change and range checks for one
// extracted price.
type Validation struct {
	Status models.ValidationStatus
	// Price is the accepted value, possibly digit-corrected. Meaningless
	// unless Status is a passing one.
	Price            float64
	RequiresApproval bool
	// Corrected is true when a digit-correction heuristic adjusted the raw
	// extracted value.
	Corrected bool
	Reason    string
}

// Validator applies the range check, the change thresholds, and the digit
// correction heuristics.
type Validator struct {
	approvalThreshold float64
	reviewThreshold   float64
}

func NewValidator(approvalThreshold, reviewThreshold float64) *Validator {
	if approvalThreshold <= 0 {
		approvalThreshold = defaultApprovalThreshold
	}
	if reviewThreshold <= approvalThreshold {
		reviewThreshold = defaultReviewThreshold
	}
	return &Validator{approvalThreshold: approvalThreshold, reviewThreshold: reviewThreshold}
}

// Validate checks an extracted price against the site bounds and the
// machine's previous price. previous is nil for first-time extractions,
// which skip the change check entirely.
func (v *Validator) Validate(price float64, previous *float64, rule *siterules.SiteRule, variant *siterules.VariantRule) Validation {
	if !inRange(price, rule, variant) {
		return Validation{
			Status: models.ValidationOutOfRange,
			Price:  price,
			Reason: "price outside configured range",
		}
	}

	if previous == nil || *previous == 0 {
		return Validation{Status: models.ValidationPass, Price: price}
	}

	delta := math.Abs(price-*previous) / *previous
	switch {
	case delta <= v.approvalThreshold:
		return Validation{Status: models.ValidationPass, Price: price}
	case delta <= v.reviewThreshold:
		// Still a pass: the value is plausible, it just moved enough that a
		// human should sign off before it replaces the current price.
		return Validation{
			Status:           models.ValidationPass,
			Price:            price,
			RequiresApproval: true,
			Reason:           string(models.ValidationChangeExceeded),
		}
	default:
		return v.attemptCorrection(price, *previous, rule, variant)
	}
}

// attemptCorrection tries the digit heuristics on a wildly changed value.
// Scrapes that drop a trailing zero ("1,849" read as 184.9) or pick up a
// stray digit are off from the previous price by a power of ten; a single
// unique adjustment that lands near the previous price is accepted, still
// gated behind approval.
func (v *Validator) attemptCorrection(price, previous float64, rule *siterules.SiteRule, variant *siterules.VariantRule) Validation {
	var fits []float64

	adjusted := price
	for i := 0; i < 3; i++ {
		adjusted *= 10
		if correctionFits(adjusted, previous, rule, variant) {
			fits = append(fits, priceparse.Round(adjusted))
		}
	}
	if down := price / 10; correctionFits(down, previous, rule, variant) {
		fits = append(fits, priceparse.Round(down))
	}

	if rule != nil && rule.AllowAggressiveCorrection {
		fits = append(fits, aggressiveCorrections(price, previous, rule, variant)...)
	}

	fits = dedupe(fits)
	if len(fits) == 1 {
		return Validation{
			Status:           models.ValidationPass,
			Price:            fits[0],
			RequiresApproval: true,
			Corrected:        true,
			Reason:           "digit correction applied",
		}
	}

	return Validation{
		Status: models.ValidationNeedsReview,
		Price:  price,
		Reason: "price change exceeds review threshold and no unique correction fits",
	}
}

// aggressiveCorrections covers rarer scrape defects: an integer-cents value
// leaking through ("184900" as units) and a missing leading digit. Enabled
// per site because they misfire on wide catalogs.
func aggressiveCorrections(price, previous float64, rule *siterules.SiteRule, variant *siterules.VariantRule) []float64 {
	var fits []float64
	if cents := price / 100; correctionFits(cents, previous, rule, variant) {
		fits = append(fits, priceparse.Round(cents))
	}
	for lead := 1.0; lead <= 9; lead++ {
		magnitude := math.Pow(10, math.Floor(math.Log10(previous)))
		candidate := lead*magnitude + price
		if correctionFits(candidate, previous, rule, variant) {
			fits = append(fits, priceparse.Round(candidate))
		}
	}
	return fits
}

func correctionFits(candidate, previous float64, rule *siterules.SiteRule, variant *siterules.VariantRule) bool {
	if candidate < priceparse.MinPrice || candidate > priceparse.MaxPrice {
		return false
	}
	if !inRange(candidate, rule, variant) {
		return false
	}
	return math.Abs(candidate-previous)/previous <= correctionFitThreshold
}

func inRange(price float64, rule *siterules.SiteRule, variant *siterules.VariantRule) bool {
	if rule != nil && !rule.PriceRange.Contains(price) {
		return false
	}
	if variant != nil && variant.ExpectedPriceRange != nil && !variant.ExpectedPriceRange.Contains(price) {
		return false
	}
	return true
}

func dedupe(vals []float64) []float64 {
	seen := make(map[float64]bool, len(vals))
	var out []float64
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
