// Package siterules holds the per-domain extraction rules: which selectors
// to try, which page regions to avoid, sanity price bounds, and per-machine
// variant overrides. The table is loaded once at startup and never mutated;
// learned selectors live on the Machine record, not here.
package siterules

// SiteType classifies a storefront so extractors can pick a strategy.
type SiteType string

const (
	TypeShopify     SiteType = "SHOPIFY"
	TypeWooCommerce SiteType = "WOOCOMMERCE"
	TypeStaticTable SiteType = "STATIC_TABLE"
	TypeGeneric     SiteType = "GENERIC"
	TypeJSRequired  SiteType = "JS_REQUIRED"
)

// PriceRange is [Min, Max] sanity bounds in the site's local currency.
type PriceRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether p falls inside the range. A zero-valued range
// accepts everything.
func (r PriceRange) Contains(p float64) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return p >= r.Min && p <= r.Max
}

// Step is one action in a declarative variant-selection sequence, executed
// in order by the dynamic extractor.
type Step struct {
	// Action is one of "click", "click_text", "select", "wait".
	Action string `yaml:"action" json:"action"`
	// SelectorOrText is a CSS selector for "click"/"select", visible button
	// text (regex allowed) for "click_text", unused for "wait".
	SelectorOrText string `yaml:"selector_or_text" json:"selector_or_text"`
	// Value is the option value for "select".
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
	// WaitMs is how long to pause after the action completes.
	WaitMs int `yaml:"wait_ms" json:"wait_ms"`
	// VerifyText, when set, must appear on the page after the step.
	VerifyText string `yaml:"verify_text,omitempty" json:"verify_text,omitempty"`
}

// VariantRule is a per-machine override matched by name keywords. A site
// selling ten laser models on one page uses these to pin down which price
// cell or variant button belongs to which machine.
type VariantRule struct {
	// Keywords are matched case-insensitively as substrings of the machine
	// name. All listed keywords must match.
	Keywords []string `yaml:"keywords" json:"keywords"`
	// URLPattern, when set, must be a substring of the product URL.
	URLPattern string `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	// ColumnIndex selects a cell from a STATIC_TABLE price row (0-based).
	// Nil means no table override.
	ColumnIndex *int `yaml:"column_index,omitempty" json:"column_index,omitempty"`
	// PreferredSelector overrides the site's price selectors for this machine.
	PreferredSelector string `yaml:"preferred_selector,omitempty" json:"preferred_selector,omitempty"`
	// ExpectedPriceRange narrows the site-level range for this variant.
	ExpectedPriceRange *PriceRange `yaml:"expected_price_range,omitempty" json:"expected_price_range,omitempty"`
	// Steps is the variant-selection sequence for the dynamic tier.
	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// SiteRule is the static extraction config for one registrable domain.
type SiteRule struct {
	Domain          string        `yaml:"domain" json:"domain"`
	Type            SiteType      `yaml:"type" json:"type"`
	PriceSelectors  []string      `yaml:"price_selectors" json:"price_selectors"`
	AvoidSelectors  []string      `yaml:"avoid_selectors,omitempty" json:"avoid_selectors,omitempty"`
	AvoidContexts   []string      `yaml:"avoid_contexts,omitempty" json:"avoid_contexts,omitempty"`
	PreferContexts  []string      `yaml:"prefer_contexts,omitempty" json:"prefer_contexts,omitempty"`
	VariantRules    []VariantRule `yaml:"variant_rules,omitempty" json:"variant_rules,omitempty"`
	// HeaderKeywords pick the pricing table on STATIC_TABLE sites. The
	// first table whose header row contains any keyword is used; empty
	// means the first table on the page.
	HeaderKeywords []string   `yaml:"header_keywords,omitempty" json:"header_keywords,omitempty"`
	PriceRange     PriceRange `yaml:"price_range" json:"price_range"`
	RequiresDynamic bool          `yaml:"requires_dynamic,omitempty" json:"requires_dynamic,omitempty"`
	PreferSalePrice bool          `yaml:"prefer_sale_price,omitempty" json:"prefer_sale_price,omitempty"`
	// AllowAggressiveCorrection enables the missing-leading-digit and
	// cents-as-integer heuristics during digit correction. Off by default
	// because they misfire on sites with wide catalogs.
	AllowAggressiveCorrection bool `yaml:"allow_aggressive_correction,omitempty" json:"allow_aggressive_correction,omitempty"`
	// Currency is the ISO 4217 code prices on this site are quoted in.
	Currency string `yaml:"currency,omitempty" json:"currency,omitempty"`
}
