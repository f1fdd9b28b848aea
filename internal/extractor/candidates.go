package extractor

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/machlab/pricewatch/internal/priceparse"
	"github.com/machlab/pricewatch/internal/siterules"
)

// ancestorDepth bounds how far up the tree context filtering and sale-price
// detection look. Prices live close to their presentational wrappers.
const ancestorDepth = 4

// candidate is one parsed price found in the DOM, with enough surrounding
// context to apply the selection policy.
type candidate struct {
	price    float64
	selector string
	sel      *goquery.Selection
	docOrder int
	// sale is true when the element sits inside a current/sale-price
	// wrapper; struck is true inside a strikethrough wrapper.
	sale   bool
	struck bool
	// preferred is true when an ancestor matches a prefer_contexts entry.
	preferred bool
}

// collectCandidates gathers every price under the given selector, dropping
// elements disqualified by the site's avoid lists.
func collectCandidates(doc *goquery.Document, selector string, rule *siterules.SiteRule) []candidate {
	var out []candidate
	order := 0
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		order++
		if rule != nil && rejectedByContext(s, rule) {
			return
		}
		price, ok := priceFromElement(s)
		if !ok {
			return
		}
		out = append(out, candidate{
			price:     price,
			selector:  selector,
			sel:       s,
			docOrder:  order,
			sale:      inSaleWrapper(s),
			struck:    inStrikeWrapper(s),
			preferred: rule != nil && inPreferredContext(s, rule),
		})
	})
	return out
}

// priceFromElement parses a price out of one element, preferring machine
// readable attributes over display text.
func priceFromElement(s *goquery.Selection) (float64, bool) {
	if v, ok := s.Attr("content"); ok {
		if p, ok := priceparse.Parse(v); ok {
			return p, true
		}
	}
	for _, attr := range []string{"data-price", "data-product-price", "data-amount"} {
		if v, ok := s.Attr(attr); ok {
			// Shopify-style attributes carry integer cents.
			if p, ok := priceparse.ParseAttr(v); ok {
				return p, true
			}
		}
	}
	return priceparse.Parse(s.Text())
}

// rejectedByContext walks the ancestor chain and drops the element when any
// ancestor matches an avoid selector or carries an avoid-context marker in
// its class, id, or heading text.
func rejectedByContext(s *goquery.Selection, rule *siterules.SiteRule) bool {
	node := s
	for depth := 0; depth <= ancestorDepth && node.Length() > 0; depth++ {
		for _, avoid := range rule.AvoidSelectors {
			if node.Is(avoid) {
				return true
			}
		}
		marker := contextMarker(node)
		for _, ctx := range rule.AvoidContexts {
			if strings.Contains(marker, strings.ToLower(ctx)) {
				return true
			}
		}
		node = node.Parent()
	}
	return false
}

func inPreferredContext(s *goquery.Selection, rule *siterules.SiteRule) bool {
	if len(rule.PreferContexts) == 0 {
		return false
	}
	node := s
	for depth := 0; depth <= ancestorDepth && node.Length() > 0; depth++ {
		marker := contextMarker(node)
		for _, ctx := range rule.PreferContexts {
			if strings.Contains(marker, strings.ToLower(ctx)) {
				return true
			}
		}
		node = node.Parent()
	}
	return false
}

// contextMarker is the text an avoid/prefer substring is matched against:
// the element's class and id plus any heading it contains.
func contextMarker(s *goquery.Selection) string {
	var b strings.Builder
	if v, ok := s.Attr("class"); ok {
		b.WriteString(v)
		b.WriteByte(' ')
	}
	if v, ok := s.Attr("id"); ok {
		b.WriteString(v)
		b.WriteByte(' ')
	}
	s.ChildrenFiltered("h1, h2, h3, h4, h5, h6").Each(func(_ int, h *goquery.Selection) {
		b.WriteString(h.Text())
		b.WriteByte(' ')
	})
	return strings.ToLower(b.String())
}

func inSaleWrapper(s *goquery.Selection) bool {
	node := s
	for depth := 0; depth <= ancestorDepth && node.Length() > 0; depth++ {
		if node.Is("ins, em, strong") {
			return true
		}
		if cls, ok := node.Attr("class"); ok {
			lc := strings.ToLower(cls)
			if strings.Contains(lc, "sale") || strings.Contains(lc, "current") || strings.Contains(lc, "now") {
				return true
			}
		}
		node = node.Parent()
	}
	return false
}

func inStrikeWrapper(s *goquery.Selection) bool {
	node := s
	for depth := 0; depth <= ancestorDepth && node.Length() > 0; depth++ {
		if node.Is("del, s, strike") {
			return true
		}
		node = node.Parent()
	}
	return false
}

// pickCandidate applies the selection policy to the surviving candidates.
// Range membership is an absolute veto over previous-price proximity, so a
// bundle price can never win just by being numerically close to the last
// observed value.
func pickCandidate(cands []candidate, req *Request) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}

	// Preferred-context candidates displace the rest when any exist.
	if pref := filterCandidates(cands, func(c candidate) bool { return c.preferred }); len(pref) > 0 {
		cands = pref
	}

	// Sale-price preference applies only when a strikethrough price is
	// also present, which signals an active discount.
	if req.Rule != nil && req.Rule.PreferSalePrice {
		sale := filterCandidates(cands, func(c candidate) bool { return c.sale && !c.struck })
		struck := filterCandidates(cands, func(c candidate) bool { return c.struck })
		if len(sale) > 0 && len(struck) > 0 {
			cands = sale
		} else if len(struck) > 0 && len(struck) < len(cands) {
			// No explicit sale wrapper: at least drop the struck prices.
			cands = filterCandidates(cands, func(c candidate) bool { return !c.struck })
		}
	}

	if req.VariantRule != nil && req.VariantRule.ExpectedPriceRange != nil {
		rng := *req.VariantRule.ExpectedPriceRange
		inRange := filterCandidates(cands, func(c candidate) bool { return rng.Contains(c.price) })
		if len(inRange) > 0 {
			return closestToPrevious(inRange, req.PreviousPrice), true
		}
		return candidate{}, false
	}

	if req.PreviousPrice != nil && req.Rule != nil {
		best := closestToPrevious(cands, req.PreviousPrice)
		if req.Rule.PriceRange.Contains(best.price) {
			return best, true
		}
		// Closest candidate is out of the site's bounds: fall through to
		// document order among in-range candidates.
		inRange := filterCandidates(cands, func(c candidate) bool { return req.Rule.PriceRange.Contains(c.price) })
		if len(inRange) > 0 {
			return inRange[0], true
		}
		return candidate{}, false
	}

	if req.Rule != nil {
		inRange := filterCandidates(cands, func(c candidate) bool { return req.Rule.PriceRange.Contains(c.price) })
		if len(inRange) > 0 {
			return inRange[0], true
		}
		return candidate{}, false
	}

	return cands[0], true
}

func filterCandidates(cands []candidate, keep func(candidate) bool) []candidate {
	var out []candidate
	for _, c := range cands {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func closestToPrevious(cands []candidate, previous *float64) candidate {
	if previous == nil {
		return cands[0]
	}
	best := cands[0]
	bestDist := math.Abs(best.price - *previous)
	for _, c := range cands[1:] {
		if d := math.Abs(c.price - *previous); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
