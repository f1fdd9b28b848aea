package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/priceparse"
)

// fromStructuredData scans JSON-LD blocks for a Product offer. Storefront
// themes embed these for search engines and they survive most redesigns,
// which makes them a reliable middle tier.
func (e *Static) fromStructuredData(req *Request) *Result {
	var result *Result
	req.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" || !gjson.Valid(raw) {
			return true
		}
		for _, product := range productNodes(gjson.Parse(raw)) {
			price, currency, ok := offerPrice(product)
			if !ok {
				continue
			}
			if !req.PriceRange().Contains(price) {
				continue
			}
			if currency == "" {
				currency = req.currency()
			}
			result = &Result{
				Price:      price,
				Currency:   currency,
				Tier:       models.TierStructuredData,
				Selector:   "ld+json:offers.price",
				Confidence: 0.85,
			}
			return false
		}
		return true
	})
	return result
}

// productNodes flattens a JSON-LD document into its Product-typed nodes,
// looking through top-level arrays and @graph containers.
func productNodes(root gjson.Result) []gjson.Result {
	var out []gjson.Result
	var walk func(n gjson.Result)
	walk = func(n gjson.Result) {
		if n.IsArray() {
			n.ForEach(func(_, item gjson.Result) bool {
				walk(item)
				return true
			})
			return
		}
		if !n.IsObject() {
			return
		}
		if isProductType(n.Get("@type")) {
			out = append(out, n)
		}
		if g := n.Get("@graph"); g.Exists() {
			walk(g)
		}
	}
	walk(root)
	return out
}

func isProductType(t gjson.Result) bool {
	if t.Type == gjson.String {
		return t.String() == "Product"
	}
	found := false
	t.ForEach(func(_, v gjson.Result) bool {
		if v.String() == "Product" {
			found = true
			return false
		}
		return true
	})
	return found
}

// offerPrice reads the current price from a Product node. Offers may be a
// single object or an array; priceSpecification.price, when present, is the
// current price and plain price the original.
func offerPrice(product gjson.Result) (float64, string, bool) {
	offers := product.Get("offers")
	if !offers.Exists() {
		return 0, "", false
	}
	if offers.IsArray() {
		offers = offers.Get("0")
	}

	currency := offers.Get("priceCurrency").String()

	if spec := offers.Get("priceSpecification.price"); spec.Exists() {
		if p, ok := parseJSONPrice(spec); ok {
			return p, currency, true
		}
	}
	if p := offers.Get("price"); p.Exists() {
		if v, ok := parseJSONPrice(p); ok {
			return v, currency, true
		}
	}
	if low := offers.Get("lowPrice"); low.Exists() {
		if v, ok := parseJSONPrice(low); ok {
			return v, currency, true
		}
	}
	return 0, "", false
}

func parseJSONPrice(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		p := v.Float()
		if p >= priceparse.MinPrice && p <= priceparse.MaxPrice {
			return priceparse.Round(p), true
		}
		return 0, false
	case gjson.String:
		return priceparse.Parse(v.String())
	default:
		return 0, false
	}
}
