package extractor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/priceparse"
)

// currencyGlyphs mark a table row as the price row.
const currencyGlyphs = "$€£¥"

// fromTable handles STATIC_TABLE sites: comparison pages that list every
// model's price in one table. The variant rule's column index picks the
// machine's cell out of the price row.
func (e *Static) fromTable(req *Request) (*Result, error) {
	table := findPricingTable(req)
	if table == nil {
		return nil, NewError(CategoryParseNoPrice, "no pricing table on %s", req.URL)
	}

	row := findPriceRow(table)
	if row == nil {
		return nil, NewError(CategoryParseNoPrice, "no price row in table on %s", req.URL)
	}

	cells := rowPrices(row)
	if len(cells) == 0 {
		return nil, NewError(CategoryParseNoPrice, "price row on %s has no parseable cells", req.URL)
	}

	idx := 0
	if req.VariantRule != nil && req.VariantRule.ColumnIndex != nil {
		idx = *req.VariantRule.ColumnIndex
	}
	if idx < 0 || idx >= len(cells) {
		return nil, NewError(CategoryParseNoPrice, "column %d out of range, price row has %d cells", idx, len(cells))
	}

	price := cells[idx]
	if !req.PriceRange().Contains(price) {
		return nil, NewError(CategoryValidationOutOfRange, "table cell %d on %s parsed %v, outside range", idx, req.URL, price)
	}

	return &Result{
		Price:      price,
		Currency:   req.currency(),
		Tier:       models.TierSiteRule,
		Selector:   fmt.Sprintf("table:col(%d)", idx),
		Confidence: 0.9,
	}, nil
}

// findPricingTable returns the first table whose header contains one of the
// rule's header keywords, or the document's first table when no keywords
// are configured.
func findPricingTable(req *Request) *goquery.Selection {
	tables := req.Doc.Find("table")
	if tables.Length() == 0 {
		return nil
	}

	var keywords []string
	if req.Rule != nil {
		keywords = req.Rule.HeaderKeywords
	}
	if len(keywords) == 0 {
		return tables.First()
	}

	var match *goquery.Selection
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		header := strings.ToLower(t.Find("th").Text() + " " + t.Find("tr").First().Text())
		for _, kw := range keywords {
			if strings.Contains(header, strings.ToLower(kw)) {
				match = t
				return false
			}
		}
		return true
	})
	if match == nil {
		match = tables.First()
	}
	return match
}

// findPriceRow returns the first body row containing a currency glyph.
func findPriceRow(table *goquery.Selection) *goquery.Selection {
	var row *goquery.Selection
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		if strings.ContainsAny(tr.Find("td").Text(), currencyGlyphs) {
			row = tr
			return false
		}
		return true
	})
	return row
}

// rowPrices parses every cell of the price row, keeping only cells that
// hold a price. Label cells ("Price:", model names) drop out so the column
// index counts price cells alone.
func rowPrices(row *goquery.Selection) []float64 {
	var out []float64
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		if p, ok := priceparse.Parse(td.Text()); ok {
			out = append(out, p)
		}
	})
	return out
}
