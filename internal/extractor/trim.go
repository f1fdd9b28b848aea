package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// productMetaKeys marks the <meta> entries worth keeping for the model.
var productMetaKeys = []string{"price", "product", "og:title", "og:type", "twitter:data"}

// trimHTML reduces a product page to the fragments a model needs to find
// the price: the title, product metadata, JSON-LD blocks, and the body
// regions whose class or id mentions price or product. Deterministic, so
// repeated runs against the same page cost the same tokens.
func trimHTML(doc *goquery.Document, budget int) string {
	var b strings.Builder

	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		b.WriteString("<title>")
		b.WriteString(title)
		b.WriteString("</title>\n")
	}

	doc.Find("head meta").Each(func(_ int, m *goquery.Selection) {
		key, _ := m.Attr("property")
		if key == "" {
			key, _ = m.Attr("name")
		}
		if key == "" {
			key, _ = m.Attr("itemprop")
		}
		lk := strings.ToLower(key)
		for _, want := range productMetaKeys {
			if strings.Contains(lk, want) {
				content, _ := m.Attr("content")
				b.WriteString(`<meta name="`)
				b.WriteString(key)
				b.WriteString(`" content="`)
				b.WriteString(content)
				b.WriteString("\">\n")
				return
			}
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(`<script type="application/ld+json">`)
		b.WriteString(text)
		b.WriteString("</script>\n")
	})

	doc.Find("body h1").Each(func(_ int, h1 *goquery.Selection) {
		if text := strings.TrimSpace(h1.Text()); text != "" {
			b.WriteString("<h1>")
			b.WriteString(text)
			b.WriteString("</h1>\n")
		}
	})

	body := doc.Find("body").Clone()
	body.Find("script, style, iframe, svg, noscript").Remove()
	for _, section := range topLevelProductSections(body) {
		html, err := goquery.OuterHtml(section)
		if err != nil {
			continue
		}
		b.WriteString(html)
		b.WriteByte('\n')
	}

	out := whitespaceRun.ReplaceAllString(b.String(), " ")
	if budget > 0 && len(out) > budget {
		out = out[:budget]
	}
	return out
}

// topLevelProductSections finds elements whose class or id mentions price
// or product, skipping any that sit inside another match so the output
// carries each region once.
func topLevelProductSections(body *goquery.Selection) []*goquery.Selection {
	matched := body.Find(`[class*="price"], [class*="product"], [id*="price"], [id*="product"]`)
	var out []*goquery.Selection
	matched.Each(func(_ int, s *goquery.Selection) {
		inside := false
		for parent := s.Parent(); parent.Length() > 0; parent = parent.Parent() {
			if selectionInSet(parent, matched) {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, s)
		}
	})
	return out
}

func selectionInSet(s *goquery.Selection, set *goquery.Selection) bool {
	if len(s.Nodes) == 0 {
		return false
	}
	node := s.Nodes[0]
	for _, n := range set.Nodes {
		if n == node {
			return true
		}
	}
	return false
}
