package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/machlab/pricewatch/internal/models"
)

func newDynamicForHTML() *Dynamic {
	logger := discardLogger()
	return &Dynamic{static: NewStatic(logger), logger: logger}
}

func dynamicRequest() *Request {
	return &Request{
		Machine: &models.Machine{ID: "m-dyn", Name: "Test Machine", Currency: "USD"},
		Domain:  "example.com",
		URL:     "https://example.com/product",
	}
}

func TestDynamicScopesToProductContainer(t *testing.T) {
	// The bundle widget sits before the product summary in document order,
	// so an unscoped sweep would return its price instead.
	html := `<html><body>
		<div class="bundle-offer">
			<span class="price">$4,999.00</span>
		</div>
		<div class="entry-summary">
			<span class="price">$2,599.00</span>
		</div>
	</body></html>`

	res, err := newDynamicForHTML().extractFromHTML(context.Background(), dynamicRequest(), html)
	if err != nil {
		t.Fatalf("extractFromHTML failed: %v", err)
	}
	if res.Price != 2599.00 {
		t.Errorf("price = %v, want 2599.00 (entry-summary scope)", res.Price)
	}
}

func TestDynamicFallsBackToFullPageWhenContainerPriceless(t *testing.T) {
	html := `<html><body>
		<div class="entry-summary">
			<h1>Laser X 60W</h1>
		</div>
		<div class="pricing-panel">
			<span class="price">$3,495.00</span>
		</div>
	</body></html>`

	res, err := newDynamicForHTML().extractFromHTML(context.Background(), dynamicRequest(), html)
	if err != nil {
		t.Fatalf("extractFromHTML failed: %v", err)
	}
	if res.Price != 3495.00 {
		t.Errorf("price = %v, want 3495.00 (full-page fallback)", res.Price)
	}
}

func TestDynamicNoPriceAnywhere(t *testing.T) {
	html := `<html><body>
		<div class="entry-summary"><h1>Laser X</h1></div>
		<p>Contact us for pricing.</p>
	</body></html>`

	if _, err := newDynamicForHTML().extractFromHTML(context.Background(), dynamicRequest(), html); err == nil {
		t.Error("expected error when neither scope yields a price")
	}
}

func TestScopeToProduct(t *testing.T) {
	withContainer := `<html><body>
		<div class="entry-summary"><span class="price">$1,000.00</span></div>
		<div class="related"><span class="price">$9,999.00</span></div>
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(withContainer))
	if err != nil {
		t.Fatalf("parsing test html: %v", err)
	}
	scoped := scopeToProduct(doc)
	if scoped == doc {
		t.Fatal("expected a scoped document when a product container exists")
	}
	if n := scoped.Find(".price").Length(); n != 1 {
		t.Errorf("scoped doc has %d price nodes, want 1", n)
	}

	without := `<html><body><span class="price">$1,000.00</span></body></html>`
	doc, err = goquery.NewDocumentFromReader(strings.NewReader(without))
	if err != nil {
		t.Fatalf("parsing test html: %v", err)
	}
	if scopeToProduct(doc) != doc {
		t.Error("expected the original document when no container matches")
	}
}
