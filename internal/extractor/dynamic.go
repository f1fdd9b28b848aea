package extractor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/machlab/pricewatch/internal/browser"
	"github.com/machlab/pricewatch/internal/models"
)

const (
	navigationTimeout = 30 * time.Second
	ajaxSettleWait    = 5 * time.Second
	stepVerifyTimeout = 5 * time.Second
)

// clickableElements is where variant buttons live across the storefronts we
// track: real buttons, link buttons, swatch labels, and option spans.
const clickableElements = "button, a, label, span[role=button], li[role=tab], input[type=radio] + label, span.swatch, div.swatch"

// productScopes are the containers the post-interaction selector search is
// confined to, so bundle and related-product widgets elsewhere on the page
// cannot contaminate the result.
var productScopes = []string{".entry-summary", ".product-main", "#product-main", ".product__main", ".product-page", "main .product"}

// Dynamic drives a headless browser for sites that render or change prices
// with JavaScript: select the machine's variant, wait for the price to
// settle, then run the static strategies on the live DOM.
type Dynamic struct {
	pool   *browser.Pool
	static *Static
	logger *slog.Logger
}

func NewDynamic(pool *browser.Pool, static *Static, logger *slog.Logger) *Dynamic {
	return &Dynamic{
		pool:   pool,
		static: static,
		logger: logger.With("component", "extractor.dynamic"),
	}
}

func (e *Dynamic) Name() string { return "dynamic" }

func (e *Dynamic) Extract(ctx context.Context, req *Request) (*Result, error) {
	if !e.pool.Available() {
		return nil, NewError(CategoryDynamicNavigationFailed, "browser pool unavailable")
	}

	page, err := e.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(CategoryCancelled, ctx.Err(), "acquiring browser page")
		}
		return nil, WrapError(CategoryDynamicNavigationFailed, err, "acquiring browser page")
	}
	defer e.pool.Release(page)

	session := page.Context(ctx)

	if err := e.navigate(session, req.URL); err != nil {
		return nil, err
	}
	e.dismissPopups(session)

	if err := e.runSteps(session, req); err != nil {
		return nil, err
	}

	// Give AJAX price updates a bounded window to land.
	session.Timeout(ajaxSettleWait).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	html, err := session.HTML()
	if err != nil {
		return nil, WrapError(CategoryDynamicNavigationFailed, err, "reading page html")
	}

	res, err := e.extractFromHTML(ctx, req, html)
	if err != nil {
		return nil, err
	}
	res.Tier = models.TierDynamic
	return res, nil
}

func (e *Dynamic) navigate(page *rod.Page, url string) error {
	nav := page.Timeout(navigationTimeout)
	if err := nav.Navigate(url); err != nil {
		return WrapError(CategoryDynamicNavigationFailed, err, "navigating to %s", url)
	}
	if err := nav.WaitLoad(); err != nil {
		return WrapError(CategoryDynamicNavigationFailed, err, "waiting for %s to load", url)
	}
	// Network-idle wait is best effort: heavy storefronts never go fully
	// idle, the load event above is the hard requirement.
	nav.WaitRequestIdle(time.Second, nil, nil, nil)()
	return nil
}

// dismissPopups clears newsletter modals and cookie banners. Best effort,
// never fatal.
func (e *Dynamic) dismissPopups(page *rod.Page) {
	_, err := page.Timeout(3 * time.Second).Eval(`() => {
		for (const el of document.querySelectorAll('body *')) {
			const z = parseInt(getComputedStyle(el).zIndex, 10);
			if (!isNaN(z) && z > 100 && el.offsetHeight > 0) {
				const style = getComputedStyle(el);
				if (style.position === 'fixed' || style.position === 'absolute') {
					el.style.display = 'none';
				}
			}
		}
	}`)
	if err != nil {
		e.logger.Debug("popup hide script failed", "error", err)
	}

	if el, err := page.Timeout(2 * time.Second).ElementR(
		"button, a, [role=button]", `/^(close|dismiss|×|x|no thanks)$/i`); err == nil {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			e.logger.Debug("popup close click failed", "error", err)
		}
	}
}

// runSteps executes the variant-selection sequence. A step that cannot find
// its target fails the tier with DYNAMIC_VARIANT_NOT_FOUND.
func (e *Dynamic) runSteps(page *rod.Page, req *Request) error {
	steps := variantSteps(req)
	for i, step := range steps {
		if err := e.runStep(page, step.Action, step.SelectorOrText, step.Value); err != nil {
			return WrapError(CategoryDynamicVariantNotFound, err,
				"step %d (%s %q) for machine %s", i+1, step.Action, step.SelectorOrText, req.Machine.ID)
		}
		if step.WaitMs > 0 {
			time.Sleep(time.Duration(step.WaitMs) * time.Millisecond)
		}
		if step.VerifyText != "" {
			if _, err := page.Timeout(stepVerifyTimeout).ElementR("body", regexEscapeLiteral(step.VerifyText)); err != nil {
				return WrapError(CategoryDynamicVariantNotFound, err,
					"text %q did not appear after step %d", step.VerifyText, i+1)
			}
		}
	}
	return nil
}

func (e *Dynamic) runStep(page *rod.Page, action, selectorOrText, value string) error {
	switch action {
	case "click":
		el, err := page.Timeout(stepVerifyTimeout).Element(selectorOrText)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	case "click_text":
		el, err := page.Timeout(stepVerifyTimeout).ElementR(clickableElements, "/"+selectorOrText+"/i")
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	case "select":
		el, err := page.Timeout(stepVerifyTimeout).Element(selectorOrText)
		if err != nil {
			return err
		}
		return el.Select([]string{value}, true, rod.SelectorTypeText)
	case "wait":
		return nil
	default:
		return NewError(CategoryDynamicVariantNotFound, "unknown step action %q", action)
	}
}

// extractFromHTML runs the static strategies over the post-interaction DOM,
// scoped to the product container when one exists.
func (e *Dynamic) extractFromHTML(ctx context.Context, req *Request, html string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, WrapError(CategoryDynamicNavigationFailed, err, "parsing rendered html")
	}

	scoped := scopeToProduct(doc)

	scopedReq := *req
	scopedReq.HTML = []byte(html)
	scopedReq.Doc = scoped
	res, err := e.static.Extract(ctx, &scopedReq)
	if err != nil && scoped != doc {
		// Product container found but priceless; try the full page once.
		scopedReq.Doc = doc
		res, err = e.static.Extract(ctx, &scopedReq)
	}
	return res, err
}

// scopeToProduct narrows the document to the main product container when
// one is present.
func scopeToProduct(doc *goquery.Document) *goquery.Document {
	for _, scope := range productScopes {
		container := doc.Find(scope).First()
		if container.Length() == 0 {
			continue
		}
		inner, err := goquery.OuterHtml(container)
		if err != nil {
			continue
		}
		scoped, err := goquery.NewDocumentFromReader(strings.NewReader(inner))
		if err != nil {
			continue
		}
		return scoped
	}
	return doc
}

func regexEscapeLiteral(s string) string {
	replacer := strings.NewReplacer(`/`, `\/`, `(`, `\(`, `)`, `\)`, `[`, `\[`, `]`, `\]`, `.`, `\.`, `*`, `\*`, `+`, `\+`, `?`, `\?`, `$`, `\$`, `^`, `\^`)
	return "/" + replacer.Replace(s) + "/i"
}
