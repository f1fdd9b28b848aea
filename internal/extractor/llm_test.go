package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/machlab/pricewatch/internal/llm"
	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/siterules"
)

// scriptedClient returns a canned model response and records the prompt.
type scriptedClient struct {
	response string
	usage    llm.Usage
	err      error
	lastUser string
}

func (c *scriptedClient) Complete(_ context.Context, _, user string) (string, llm.Usage, error) {
	c.lastUser = user
	return c.response, c.usage, c.err
}

func (c *scriptedClient) Model() string { return "scripted-model" }

func llmTestRule() *siterules.SiteRule {
	return &siterules.SiteRule{
		Domain:     "example.com",
		PriceRange: siterules.PriceRange{Min: 500, Max: 10000},
	}
}

func TestLLMExtractSuccess(t *testing.T) {
	html := `<html><body><div class="product-price"><span class="final">$1,849.00</span></div></body></html>`
	client := &scriptedClient{
		response: `{"price": 1849.00, "currency": "USD", "confidence": 0.9, "selector": ".product-price .final", "explanation": "main product price"}`,
		usage:    llm.Usage{InputTokens: 12000, OutputTokens: 150, CostUSD: 0.0102},
	}
	e := NewLLM(client, 60000, discardLogger())

	req := newRequest(t, html, llmTestRule(), nil)
	res, err := e.Extract(context.Background(), req)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Price != 1849.00 || res.Tier != models.TierLLM {
		t.Errorf("got %v %s", res.Price, res.Tier)
	}
	if res.TokensInput != 12000 || res.CostUSD != 0.0102 {
		t.Errorf("accounting not carried: %+v", res)
	}
	if res.LearnedCandidate == nil {
		t.Fatal("expected verified selector to become a learned candidate")
	}
	if res.LearnedCandidate.Selector != ".product-price .final" {
		t.Errorf("learned selector = %q", res.LearnedCandidate.Selector)
	}
	if res.LearnedCandidate.Method != "llm_verified" {
		t.Errorf("method = %q", res.LearnedCandidate.Method)
	}
}

func TestLLMSelectorFailsVerification(t *testing.T) {
	// Model reports the right price but a selector matching a different
	// value; the price is used, the selector is not learned.
	html := `<html><body>
		<div class="product-price">$1,849.00</div>
		<div class="other">$99.00</div>
	</body></html>`
	client := &scriptedClient{
		response: `{"price": 1849.00, "currency": "USD", "confidence": 0.8, "selector": ".other", "explanation": "price"}`,
	}
	e := NewLLM(client, 60000, discardLogger())

	res, err := e.Extract(context.Background(), newRequest(t, html, llmTestRule(), nil))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.LearnedCandidate != nil {
		t.Error("unverified selector must not be learned")
	}
}

func TestLLMNullPrice(t *testing.T) {
	client := &scriptedClient{
		response: `{"price": null, "currency": "USD", "confidence": 0.3, "selector": null, "explanation": "no price shown"}`,
	}
	e := NewLLM(client, 60000, discardLogger())

	_, err := e.Extract(context.Background(), newRequest(t, "<html><body><div class='product'>x</div></body></html>", llmTestRule(), nil))
	var exErr *Error
	if !errors.As(err, &exErr) || exErr.Category != CategoryParseNoPrice {
		t.Errorf("error = %v, want PARSE_NO_PRICE", err)
	}
}

func TestLLMOutOfRangeRejected(t *testing.T) {
	client := &scriptedClient{
		response: `{"price": 25.00, "currency": "USD", "confidence": 0.9, "selector": null, "explanation": "accessory price"}`,
	}
	e := NewLLM(client, 60000, discardLogger())

	_, err := e.Extract(context.Background(), newRequest(t, "<html><body><div class='product'>x</div></body></html>", llmTestRule(), nil))
	var exErr *Error
	if !errors.As(err, &exErr) || exErr.Category != CategoryValidationOutOfRange {
		t.Errorf("error = %v, want VALIDATION_OUT_OF_RANGE", err)
	}
}

func TestLLMMalformedResponse(t *testing.T) {
	for _, response := range []string{"I think the price is $1849.", "", `{"price": "maybe"}`} {
		client := &scriptedClient{response: response}
		e := NewLLM(client, 60000, discardLogger())
		_, err := e.Extract(context.Background(), newRequest(t, "<html><body><div class='product'>x</div></body></html>", llmTestRule(), nil))
		var exErr *Error
		if !errors.As(err, &exErr) || exErr.Category != CategoryLLMParseFailed {
			t.Errorf("response %q: error = %v, want LLM_PARSE_FAILED", response, err)
		}
	}
}

func TestLLMFencedResponseAccepted(t *testing.T) {
	client := &scriptedClient{
		response: "```json\n{\"price\": 2399, \"currency\": \"USD\", \"confidence\": 0.85, \"selector\": null, \"explanation\": \"ok\"}\n```",
	}
	e := NewLLM(client, 60000, discardLogger())

	res, err := e.Extract(context.Background(), newRequest(t, "<html><body><div class='product'>x</div></body></html>", llmTestRule(), nil))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Price != 2399 {
		t.Errorf("price = %v", res.Price)
	}
}

func TestLLMPayloadBudget(t *testing.T) {
	long := `<html><body><div class="product-description">` +
		strings.Repeat("filler text ", 2000) +
		`</div><div class="price">$1,600.00</div></body></html>`
	client := &scriptedClient{
		response: `{"price": 1600, "currency": "USD", "confidence": 0.9, "selector": null, "explanation": "ok"}`,
	}
	e := NewLLM(client, 500, discardLogger())

	if _, err := e.Extract(context.Background(), newRequest(t, long, llmTestRule(), nil)); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(client.lastUser) > 1000 {
		t.Errorf("payload not truncated: %d chars", len(client.lastUser))
	}
}
