package llm

import "strings"

// ModelPricing is the cost per million tokens for one model, in USD.
type ModelPricing struct {
	PromptPricePer1M     float64 `json:"prompt_price_per_1m"`
	CompletionPricePer1M float64 `json:"completion_price_per_1m"`
}

// Static rate table. When a model id is missing, the provider default
// applies so cost accounting never silently reports zero for a paid model.
var modelPricing = map[string]ModelPricing{
	"claude-3-5-haiku-20241022":  {PromptPricePer1M: 0.80, CompletionPricePer1M: 4.0},
	"claude-3-5-sonnet-20241022": {PromptPricePer1M: 3.0, CompletionPricePer1M: 15.0},
	"claude-3-haiku-20240307":    {PromptPricePer1M: 0.25, CompletionPricePer1M: 1.25},
	"claude-3-opus-20240229":     {PromptPricePer1M: 15.0, CompletionPricePer1M: 75.0},
	"claude-sonnet-4-20250514":   {PromptPricePer1M: 3.0, CompletionPricePer1M: 15.0},
	"claude-opus-4-20250514":     {PromptPricePer1M: 15.0, CompletionPricePer1M: 75.0},
}

var providerDefaults = map[string]ModelPricing{
	"anthropic": {PromptPricePer1M: 3.0, CompletionPricePer1M: 15.0},
}

// PricingFor returns the rate entry for a model id.
func PricingFor(model string) ModelPricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	// Model families share a prefix ("claude-3-5-haiku-latest" and dated
	// snapshots price the same).
	for id, p := range modelPricing {
		if strings.HasPrefix(model, trimSnapshot(id)) {
			return p
		}
	}
	if strings.HasPrefix(model, "claude") {
		return providerDefaults["anthropic"]
	}
	return ModelPricing{}
}

func trimSnapshot(id string) string {
	if i := strings.LastIndex(id, "-2"); i > 0 && len(id)-i == 9 {
		return id[:i]
	}
	return id
}

// Cost computes the USD cost of one call.
func Cost(model string, inputTokens, outputTokens int64) float64 {
	p := PricingFor(model)
	return float64(inputTokens)/1e6*p.PromptPricePer1M +
		float64(outputTokens)/1e6*p.CompletionPricePer1M
}
