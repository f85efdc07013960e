package analysis

import (
	"strings"

	"insights-backend/internal/llm"
)

// modelPrice is USD per million tokens.
type modelPrice struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// Longest-prefix matched against the model identifier; order here does not
// matter, matching picks the longest key.
var modelPrices = map[string]modelPrice{
	"gpt-4o":       {inputPerMTok: 2.50, outputPerMTok: 10.00},
	"gpt-4o-mini":  {inputPerMTok: 0.15, outputPerMTok: 0.60},
	"gpt-4.1":      {inputPerMTok: 2.00, outputPerMTok: 8.00},
	"gpt-4.1-mini": {inputPerMTok: 0.40, outputPerMTok: 1.60},
	"gpt-4.1-nano": {inputPerMTok: 0.10, outputPerMTok: 0.40},
	"gpt-5":        {inputPerMTok: 1.25, outputPerMTok: 10.00},
	"gpt-5-mini":   {inputPerMTok: 0.25, outputPerMTok: 2.00},
}

// fallbackPrice is used for unknown models so cost stays an estimate rather
// than silently zero.
var fallbackPrice = modelPrice{inputPerMTok: 1.00, outputPerMTok: 4.00}

func priceForModel(model string) modelPrice {
	normalized := strings.ToLower(strings.TrimSpace(model))
	best := ""
	for prefix := range modelPrices {
		if strings.HasPrefix(normalized, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return fallbackPrice
	}
	return modelPrices[best]
}

// EstimateCost converts endpoint-reported usage into USD for the given model.
func EstimateCost(model string, usage llm.Usage) float64 {
	price := priceForModel(model)
	return float64(usage.PromptTokens)*price.inputPerMTok/1e6 +
		float64(usage.CompletionTokens)*price.outputPerMTok/1e6
}
