package proxy

// ModelPrice holds per-model rates in micro-USD per million tokens.
// $2.50 per million input tokens is stored as 2_500_000.
type ModelPrice struct {
	InputPerMillion  int64
	OutputPerMillion int64
}

// modelPrices covers the models the configured providers currently serve.
// Unknown models fall back to defaultPrice so usage is never metered for
// free just because a provider shipped a new model name.
var modelPrices = map[string]ModelPrice{
	// OpenAI
	"gpt-4o":      {InputPerMillion: 2_500_000, OutputPerMillion: 10_000_000},
	"gpt-4o-mini": {InputPerMillion: 150_000, OutputPerMillion: 600_000},
	"gpt-4.1":     {InputPerMillion: 2_000_000, OutputPerMillion: 8_000_000},
	"gpt-4.1-mini": {
		InputPerMillion:  400_000,
		OutputPerMillion: 1_600_000,
	},
	"o3-mini": {InputPerMillion: 1_100_000, OutputPerMillion: 4_400_000},

	// Anthropic
	"claude-opus-4-20250514":   {InputPerMillion: 15_000_000, OutputPerMillion: 75_000_000},
	"claude-sonnet-4-20250514": {InputPerMillion: 3_000_000, OutputPerMillion: 15_000_000},
	"claude-3-5-haiku-20241022": {
		InputPerMillion:  800_000,
		OutputPerMillion: 4_000_000,
	},
}

var defaultPrice = ModelPrice{
	InputPerMillion:  3_000_000,
	OutputPerMillion: 15_000_000,
}

// PriceFor returns the price card for a model, falling back to the default
func PriceFor(model string) ModelPrice {
	if p, ok := modelPrices[model]; ok {
		return p
	}
	return defaultPrice
}

// CostFor converts a usage record into micro-USD
func CostFor(model string, u Usage) int64 {
	p := PriceFor(model)
	return u.InputTokens*p.InputPerMillion/1_000_000 +
		u.OutputTokens*p.OutputPerMillion/1_000_000
}
