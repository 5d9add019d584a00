// Package pricing maps model identifiers to USD-per-million-token rates and
// computes response cost from token usage.
package pricing

import "strings"

// Rates holds USD per million tokens for each billable token class.
type Rates struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheWritePerMTok float64
	CacheReadPerMTok  float64
}

// Usage is the token breakdown of a single response.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// rateTable maps model family prefixes to rates. Transcripts carry dated
// model IDs (e.g. "claude-sonnet-4-5-20250929"), so lookup is longest-prefix.
var rateTable = map[string]Rates{
	"claude-opus-4":     {InputPerMTok: 15, OutputPerMTok: 75, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
	"claude-sonnet-4":   {InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-haiku-4":    {InputPerMTok: 1, OutputPerMTok: 5, CacheWritePerMTok: 1.25, CacheReadPerMTok: 0.10},
	"claude-3-7-sonnet": {InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4, CacheWritePerMTok: 1, CacheReadPerMTok: 0.08},
	"claude-3-opus":     {InputPerMTok: 15, OutputPerMTok: 75, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25, CacheWritePerMTok: 0.30, CacheReadPerMTok: 0.03},
}

// Lookup returns the rates for a model ID. Unknown models (including the
// empty string and the "<synthetic>" marker) return all-zero rates so their
// tokens are counted but contribute no cost.
func Lookup(model string) Rates {
	if r, ok := rateTable[model]; ok {
		return r
	}
	var best string
	for prefix := range rateTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Rates{}
	}
	return rateTable[best]
}

// Cost returns the USD cost of one response's usage under these rates.
func (r Rates) Cost(u Usage) float64 {
	const mtok = 1_000_000
	return float64(u.InputTokens)/mtok*r.InputPerMTok +
		float64(u.OutputTokens)/mtok*r.OutputPerMTok +
		float64(u.CacheCreationInputTokens)/mtok*r.CacheWritePerMTok +
		float64(u.CacheReadInputTokens)/mtok*r.CacheReadPerMTok
}

// CostFor is shorthand for Lookup(model).Cost(u).
func CostFor(model string, u Usage) float64 {
	return Lookup(model).Cost(u)
}
