package pricing

import (
	"math"
	"testing"
)

func TestLookupPrefixMatch(t *testing.T) {
	tests := []struct {
		model     string
		wantInput float64
	}{
		{"claude-sonnet-4-5-20250929", 3},
		{"claude-opus-4-1-20250805", 15},
		{"claude-3-5-haiku-20241022", 0.80},
		{"claude-3-5-sonnet-20241022", 3},
	}
	for _, tt := range tests {
		r := Lookup(tt.model)
		if r.InputPerMTok != tt.wantInput {
			t.Errorf("Lookup(%q).InputPerMTok = %v, want %v", tt.model, r.InputPerMTok, tt.wantInput)
		}
	}
}

func TestLookupPrefersLongestPrefix(t *testing.T) {
	// "claude-3-5-sonnet-..." must match the 3-5 family, not a shorter prefix.
	r := Lookup("claude-3-5-sonnet-latest")
	if r.OutputPerMTok != 15 {
		t.Errorf("expected sonnet output rate 15, got %v", r.OutputPerMTok)
	}
}

func TestLookupUnknownModelIsZero(t *testing.T) {
	for _, model := range []string{"", "<synthetic>", "gpt-4o", "some-future-model"} {
		r := Lookup(model)
		if r != (Rates{}) {
			t.Errorf("Lookup(%q) = %+v, want zero rates", model, r)
		}
	}
}

func TestCost(t *testing.T) {
	r := Rates{InputPerMTok: 3, OutputPerMTok: 15, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30}
	u := Usage{
		InputTokens:              1_000_000,
		OutputTokens:             2_000_000,
		CacheCreationInputTokens: 400_000,
		CacheReadInputTokens:     10_000_000,
	}
	got := r.Cost(u)
	want := 3.0 + 30.0 + 1.5 + 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestCostForUnknownModelIsZero(t *testing.T) {
	u := Usage{InputTokens: 5000, OutputTokens: 5000}
	if got := CostFor("mystery-model", u); got != 0 {
		t.Errorf("CostFor unknown model = %v, want 0", got)
	}
}
