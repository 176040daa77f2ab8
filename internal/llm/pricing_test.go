package llm

import "testing"

func TestEstimateCost(t *testing.T) {
	// gpt-4o-mini: $0.15/1M prompt, $0.60/1M completion
	cost := EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000)
	if cost != 0.75 {
		t.Errorf("expected 0.75, got %f", cost)
	}
}

func TestPriceFor_LongestPrefixWins(t *testing.T) {
	// gpt-4o-mini-2024 должен попасть в gpt-4o-mini, а не gpt-4o
	mini := priceFor("gpt-4o-mini-2024-07-18")
	if mini.Prompt != 0.15 {
		t.Errorf("expected gpt-4o-mini price, got %f", mini.Prompt)
	}

	full := priceFor("gpt-4o-2024-08-06")
	if full.Prompt != 2.50 {
		t.Errorf("expected gpt-4o price, got %f", full.Prompt)
	}
}

func TestPriceFor_UnknownModel(t *testing.T) {
	price := priceFor("some-exotic-model")
	if price != defaultPrice {
		t.Errorf("unknown model should use default price, got %+v", price)
	}
}
