// Package token approximates language-model token costs for prompt budgeting.
package token

// Estimate returns the approximate token cost of text, computed as
// ceil(len(text)/4). It is deterministic and monotonic non-decreasing in
// input length; every component that reasons about prompt size uses it.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateAll sums the estimate over each string.
func EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}
	return total
}
