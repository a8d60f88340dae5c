package token

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, c := range cases {
		if got := Estimate(c.in); got != c.want {
			t.Errorf("Estimate(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEstimate_Monotonic(t *testing.T) {
	prev := 0
	s := ""
	for i := 0; i < 200; i++ {
		s += "x"
		got := Estimate(s)
		if got < prev {
			t.Fatalf("estimate decreased at length %d: %d < %d", len(s), got, prev)
		}
		prev = got
	}
}

func TestEstimateAll(t *testing.T) {
	if got := EstimateAll("abcd", "abcd"); got != 2 {
		t.Errorf("EstimateAll = %d, want 2", got)
	}
}
