// Package personalization time-decays behavioral signals and renders them
// into enforceable prompt instructions.
package personalization

import (
	"sort"
	"time"

	"github.com/serenemind/serenemind-backend/internal/model"
)

// Confidence floors below which decayed entries are dropped. These values
// define observable behavior; do not retune them independently of the tests.
const (
	tendencyFloor = 0.2
	ruleFloor     = 0.3
)

// Decay returns a decayed copy of the profile as of now. The input profile
// is never mutated; persistence of decay results is deliberately out of
// the read path.
func Decay(p model.PersonalizationProfile, now time.Time) model.PersonalizationProfile {
	out := p
	out.Tendencies = decayTendencies(p.Tendencies, now, p.DecayRate)
	out.Rules = decayRules(p.Rules, now, p.DecayRate)
	out.DataQuality = p.DataQuality * decayFactor(now, p.LastAnalysis, p.DecayRate)
	return out
}

// decayFactor is max(0, 1 - weeksSince*rate).
func decayFactor(now, last time.Time, rate float64) float64 {
	if last.IsZero() {
		return 0
	}
	weeks := now.Sub(last).Hours() / (7 * 24)
	if weeks < 0 {
		weeks = 0
	}
	f := 1 - weeks*rate
	if f < 0 {
		return 0
	}
	return f
}

func decayTendencies(in []model.BehavioralTendency, now time.Time, rate float64) []model.BehavioralTendency {
	out := make([]model.BehavioralTendency, 0, len(in))
	for _, t := range in {
		f := decayFactor(now, t.LastObserved, rate)
		t.Confidence *= f
		t.Frequency *= f
		if t.Confidence <= tendencyFloor {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func decayRules(in []model.AdaptationRule, now time.Time, rate float64) []model.AdaptationRule {
	out := make([]model.AdaptationRule, 0, len(in))
	for _, r := range in {
		f := decayFactor(now, r.LastApplied, rate)
		r.Confidence *= f
		if r.Confidence <= ruleFloor {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}
