package personalization

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/serenemind/serenemind-backend/internal/model"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func weeksAgo(n float64) time.Time {
	return now.Add(-time.Duration(n * float64(7*24) * float64(time.Hour)))
}

func TestDecay_Tendencies(t *testing.T) {
	p := model.PersonalizationProfile{
		DecayRate:    0.05,
		DataQuality:  1.0,
		LastAnalysis: weeksAgo(2),
		Tendencies: []model.BehavioralTendency{
			{Pattern: "fresh", Confidence: 0.8, Frequency: 4, LastObserved: weeksAgo(1)},
			{Pattern: "stale", Confidence: 0.3, Frequency: 2, LastObserved: weeksAgo(10)},
		},
	}
	out := Decay(p, now)

	if len(out.Tendencies) != 1 {
		t.Fatalf("tendencies = %d, want 1 (stale entry dropped)", len(out.Tendencies))
	}
	got := out.Tendencies[0]
	if got.Pattern != "fresh" {
		t.Fatalf("kept %q", got.Pattern)
	}
	// factor = 1 - 1*0.05 = 0.95
	if math.Abs(got.Confidence-0.8*0.95) > 1e-9 {
		t.Errorf("confidence = %v", got.Confidence)
	}
	if math.Abs(got.Frequency-4*0.95) > 1e-9 {
		t.Errorf("frequency = %v", got.Frequency)
	}
}

func TestDecay_FullyDecayedFloorsAtZero(t *testing.T) {
	p := model.PersonalizationProfile{
		DecayRate: 0.05,
		Tendencies: []model.BehavioralTendency{
			// 0.9 confidence, 10 weeks old: factor 0.5, confidence 0.45 kept.
			{Pattern: "old", Confidence: 0.9, LastObserved: weeksAgo(10)},
			// 30 weeks old: factor max(0, 1-1.5) = 0, dropped.
			{Pattern: "ancient", Confidence: 0.9, LastObserved: weeksAgo(30)},
		},
	}
	out := Decay(p, now)
	if len(out.Tendencies) != 1 || out.Tendencies[0].Pattern != "old" {
		t.Fatalf("tendencies = %+v", out.Tendencies)
	}
}

func TestDecay_SortsByConfidenceDesc(t *testing.T) {
	p := model.PersonalizationProfile{
		DecayRate: 0.01,
		Tendencies: []model.BehavioralTendency{
			{Pattern: "weak", Confidence: 0.4, LastObserved: weeksAgo(1)},
			{Pattern: "strong", Confidence: 0.9, LastObserved: weeksAgo(1)},
		},
	}
	out := Decay(p, now)
	if out.Tendencies[0].Pattern != "strong" {
		t.Errorf("order = %+v", out.Tendencies)
	}
}

func TestDecay_RulesFloorAndPriorityOrder(t *testing.T) {
	p := model.PersonalizationProfile{
		DecayRate: 0.05,
		Rules: []model.AdaptationRule{
			{Condition: "late night", Action: "suggest rest", Priority: 1, Confidence: 0.9, LastApplied: weeksAgo(1)},
			{Condition: "exam mention", Action: "offer grounding", Priority: 5, Confidence: 0.9, LastApplied: weeksAgo(1)},
			{Condition: "stale", Action: "noop", Priority: 9, Confidence: 0.31, LastApplied: weeksAgo(10)},
		},
	}
	out := Decay(p, now)

	if len(out.Rules) != 2 {
		t.Fatalf("rules = %d, want 2 (stale 0.31*0.5 <= 0.3 dropped)", len(out.Rules))
	}
	if out.Rules[0].Priority != 5 {
		t.Errorf("not sorted by priority: %+v", out.Rules)
	}
}

func TestDecay_DataQuality(t *testing.T) {
	p := model.PersonalizationProfile{
		DecayRate:    0.1,
		DataQuality:  0.8,
		LastAnalysis: weeksAgo(5),
	}
	out := Decay(p, now)
	// factor = 1 - 5*0.1 = 0.5
	if math.Abs(out.DataQuality-0.4) > 1e-9 {
		t.Errorf("dataQuality = %v", out.DataQuality)
	}
}

func TestDecay_DoesNotMutateInput(t *testing.T) {
	p := model.PersonalizationProfile{
		DecayRate: 0.05,
		Tendencies: []model.BehavioralTendency{
			{Pattern: "a", Confidence: 0.8, LastObserved: weeksAgo(1)},
		},
	}
	_ = Decay(p, now)
	if p.Tendencies[0].Confidence != 0.8 {
		t.Error("input profile mutated")
	}
}

func TestBuildEnforcementRules(t *testing.T) {
	p := model.PersonalizationProfile{
		CommunicationStyle: "gentle",
		Verbosity:          "concise",
		ResponseFormat:     "plain",
		EmojiUsage:         "none",
		AvoidTopics:        []string{"weight"},
		PreferTopics:       []string{"outdoor walks"},
		DataQuality:        0.9,
		Tendencies: []model.BehavioralTendency{
			{Pattern: "opens up after small talk", Confidence: 0.9},
			{Pattern: "p2", Confidence: 0.8},
			{Pattern: "p3", Confidence: 0.7},
			{Pattern: "p4 never rendered", Confidence: 0.6},
		},
		Rules: []model.AdaptationRule{
			{Condition: "user mentions exams", Action: "offer grounding first", Priority: 5, Confidence: 0.9},
			{Condition: "low confidence rule", Action: "skipped", Priority: 4, Confidence: 0.5},
		},
	}
	out := BuildEnforcementRules(p)

	for _, want := range []string{
		"MANDATORY PERSONALIZATION RULES",
		"gentle",
		"Keep responses short",
		"plain prose",
		"Do not use emojis",
		"Avoid these topics unless the user raises them: weight",
		"outdoor walks",
		"IF user mentions exams THEN offer grounding first",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "p4 never rendered") {
		t.Error("more than 3 patterns rendered")
	}
	if strings.Contains(out, "skipped") {
		t.Error("low-confidence rule rendered")
	}
	if strings.Contains(out, "personalization signal is limited") {
		t.Error("caveat rendered despite good data quality")
	}
}

func TestBuildEnforcementRules_LowQualityCaveat(t *testing.T) {
	p := model.PersonalizationProfile{
		CommunicationStyle: "direct",
		DataQuality:        0.2,
	}
	out := BuildEnforcementRules(p)
	if !strings.Contains(out, "personalization signal is limited") {
		t.Errorf("missing low-quality caveat:\n%s", out)
	}
}

func TestBuildEnforcementRules_EmptyProfile(t *testing.T) {
	if out := BuildEnforcementRules(model.PersonalizationProfile{}); out != "" {
		t.Errorf("empty profile rendered %q", out)
	}
}

func TestDecay_ExcludedFromEnforcement(t *testing.T) {
	// Confidence 0.9 observed 10 weeks ago at rate 0.05 decays to 0.45 and
	// stays; at 25 weeks the factor hits the zero floor and the pattern
	// must vanish from rendered rules.
	p := model.PersonalizationProfile{
		DecayRate:   0.05,
		DataQuality: 1,
		Tendencies: []model.BehavioralTendency{
			{Pattern: "fully decayed habit", Confidence: 0.9, LastObserved: weeksAgo(25)},
		},
	}
	out := BuildEnforcementRules(Decay(p, now))
	if strings.Contains(out, "fully decayed habit") {
		t.Error("fully decayed tendency rendered")
	}
}
