// Package factextract decides whether a conversation utterance becomes a
// durable long-term memory fact.
package factextract

import (
	"strings"

	"github.com/serenemind/serenemind-backend/internal/model"
)

// Relevance scoring constants. These weights define the observable
// pass/fail boundaries and must not be retuned independently of the tests.
const (
	positiveWeight     = 3
	lowValuePenalty    = 5
	shortPenalty       = 2
	minContentLen      = 10
	relevanceThreshold = 2

	baseImportance      = 5
	highRelevanceScore  = 6
	highRelevanceRank   = 8
	recurringRank       = 7
	explicitRank        = 9
	frequencyThreshold  = 3
	frequencyLookback   = 20
)

// Candidate is one utterance under evaluation.
type Candidate struct {
	UserID  string
	Content string
	Context string
	// Explicit marks a caller-flagged "remember this" directive. It is
	// never derived from the text itself.
	Explicit bool
}

// Decision is the outcome of the admission filter chain.
type Decision struct {
	Admitted       bool
	Reason         string
	Category       model.FactCategory
	Importance     int
	RelevanceScore int
	Frequency      int
	Tags           []string
}

// Evaluate runs the five-stage filter chain over a candidate. It is a pure
// function of the candidate and the prior history; persistence is the
// pipeline's job.
func Evaluate(c Candidate, history []model.ConversationMessage) Decision {
	// Stage 1: privacy, always first, never overridden.
	if name, blocked := privacyBlocked(c.Content); blocked {
		return Decision{Admitted: false, Reason: "privacy:" + name}
	}

	// Stage 2: explicit consent bypasses relevance and frequency.
	if c.Explicit {
		return Decision{
			Admitted:   true,
			Reason:     "explicit_directive",
			Category:   Categorize(c.Content),
			Importance: explicitRank,
			Tags:       keyTerms(c.Content),
		}
	}

	// Stage 3: relevance gate.
	score := RelevanceScore(c.Content)
	if score < relevanceThreshold {
		return Decision{Admitted: false, Reason: "low_relevance", RelevanceScore: score}
	}

	// Stage 4: frequency only boosts, never gates.
	freq := Frequency(c.Content, history)

	// Stage 5: categorization.
	category := Categorize(c.Content)

	importance := baseImportance
	if score >= highRelevanceScore {
		importance = highRelevanceRank
	}
	if freq >= frequencyThreshold {
		if importance < recurringRank {
			importance = recurringRank
		}
		if score >= highRelevanceScore {
			importance = explicitRank
		}
	}

	return Decision{
		Admitted:       true,
		Reason:         "admitted",
		Category:       category,
		Importance:     importance,
		RelevanceScore: score,
		Frequency:      freq,
		Tags:           keyTerms(c.Content),
	}
}

// privacyBlocked reports the first matching privacy pattern, if any.
func privacyBlocked(content string) (string, bool) {
	for _, p := range privacyPatterns {
		if p.re.MatchString(content) {
			return p.name, true
		}
	}
	return "", false
}

// RelevanceScore applies the positive and low-value pattern tables plus
// the short-content penalty.
func RelevanceScore(content string) int {
	score := 0
	for _, p := range positivePatterns {
		if p.re.MatchString(content) {
			score += positiveWeight
		}
	}
	for _, p := range lowValuePatterns {
		if p.re.MatchString(content) {
			score -= lowValuePenalty
		}
	}
	if len(content) < minContentLen {
		score -= shortPenalty
	}
	return score
}

// Frequency counts how many of the last frequencyLookback history messages
// share at least one key term with the candidate.
func Frequency(content string, history []model.ConversationMessage) int {
	terms := keyTerms(content)
	if len(terms) == 0 {
		return 0
	}
	termSet := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		termSet[t] = struct{}{}
	}

	start := 0
	if len(history) > frequencyLookback {
		start = len(history) - frequencyLookback
	}
	count := 0
	for _, m := range history[start:] {
		for _, t := range keyTerms(m.Content) {
			if _, ok := termSet[t]; ok {
				count++
				break
			}
		}
	}
	return count
}

// Categorize maps content onto the first matching category bucket,
// defaulting to insight.
func Categorize(content string) model.FactCategory {
	for _, b := range categoryBuckets {
		if b.re.MatchString(content) {
			return b.category
		}
	}
	return model.FactInsight
}

// keyTerms extracts lowercase, stop-word-filtered tokens of length >= 3.
func keyTerms(content string) []string {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
