package services

import "strings"

// suggestionTemplates maps message themes to follow-up prompts offered to
// the client. At most three are returned.
var suggestionTemplates = []struct {
	keywords    []string
	suggestions []string
}{
	{
		keywords: []string{"anxious", "anxiety", "panic", "worried"},
		suggestions: []string{
			"Try a 2-minute breathing exercise",
			"Write down what's worrying you",
			"What usually helps when you feel this way?",
		},
	},
	{
		keywords: []string{"sad", "depressed", "down", "hopeless"},
		suggestions: []string{
			"Log how you're feeling in your mood tracker",
			"Would a short walk be possible right now?",
			"Tell me more about what's been weighing on you",
		},
	},
	{
		keywords: []string{"sleep", "insomnia", "tired", "exhausted"},
		suggestions: []string{
			"Try the wind-down meditation",
			"What does your evening routine look like?",
		},
	},
	{
		keywords: []string{"goal", "plan", "habit"},
		suggestions: []string{
			"Break it into one small step for this week",
			"Add it to your journal so we can track it",
		},
	},
}

var defaultSuggestions = []string{
	"Tell me more about that",
	"How did that make you feel?",
}

// SuggestionsFor picks up to three follow-up prompts matching the user's
// message. Deterministic: first matching theme wins.
func SuggestionsFor(message string) []string {
	lower := strings.ToLower(message)
	for _, t := range suggestionTemplates {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				if len(t.suggestions) > 3 {
					return t.suggestions[:3]
				}
				return t.suggestions
			}
		}
	}
	return defaultSuggestions
}
