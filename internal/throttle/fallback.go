package throttle

import "strings"

// fallbackTemplates pair message keywords with a ready-made supportive
// reply. First match wins; the default guarantees the chat path always has
// text to return.
var fallbackTemplates = []struct {
	keywords []string
	text     string
}{
	{
		keywords: []string{"anxious", "anxiety", "panic", "panicking"},
		text: "It sounds like anxiety is weighing on you right now. Try a grounding exercise: " +
			"breathe in for four counts, hold for four, and breathe out for four. " +
			"Name five things you can see around you. I'm here when you're ready to keep talking.",
	},
	{
		keywords: []string{"sad", "depressed", "depression", "hopeless", "down"},
		text: "I hear how heavy things feel right now, and it's completely okay to feel this way. " +
			"Your feelings are valid, and you don't have to carry them alone. " +
			"Be gentle with yourself today.",
	},
	{
		keywords: []string{"overwhelmed", "stressed", "stress", "too much"},
		text: "It sounds like a lot is piling up. Try picking just one small thing to focus on " +
			"for the next few minutes and let the rest wait. Small steps count.",
	},
	{
		keywords: []string{"lonely", "alone", "isolated"},
		text: "Feeling alone is hard, and reaching out here already took courage. " +
			"Even small moments of connection matter, and this is one of them.",
	},
	{
		keywords: []string{"sleep", "insomnia", "tired", "exhausted"},
		text: "Rest matters, and struggling with it is exhausting in itself. " +
			"A slow wind-down away from screens and a few long, slow breaths can help signal " +
			"your body that it's safe to rest.",
	},
}

const defaultFallback = "Thank you for sharing that with me. I'm having a little trouble responding " +
	"right now, but what you're feeling matters. Take a slow breath, and know that " +
	"it's okay to take things one moment at a time."

// RateLimitMessage is the ready-made supportive reply for locally
// rate-limited requests.
const RateLimitMessage = "You're sending messages a little faster than I can keep up with. " +
	"Take a short pause, maybe a breath or two, and try again in a moment."

// Fallback selects a deterministic, non-empty reply by matching keywords
// in the original user message.
func Fallback(userMessage string) string {
	lower := strings.ToLower(userMessage)
	for _, t := range fallbackTemplates {
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				return t.text
			}
		}
	}
	return defaultFallback
}
