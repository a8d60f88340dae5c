package personalization

import (
	"fmt"
	"strings"

	"github.com/serenemind/serenemind-backend/internal/model"
)

const (
	maxRenderedPatterns = 3
	maxRenderedRules    = 5
	ruleConfidenceBar   = 0.7
	lowQualityBar       = 0.5
)

// styleDirectives map a communication style to its behavioral directive.
var styleDirectives = map[string]string{
	"direct":     "Be straightforward and concrete. Skip preambles and get to the point.",
	"gentle":     "Use a soft, reassuring tone. Ease into difficult topics gradually.",
	"analytical": "Explain the reasoning behind suggestions. Use structured, logical framing.",
	"casual":     "Keep the tone relaxed and conversational, like a supportive friend.",
}

var verbosityDirectives = map[string]string{
	"concise":  "Keep responses short: 2-4 sentences unless asked for more.",
	"moderate": "Keep responses to a few short paragraphs at most.",
	"detailed": "Thorough responses are welcome when the topic calls for them.",
}

var formatDirectives = map[string]string{
	"plain":   "Use plain prose without lists or headings.",
	"lists":   "Prefer short bullet lists when giving multiple suggestions.",
	"mixed":   "Mix short prose with occasional lists where it aids clarity.",
}

var emojiDirectives = map[string]string{
	"none":     "Do not use emojis.",
	"sparing":  "Use at most one emoji per response, only when it adds warmth.",
	"frequent": "Emojis are welcome where they fit the tone.",
}

// BuildEnforcementRules renders a decayed profile into a mandatory
// instruction block for the system prompt. Returns "" when the profile
// carries no enforceable signal.
func BuildEnforcementRules(p model.PersonalizationProfile) string {
	var lines []string

	if d, ok := styleDirectives[strings.ToLower(p.CommunicationStyle)]; ok {
		lines = append(lines, fmt.Sprintf("Communication style: %s. %s", p.CommunicationStyle, d))
	}
	if d, ok := verbosityDirectives[strings.ToLower(p.Verbosity)]; ok {
		lines = append(lines, d)
	}
	if d, ok := formatDirectives[strings.ToLower(p.ResponseFormat)]; ok {
		lines = append(lines, d)
	}
	if d, ok := emojiDirectives[strings.ToLower(p.EmojiUsage)]; ok {
		lines = append(lines, d)
	}
	if len(p.AvoidTopics) > 0 {
		lines = append(lines, "Avoid these topics unless the user raises them: "+strings.Join(p.AvoidTopics, ", "))
	}
	if len(p.PreferTopics) > 0 {
		lines = append(lines, "The user responds well to: "+strings.Join(p.PreferTopics, ", "))
	}

	for i, t := range p.Tendencies {
		if i == maxRenderedPatterns {
			break
		}
		lines = append(lines, "Observed pattern: "+t.Pattern)
	}

	rendered := 0
	for _, r := range p.Rules {
		if rendered == maxRenderedRules {
			break
		}
		if r.Confidence <= ruleConfidenceBar {
			continue
		}
		lines = append(lines, fmt.Sprintf("IF %s THEN %s", r.Condition, r.Action))
		rendered++
	}

	if len(lines) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("MANDATORY PERSONALIZATION RULES (follow all of these):\n")
	for _, l := range lines {
		sb.WriteString("- ")
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	if p.DataQuality < lowQualityBar {
		sb.WriteString("Note: personalization signal is limited; prefer neutral defaults when rules conflict.\n")
	}
	return sb.String()
}
