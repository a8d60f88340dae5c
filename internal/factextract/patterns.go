package factextract

import (
	"regexp"

	"github.com/serenemind/serenemind-backend/internal/model"
)

// Declarative pattern tables. Keep these data-driven so the filter stages
// stay pure and unit-testable in isolation.

// privacyPatterns hard-block a candidate regardless of any other stage,
// including explicit remember directives.
var privacyPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"credit_card", regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)},
	{"password", regexp.MustCompile(`(?i)\bmy password (?:is|was)\b|\bpassword\s*[:=]\s*\S+`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"sensitive_diagnosis", regexp.MustCompile(`(?i)\bdiagnosed with (?:hiv|aids|hepatitis)\b|\bmy (?:hiv|std) status\b`)},
	{"account_number", regexp.MustCompile(`(?i)\b(?:my )?account number (?:is|was)\b`)},
}

// positivePatterns each add +3 to the relevance score.
var positivePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"stated_name", regexp.MustCompile(`(?i)\bmy name is\b|\bcall me\b`)},
	{"preference", regexp.MustCompile(`(?i)\bi (?:really |always |usually )?(?:like|love|prefer|enjoy|hate|dislike)\b`)},
	{"ongoing_project", regexp.MustCompile(`(?i)\bi(?:'m| am) working on\b|\bmy project\b`)},
	{"goal", regexp.MustCompile(`(?i)\bmy goal\b|\bi want to\b|\bi(?:'m| am) trying to\b|\bi hope to\b`)},
	{"challenge", regexp.MustCompile(`(?i)\bi struggle with\b|\bi(?:'m| am) struggling\b|\bit(?:'s| is) hard for me\b|\bi have trouble\b`)},
	{"style_request", regexp.MustCompile(`(?i)\bplease (?:be|keep|use|don'?t)\b|\btalk to me\b|\bkeep (?:it|your (?:answers|responses))\b`)},
}

// lowValuePatterns each subtract 5 from the relevance score.
var lowValuePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"filler", regexp.MustCompile(`(?i)^\s*(?:ok(?:ay)?|yes|no|yeah|nah|sure|thanks|thank you|hm+|lol|haha)\b`)},
	{"retraction", regexp.MustCompile(`(?i)\bnever ?mind\b|\bforget (?:it|that|what i said)\b|\bignore that\b`)},
	{"test_phrase", regexp.MustCompile(`(?i)^\s*(?:test(?:ing)?|hello\?*|asdf)\s*$`)},
}

// categoryBuckets map keyword hits to fact categories. Order matters: the
// first matching bucket wins, so emotional themes outrank the school or
// work context they appear in.
var categoryBuckets = []struct {
	category model.FactCategory
	re       *regexp.Regexp
}{
	{model.FactEmotionalTheme, regexp.MustCompile(`(?i)\b(?:anxious|anxiety|sad|sadness|depress\w*|angry|anger|lonely|loneliness|overwhelm\w*|stress\w*|afraid|scared|worried|panic\w*|grief)\b`)},
	{model.FactTrigger, regexp.MustCompile(`(?i)\btriggers?\b|\bsets me off\b|\bwhenever .* i (?:feel|get)\b`)},
	{model.FactCopingPattern, regexp.MustCompile(`(?i)\b(?:breathing|meditat\w*|journal\w*|grounding|cop(?:e|ing)|exercise|walks?)\b`)},
	{model.FactGoal, regexp.MustCompile(`(?i)\bmy goal\b|\bi want to\b|\bi hope to\b|\bi(?:'m| am) trying to\b|\bi plan to\b`)},
	{model.FactPreference, regexp.MustCompile(`(?i)\bi (?:really )?(?:like|love|prefer|enjoy|hate|dislike)\b|\bfavorite\b`)},
	{model.FactPerson, regexp.MustCompile(`(?i)\bmy (?:friend|mom|mother|dad|father|brother|sister|partner|wife|husband|girlfriend|boyfriend|therapist|roommate)\b`)},
	{model.FactSchool, regexp.MustCompile(`(?i)\b(?:school|class|exams?|college|university|teacher|professor|homework|semester|grades?)\b`)},
	{model.FactOrganization, regexp.MustCompile(`(?i)\b(?:work|job|company|boss|office|coworkers?|manager|team)\b`)},
}

// stopWords are excluded from key-term extraction for the frequency stage.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "had": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "they": {}, "them": {}, "from": {}, "what": {},
	"been": {}, "were": {}, "when": {}, "will": {}, "would": {}, "there": {},
	"their": {}, "about": {}, "just": {}, "like": {}, "some": {}, "into": {},
	"than": {}, "then": {}, "him": {}, "his": {}, "she": {}, "its": {},
	"your": {}, "very": {}, "really": {}, "feel": {}, "feeling": {},
	"today": {}, "still": {},
}
