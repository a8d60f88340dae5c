package model

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one append-only history entry owned by a session.
// The persisted record is never truncated or mutated; prompt assembly works
// on derived copies only.
type ConversationMessage struct {
	MessageID string    `json:"messageId"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session groups messages for one user conversation.
type Session struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	CreationTime time.Time `json:"creationTime"`
}

// FactCategory is the closed set of long-term fact categories.
type FactCategory string

const (
	FactEmotionalTheme FactCategory = "emotional_theme"
	FactCopingPattern  FactCategory = "coping_pattern"
	FactGoal           FactCategory = "goal"
	FactTrigger        FactCategory = "trigger"
	FactInsight        FactCategory = "insight"
	FactPreference     FactCategory = "preference"
	FactPerson         FactCategory = "person"
	FactSchool         FactCategory = "school"
	FactOrganization   FactCategory = "organization"
)

// AllFactCategories enumerates every valid category. Keep in sync with the
// constants above; the categorizer must only emit values from this list.
var AllFactCategories = []FactCategory{
	FactEmotionalTheme,
	FactCopingPattern,
	FactGoal,
	FactTrigger,
	FactInsight,
	FactPreference,
	FactPerson,
	FactSchool,
	FactOrganization,
}

// Valid reports whether c is one of the known categories.
func (c FactCategory) Valid() bool {
	for _, k := range AllFactCategories {
		if c == k {
			return true
		}
	}
	return false
}

// LongTermFact is a durable, categorized, importance-ranked statement about
// a user, produced only by the extraction pipeline.
type LongTermFact struct {
	FactID     string       `json:"factId"`
	UserID     string       `json:"userId"`
	Category   FactCategory `json:"category"`
	Content    string       `json:"content"`
	Importance int          `json:"importance"` // 1..10
	Tags       []string     `json:"tags,omitempty"`
	Context    string       `json:"context,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// BehavioralTendency is one decaying observation about how the user behaves.
type BehavioralTendency struct {
	Pattern      string    `json:"pattern"`
	Confidence   float64   `json:"confidence"`
	Frequency    float64   `json:"frequency"`
	LastObserved time.Time `json:"lastObserved"`
}

// AdaptationRule is a conditional styling rule derived by the external
// analysis job.
type AdaptationRule struct {
	Condition   string    `json:"condition"`
	Action      string    `json:"action"`
	Priority    int       `json:"priority"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source,omitempty"`
	LastApplied time.Time `json:"lastApplied"`
}

// PersonalizationProfile is the decaying set of inferred preferences and
// rules governing response style. The decay engine mutates only in-memory
// copies; the persisted profile is written by the external analysis job.
type PersonalizationProfile struct {
	UserID             string               `json:"userId"`
	CommunicationStyle string               `json:"communicationStyle,omitempty"`
	Verbosity          string               `json:"verbosity,omitempty"`
	ResponseFormat     string               `json:"responseFormat,omitempty"`
	EmojiUsage         string               `json:"emojiUsage,omitempty"`
	AvoidTopics        []string             `json:"avoidTopics,omitempty"`
	PreferTopics       []string             `json:"preferTopics,omitempty"`
	Tendencies         []BehavioralTendency `json:"tendencies,omitempty"`
	Rules              []AdaptationRule     `json:"rules,omitempty"`
	DecayRate          float64              `json:"decayRate"` // per week
	DataQuality        float64              `json:"dataQuality"`
	LastAnalysis       time.Time            `json:"lastAnalysis"`
	Version            int                  `json:"version"`
}

// MemoryContextSummary is the collaborator-facing snapshot of what other
// subsystems have recorded for the user.
type MemoryContextSummary struct {
	HasJournalData    bool      `json:"hasJournalData"`
	HasMeditationData bool      `json:"hasMeditationData"`
	HasMoodData       bool      `json:"hasMoodData"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// ProfileDelta carries caller-supplied profile hints on a chat request.
// Each field is length- and count-capped by validation.
type ProfileDelta struct {
	Goals              []string `json:"goals,omitempty"`
	Challenges         []string `json:"challenges,omitempty"`
	CommunicationStyle string   `json:"communicationStyle,omitempty"`
	ExperienceLevel    string   `json:"experienceLevel,omitempty"`
	Bio                string   `json:"bio,omitempty"`
}

// ChatRequest is the inbound collaborator contract.
type ChatRequest struct {
	Message       string        `json:"message"`
	SessionID     string        `json:"sessionId"`
	UserID        string        `json:"userId"`
	Profile       *ProfileDelta `json:"profile,omitempty"`
	RecentFactIDs []string      `json:"recentFactIds,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

// ChatResponse is the outbound collaborator contract.
type ChatResponse struct {
	Response               string               `json:"response"`
	Suggestions            []string             `json:"suggestions,omitempty"`
	IsFailover             bool                 `json:"isFailover"`
	MemoryContext          MemoryContextSummary `json:"memoryContext"`
	PersonalizationVersion int                  `json:"personalizationVersion"`
}
