package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/config"
	"github.com/serenemind/serenemind-backend/internal/factextract"
	"github.com/serenemind/serenemind-backend/internal/memcache"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/personalization"
	"github.com/serenemind/serenemind-backend/internal/prompt"
	"github.com/serenemind/serenemind-backend/internal/provider"
	"github.com/serenemind/serenemind-backend/internal/store"
	"github.com/serenemind/serenemind-backend/internal/throttle"
)

const systemPreamble = "You are a caring mental-health support companion. " +
	"Respond with warmth and empathy. Never diagnose. If the user appears to be " +
	"in crisis, gently encourage them to reach out to a professional or a crisis line."

// factsInBlob bounds how many long-term facts are rendered into the
// assembled context payload.
const factsInBlob = 15

// extractTimeout bounds the asynchronous fact-extraction call so a slow
// store can never hold a goroutine forever.
const extractTimeout = 10 * time.Second

// RateLimitError carries the retry hint for local admission rejection.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return model.ErrRateLimited }

// ChatService orchestrates the context assembly and throttling path for
// one inbound chat message.
type ChatService struct {
	store     store.Store
	limiter   *throttle.Limiter
	queue     *throttle.Queue
	cache     *memcache.Cache
	compactor *prompt.Compactor
	pipeline  *factextract.Pipeline
	cfg       *config.Config
	params    provider.Params
	log       zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewChatService(
	s store.Store,
	limiter *throttle.Limiter,
	queue *throttle.Queue,
	cache *memcache.Cache,
	compactor *prompt.Compactor,
	pipeline *factextract.Pipeline,
	cfg *config.Config,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{
		store:     s,
		limiter:   limiter,
		queue:     queue,
		cache:     cache,
		compactor: compactor,
		pipeline:  pipeline,
		cfg:       cfg,
		params:    provider.Params{Temperature: cfg.ProviderTemperature, TopP: cfg.ProviderTopP},
		log:       log,
		now:       time.Now,
	}
}

// Chat runs the full per-message control flow: admission, context
// assembly, queued provider call, history append, and asynchronous fact
// extraction. onDelta, when non-nil, requests streamed delivery.
//
// The chat path always yields some text: upstream exhaustion and queue
// timeouts degrade to a keyword-matched fallback with IsFailover set
// rather than failing the request.
func (s *ChatService) Chat(ctx context.Context, req model.ChatRequest, onDelta func(string)) (*model.ChatResponse, error) {
	if err := s.limiter.Allow(req.UserID); err != nil {
		return nil, &RateLimitError{RetryAfter: s.limiter.RetryAfter(req.UserID)}
	}

	if err := s.ensureSession(ctx, req); err != nil {
		return nil, err
	}

	history, err := s.store.Messages().ListBySession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	profile := s.profileOrDefault(ctx, req.UserID)
	decayed := personalization.Decay(*profile, s.now())
	// A caller-supplied style hint overrides the stored profile for this
	// request only; nothing is persisted.
	if req.Profile != nil && req.Profile.CommunicationStyle != "" {
		decayed.CommunicationStyle = req.Profile.CommunicationStyle
	}

	blob, err := s.memoryBlob(ctx, req)
	if err != nil {
		// Context assembly is best-effort; the chat must still answer.
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("memory blob build failed")
		blob = ""
	}

	compacted := s.compactor.Compact(ctx, history, s.cfg.HistoryMaxTokens, s.cfg.HistoryMaxMessages)

	promptText := s.assemblePrompt(decayed, req.Profile, blob, compacted, req.Message)

	outcome, err := s.queue.Submit(ctx, throttle.Request{
		Prompt:      promptText,
		UserMessage: req.Message,
		Params:      s.params,
		OnDelta:     onDelta,
	})
	switch {
	case err == nil:
	case errors.Is(err, model.ErrQueueTimeout):
		// Stale work is answered with fallback text, not a hard failure.
		outcome = throttle.Outcome{Text: throttle.Fallback(req.Message), Failover: true}
		s.log.Warn().Str("user_id", req.UserID).Msg("queue residency exceeded, serving fallback")
	default:
		return nil, err
	}

	if err := s.appendExchange(ctx, req, outcome.Text); err != nil {
		return nil, fmt.Errorf("append exchange: %w", err)
	}

	// The lookback window for the frequency stage covers the exchange
	// being appended, not just the prior history.
	window := make([]model.ConversationMessage, 0, len(history)+1)
	window = append(window, history...)
	window = append(window, model.ConversationMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      model.RoleUser,
		Content:   req.Message,
		Timestamp: s.now().UTC(),
	})
	s.extractAsync(req, window)

	memoryContext, err := s.store.Activity().Summary(ctx, req.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("activity summary failed")
		memoryContext = model.MemoryContextSummary{}
	}

	return &model.ChatResponse{
		Response:               outcome.Text,
		Suggestions:            SuggestionsFor(req.Message),
		IsFailover:             outcome.Failover,
		MemoryContext:          memoryContext,
		PersonalizationVersion: profile.Version,
	}, nil
}

func (s *ChatService) ensureSession(ctx context.Context, req model.ChatRequest) error {
	_, err := s.store.Sessions().Get(ctx, req.SessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("load session: %w", err)
	}
	_, err = s.store.Sessions().Create(ctx, &model.Session{
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		CreationTime: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *ChatService) profileOrDefault(ctx context.Context, userID string) *model.PersonalizationProfile {
	p, err := s.store.Profiles().Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("profile load failed")
		}
		return &model.PersonalizationProfile{UserID: userID}
	}
	return p
}

// memoryBlob returns the assembled per-user context payload. An explicit
// recent-fact-id list requests an incremental refresh and bypasses the
// cache entirely; otherwise the blob is looked up or built under the
// user's "latest" key.
func (s *ChatService) memoryBlob(ctx context.Context, req model.ChatRequest) (string, error) {
	if len(req.RecentFactIDs) > 0 {
		facts, err := s.store.Facts().GetByIDs(ctx, req.UserID, req.RecentFactIDs)
		if err != nil {
			return "", err
		}
		summary, err := s.store.Activity().Summary(ctx, req.UserID)
		if err != nil {
			return "", err
		}
		return renderBlob(facts, summary), nil
	}

	key := memcache.Key(req.UserID, "")
	if payload, ok := s.cache.Get(key); ok {
		return payload, nil
	}

	facts, err := s.store.Facts().ListByUser(ctx, req.UserID, factsInBlob)
	if err != nil {
		return "", err
	}
	summary, err := s.store.Activity().Summary(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	payload := renderBlob(facts, summary)
	s.cache.Set(key, payload)
	return payload, nil
}

func renderBlob(facts []model.LongTermFact, summary model.MemoryContextSummary) string {
	var sb strings.Builder
	if len(facts) > 0 {
		sb.WriteString("What you know about this user:\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- [%s] %s\n", f.Category, f.Content)
		}
	}
	var activities []string
	if summary.HasJournalData {
		activities = append(activities, "journaling")
	}
	if summary.HasMeditationData {
		activities = append(activities, "meditation")
	}
	if summary.HasMoodData {
		activities = append(activities, "mood tracking")
	}
	if len(activities) > 0 {
		sb.WriteString("The user is active in: " + strings.Join(activities, ", ") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *ChatService) assemblePrompt(decayed model.PersonalizationProfile, delta *model.ProfileDelta, blob string, compacted prompt.CompactResult, message string) string {
	sections := []string{systemPreamble}
	if rules := personalization.BuildEnforcementRules(decayed); rules != "" {
		sections = append(sections, rules)
	}
	if hints := renderDelta(delta); hints != "" {
		sections = append(sections, hints)
	}
	if blob != "" {
		sections = append(sections, blob)
	}
	if history := prompt.Render(compacted); history != "" {
		sections = append(sections, history)
	}
	sections = append(sections, "user: "+message+"\nassistant:")
	return strings.Join(sections, "\n\n")
}

// renderDelta turns caller-supplied profile hints into a prompt section.
func renderDelta(delta *model.ProfileDelta) string {
	if delta == nil {
		return ""
	}
	var sb strings.Builder
	if len(delta.Goals) > 0 {
		sb.WriteString("The user's goals: " + strings.Join(delta.Goals, ", ") + "\n")
	}
	if len(delta.Challenges) > 0 {
		sb.WriteString("The user's current challenges: " + strings.Join(delta.Challenges, ", ") + "\n")
	}
	if delta.ExperienceLevel != "" {
		sb.WriteString("The user's experience with mental-health practice: " + delta.ExperienceLevel + "\n")
	}
	if delta.Bio != "" {
		sb.WriteString("About the user: " + delta.Bio + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// appendExchange persists the full, untruncated exchange. This happens
// only after a response, fallback or real, was obtained.
func (s *ChatService) appendExchange(ctx context.Context, req model.ChatRequest, response string) error {
	now := s.now().UTC()
	_, err := s.store.Messages().Append(ctx, &model.ConversationMessage{
		MessageID: uuid.New().String(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      model.RoleUser,
		Content:   req.Message,
		Timestamp: now,
	})
	if err != nil {
		return err
	}
	_, err = s.store.Messages().Append(ctx, &model.ConversationMessage{
		MessageID: uuid.New().String(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      model.RoleAssistant,
		Content:   response,
		Timestamp: now.Add(time.Millisecond),
	})
	return err
}

// extractAsync evaluates the new utterance for long-term storage off the
// request path. Failures are logged inside the pipeline and never affect
// the chat response.
func (s *ChatService) extractAsync(req model.ChatRequest, history []model.ConversationMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
		defer cancel()
		s.pipeline.Process(ctx, factextract.Candidate{
			UserID:  req.UserID,
			Content: req.Message,
			Context: "chat",
		}, history)
	}()
}

// ListSessionMessages returns the full persisted history for a session.
func (s *ChatService) ListSessionMessages(ctx context.Context, sessionID string) ([]model.ConversationMessage, error) {
	if _, err := s.store.Sessions().Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Messages().ListBySession(ctx, sessionID)
}
