package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/config"
	"github.com/serenemind/serenemind-backend/internal/factextract"
	"github.com/serenemind/serenemind-backend/internal/memcache"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/prompt"
	"github.com/serenemind/serenemind-backend/internal/provider"
	"github.com/serenemind/serenemind-backend/internal/store"
	"github.com/serenemind/serenemind-backend/internal/throttle"
)

// fakeStore is an in-memory store.Store for service tests.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	messages []model.ConversationMessage
	facts    []model.LongTermFact
	profiles map[string]model.PersonalizationProfile
	summary  model.MemoryContextSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]model.Session),
		profiles: make(map[string]model.PersonalizationProfile),
	}
}

func (s *fakeStore) Sessions() store.Sessions { return fakeSessions{s} }
func (s *fakeStore) Messages() store.Messages { return fakeMessages{s} }
func (s *fakeStore) Facts() store.Facts       { return fakeFacts{s} }
func (s *fakeStore) Profiles() store.Profiles { return fakeProfiles{s} }
func (s *fakeStore) Activity() store.Activity { return fakeActivity{s} }

type fakeSessions struct{ s *fakeStore }

func (f fakeSessions) Create(_ context.Context, sess *model.Session) (*model.Session, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.sessions[sess.SessionID] = *sess
	out := *sess
	return &out, nil
}

func (f fakeSessions) Get(_ context.Context, sessionID string) (*model.Session, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	sess, ok := f.s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	out := sess
	return &out, nil
}

type fakeMessages struct{ s *fakeStore }

func (f fakeMessages) Append(_ context.Context, m *model.ConversationMessage) (*model.ConversationMessage, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.messages = append(f.s.messages, *m)
	out := *m
	return &out, nil
}

func (f fakeMessages) ListBySession(_ context.Context, sessionID string) ([]model.ConversationMessage, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.ConversationMessage
	for _, m := range f.s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type fakeFacts struct{ s *fakeStore }

func (f fakeFacts) Insert(_ context.Context, fact *model.LongTermFact) (*model.LongTermFact, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.facts = append(f.s.facts, *fact)
	out := *fact
	return &out, nil
}

func (f fakeFacts) ListByUser(_ context.Context, userID string, limit int) ([]model.LongTermFact, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []model.LongTermFact
	for _, fa := range f.s.facts {
		if fa.UserID == userID {
			out = append(out, fa)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeFacts) GetByIDs(_ context.Context, userID string, factIDs []string) ([]model.LongTermFact, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	want := make(map[string]bool, len(factIDs))
	for _, id := range factIDs {
		want[id] = true
	}
	var out []model.LongTermFact
	for _, fa := range f.s.facts {
		if fa.UserID == userID && want[fa.FactID] {
			out = append(out, fa)
		}
	}
	return out, nil
}

func (f fakeFacts) Touch(_ context.Context, factID string, importance int, ts time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for i := range f.s.facts {
		if f.s.facts[i].FactID == factID {
			f.s.facts[i].Importance = importance
			f.s.facts[i].Timestamp = ts
			return nil
		}
	}
	return fmt.Errorf("fact %s: %w", factID, model.ErrNotFound)
}

func (f fakeFacts) PruneToCap(_ context.Context, userID string, maxFacts int) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var mine []model.LongTermFact
	var others []model.LongTermFact
	for _, fa := range f.s.facts {
		if fa.UserID == userID {
			mine = append(mine, fa)
		} else {
			others = append(others, fa)
		}
	}
	if len(mine) <= maxFacts {
		return 0, nil
	}
	sort.SliceStable(mine, func(i, j int) bool {
		if mine[i].Importance != mine[j].Importance {
			return mine[i].Importance > mine[j].Importance
		}
		return mine[i].Timestamp.After(mine[j].Timestamp)
	})
	deleted := len(mine) - maxFacts
	f.s.facts = append(others, mine[:maxFacts]...)
	return deleted, nil
}

type fakeProfiles struct{ s *fakeStore }

func (f fakeProfiles) Get(_ context.Context, userID string) (*model.PersonalizationProfile, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	p, ok := f.s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	out := p
	return &out, nil
}

func (f fakeProfiles) Put(_ context.Context, p *model.PersonalizationProfile) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.profiles[p.UserID] = *p
	return nil
}

type fakeActivity struct{ s *fakeStore }

func (f fakeActivity) Summary(_ context.Context, _ string) (model.MemoryContextSummary, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.summary, nil
}

func (s *fakeStore) factsForUser(userID string) []model.LongTermFact {
	out, _ := fakeFacts{s}.ListByUser(context.Background(), userID, 0)
	return out
}

// fakeProvider answers every call with a fixed reply, or fails while
// down is set.
type fakeProvider struct {
	mu         sync.Mutex
	reply      string
	down       bool
	calls      int
	lastPrompt string
}

func (p *fakeProvider) respond(prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastPrompt = prompt
	if p.down {
		return "", fmt.Errorf("connect upstream: %w", model.ErrUpstreamUnavailable)
	}
	return p.reply, nil
}

func (p *fakeProvider) prompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPrompt
}

func (p *fakeProvider) Complete(_ context.Context, prompt string, _ provider.Params) (string, error) {
	return p.respond(prompt)
}

func (p *fakeProvider) Stream(_ context.Context, prompt string, _ provider.Params, onDelta func(string)) (string, error) {
	text, err := p.respond(prompt)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		onDelta(word)
	}
	return text, nil
}

func newTestService(t *testing.T, prov *fakeProvider, mutate func(*config.Config)) (*ChatService, *fakeStore) {
	t.Helper()
	cfg := config.NewForTesting()
	if mutate != nil {
		mutate(cfg)
	}
	log := zerolog.Nop()

	st := newFakeStore()
	limiter := throttle.NewLimiter(cfg.UserWindowLimit, cfg.GlobalWindowLimit, time.Duration(cfg.RateWindowSeconds)*time.Second)
	queue := throttle.NewQueue(prov, throttle.Config{
		Depth:             cfg.QueueDepth,
		QueueTimeout:      time.Duration(cfg.QueueTimeoutMS) * time.Millisecond,
		AttemptTimeout:    time.Second,
		MaxRetries:        cfg.MaxRetries,
		RetryInitialDelay: time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
	}, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go queue.Start(ctx)

	cache := memcache.New(time.Duration(cfg.CacheTTLSeconds)*time.Second, cfg.CacheCapacity, log)
	compactor := prompt.NewCompactor(queue, provider.Params{}, log)
	pipeline := factextract.NewPipeline(st.Facts(), cfg.FactCapPerUser, nil, log)

	return NewChatService(st, limiter, queue, cache, compactor, pipeline, cfg, log), st
}

func waitFor(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestChat_SuccessfulExchange(t *testing.T) {
	prov := &fakeProvider{reply: "That sounds hard. Tell me more about it."}
	svc, st := newTestService(t, prov, nil)

	resp, err := svc.Chat(context.Background(), model.ChatRequest{
		Message:   "I have been feeling anxious lately",
		SessionID: "sess-1",
		UserID:    "user-1",
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Response != prov.reply {
		t.Errorf("response = %q, want provider reply", resp.Response)
	}
	if resp.IsFailover {
		t.Error("IsFailover = true on healthy provider")
	}
	if len(resp.Suggestions) == 0 {
		t.Error("expected suggestions for an anxiety-themed message")
	}

	msgs, err := st.Messages().ListBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Errorf("roles = %s, %s; want user, assistant", msgs[0].Role, msgs[1].Role)
	}
	if _, err := st.Sessions().Get(context.Background(), "sess-1"); err != nil {
		t.Errorf("session was not created: %v", err)
	}
}

func TestChat_StreamingDeliversDeltas(t *testing.T) {
	prov := &fakeProvider{reply: "one two three"}
	svc, _ := newTestService(t, prov, nil)

	var mu sync.Mutex
	var chunks []string
	resp, err := svc.Chat(context.Background(), model.ChatRequest{
		Message:   "how was my week",
		SessionID: "sess-stream",
		UserID:    "user-1",
		Stream:    true,
	}, func(chunk string) {
		mu.Lock()
		chunks = append(chunks, chunk)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	mu.Lock()
	joined := strings.Join(chunks, "")
	mu.Unlock()
	if joined != resp.Response {
		t.Errorf("assembled deltas = %q, want %q", joined, resp.Response)
	}
}

// Truncation applies only to the assembled context; the persisted history
// keeps every exchange in full.
func TestChat_HistoryPersistsFullExchanges(t *testing.T) {
	prov := &fakeProvider{reply: "I'm listening."}
	svc, st := newTestService(t, prov, func(cfg *config.Config) {
		cfg.HistoryMaxMessages = 1
		cfg.HistoryMaxTokens = 20
	})

	const turns = 3
	for i := 0; i < turns; i++ {
		_, err := svc.Chat(context.Background(), model.ChatRequest{
			Message:   fmt.Sprintf("turn %d of my day went like this", i),
			SessionID: "sess-long",
			UserID:    "user-1",
		}, nil)
		if err != nil {
			t.Fatalf("Chat turn %d: %v", i, err)
		}
	}

	msgs, err := st.Messages().ListBySession(context.Background(), "sess-long")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(msgs) != 2*turns {
		t.Errorf("persisted %d messages, want %d", len(msgs), 2*turns)
	}
}

func TestChat_ProviderDownServesFallback(t *testing.T) {
	prov := &fakeProvider{down: true}
	svc, st := newTestService(t, prov, func(cfg *config.Config) {
		cfg.MaxRetries = 2
	})

	resp, err := svc.Chat(context.Background(), model.ChatRequest{
		Message:   "I'm struggling and feel so anxious about my exam",
		SessionID: "sess-down",
		UserID:    "user-1",
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.IsFailover {
		t.Error("IsFailover = false, want true after exhausted retries")
	}
	if !strings.Contains(resp.Response, "breathe in for four") {
		t.Errorf("response = %q, want the anxiety grounding template", resp.Response)
	}

	// The fallback exchange is persisted like any other.
	msgs, _ := st.Messages().ListBySession(context.Background(), "sess-down")
	if len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestChat_RateLimitRejection(t *testing.T) {
	prov := &fakeProvider{reply: "ok"}
	svc, _ := newTestService(t, prov, func(cfg *config.Config) {
		cfg.UserWindowLimit = 1
	})

	req := model.ChatRequest{Message: "checking in today", SessionID: "sess-rl", UserID: "user-1"}
	if _, err := svc.Chat(context.Background(), req, nil); err != nil {
		t.Fatalf("first Chat: %v", err)
	}

	_, err := svc.Chat(context.Background(), req, nil)
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("second Chat err = %v, want *RateLimitError", err)
	}
	if !errors.Is(err, model.ErrRateLimited) {
		t.Error("rate limit error does not unwrap to ErrRateLimited")
	}
	if rlErr.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s, want positive", rlErr.RetryAfter)
	}
}

// A theme repeated across turns is admitted once, deduplicated, and has
// its importance raised when it recurs in the lookback window.
func TestChat_RecurringThemeStoredWithBoostedImportance(t *testing.T) {
	prov := &fakeProvider{reply: "Exams can feel like a lot. What part worries you most?"}
	svc, st := newTestService(t, prov, nil)

	const message = "I'm struggling and feel really anxious about my exam"
	for i := 0; i < 3; i++ {
		_, err := svc.Chat(context.Background(), model.ChatRequest{
			Message:   message,
			SessionID: "sess-theme",
			UserID:    "user-1",
		}, nil)
		if err != nil {
			t.Fatalf("Chat turn %d: %v", i, err)
		}
		// Extraction is asynchronous; let each turn settle so the
		// duplicate check sees the prior fact.
		waitFor(t, func() bool { return len(st.factsForUser("user-1")) == 1 })
	}

	waitFor(t, func() bool {
		facts := st.factsForUser("user-1")
		return len(facts) == 1 && facts[0].Importance == 7
	})
	facts := st.factsForUser("user-1")
	if facts[0].Category != model.FactEmotionalTheme {
		t.Errorf("category = %s, want %s", facts[0].Category, model.FactEmotionalTheme)
	}
	if facts[0].Content != message {
		t.Errorf("content = %q, want the original utterance", facts[0].Content)
	}
}

func TestChat_ProfileDeltaShapesPrompt(t *testing.T) {
	prov := &fakeProvider{reply: "Building a routine takes patience."}
	svc, _ := newTestService(t, prov, nil)

	_, err := svc.Chat(context.Background(), model.ChatRequest{
		Message:   "how do I get started",
		SessionID: "sess-delta",
		UserID:    "user-1",
		Profile: &model.ProfileDelta{
			Goals:      []string{"sleep better"},
			Challenges: []string{"racing thoughts at night"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	sent := prov.prompt()
	if !strings.Contains(sent, "sleep better") {
		t.Errorf("prompt missing caller goal: %q", sent)
	}
	if !strings.Contains(sent, "racing thoughts at night") {
		t.Errorf("prompt missing caller challenge: %q", sent)
	}
}

func TestChat_SmallTalkNotStored(t *testing.T) {
	prov := &fakeProvider{reply: "Hello! How are you feeling today?"}
	svc, st := newTestService(t, prov, nil)

	_, err := svc.Chat(context.Background(), model.ChatRequest{
		Message:   "ok thanks, sounds good to me",
		SessionID: "sess-chitchat",
		UserID:    "user-1",
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// Give the async pipeline a moment; it must decide against storage.
	time.Sleep(100 * time.Millisecond)
	if n := len(st.factsForUser("user-1")); n != 0 {
		t.Errorf("stored %d facts from small talk, want 0", n)
	}
}

func TestListSessionMessages_UnknownSession(t *testing.T) {
	prov := &fakeProvider{reply: "ok"}
	svc, _ := newTestService(t, prov, nil)

	_, err := svc.ListSessionMessages(context.Background(), "no-such-session")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
