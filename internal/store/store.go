package store

import (
	"context"
	"time"

	"github.com/serenemind/serenemind-backend/internal/model"
)

// Store exposes the durable collaborator stores consumed by the context
// engine. Implementations live under internal/store/<driver>/.
type Store interface {
	Sessions() Sessions
	Messages() Messages
	Facts() Facts
	Profiles() Profiles
	Activity() Activity
}

type Sessions interface {
	Create(ctx context.Context, s *model.Session) (*model.Session, error)
	Get(ctx context.Context, sessionID string) (*model.Session, error)
}

// Messages is the append-only conversation history. There is deliberately
// no update or delete surface: truncation happens only on derived copies.
type Messages interface {
	Append(ctx context.Context, m *model.ConversationMessage) (*model.ConversationMessage, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.ConversationMessage, error)
}

// Facts is the importance-ordered long-term fact store with cap enforcement.
type Facts interface {
	Insert(ctx context.Context, f *model.LongTermFact) (*model.LongTermFact, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.LongTermFact, error)
	GetByIDs(ctx context.Context, userID string, factIDs []string) ([]model.LongTermFact, error)
	// Touch raises a fact's importance and refreshes its timestamp; used
	// when a near-duplicate of higher importance is observed.
	Touch(ctx context.Context, factID string, importance int, ts time.Time) error
	// PruneToCap deletes everything beyond the user's top maxFacts by
	// importance and returns the number deleted.
	PruneToCap(ctx context.Context, userID string, maxFacts int) (int, error)
}

// Profiles reads personalization state. Writes happen in the external
// analysis job; Put exists for that job and for seeding.
type Profiles interface {
	Get(ctx context.Context, userID string) (*model.PersonalizationProfile, error)
	Put(ctx context.Context, p *model.PersonalizationProfile) error
}

// Activity summarizes what the surrounding CRUD subsystems (journal,
// meditation, mood) have recorded for a user.
type Activity interface {
	Summary(ctx context.Context, userID string) (model.MemoryContextSummary, error)
}
