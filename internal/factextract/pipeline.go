package factextract

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/events"
	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/store"
)

// dedupePrefixLen bounds the substring comparison used for near-duplicate
// detection against existing facts.
const dedupePrefixLen = 50

// Pipeline runs the admission filter chain and applies the storage
// side-effects. Persistence is best-effort: a storage failure is logged
// and swallowed, never surfaced to the chat path.
type Pipeline struct {
	facts      store.Facts
	maxPerUser int
	bus        *events.Bus
	log        zerolog.Logger
}

// NewPipeline constructs the pipeline. bus may be nil; store events are
// then simply not published.
func NewPipeline(facts store.Facts, maxPerUser int, bus *events.Bus, log zerolog.Logger) *Pipeline {
	if maxPerUser <= 0 {
		maxPerUser = 100
	}
	return &Pipeline{facts: facts, maxPerUser: maxPerUser, bus: bus, log: log}
}

func (p *Pipeline) publish(evt events.Event) {
	if p.bus == nil {
		return
	}
	if !p.bus.Publish(evt) {
		p.log.Debug().Str("user", evt.UserID).Msg("event buffer full, dropped")
	}
}

// Process evaluates a candidate against the prior history and, when
// admitted, stores it with de-duplication and cap pruning. The returned
// decision reflects the filter outcome even when storage fails.
func (p *Pipeline) Process(ctx context.Context, c Candidate, history []model.ConversationMessage) Decision {
	d := Evaluate(c, history)
	if !d.Admitted {
		p.log.Debug().Str("user", c.UserID).Str("reason", d.Reason).Msg("fact candidate rejected")
		return d
	}

	if err := p.persist(ctx, c, d); err != nil {
		p.log.Error().Err(err).Str("user", c.UserID).Msg("fact persistence failed")
	}
	return d
}

func (p *Pipeline) persist(ctx context.Context, c Candidate, d Decision) error {
	existing, err := p.facts.ListByUser(ctx, c.UserID, 0)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if dup := findNearDuplicate(existing, c.Content); dup != nil {
		importance := dup.Importance
		if d.Importance > importance {
			importance = d.Importance
		}
		if err := p.facts.Touch(ctx, dup.FactID, importance, now); err != nil {
			return err
		}
		p.publish(events.Event{Kind: events.FactReinforced, UserID: c.UserID, FactID: dup.FactID})
		return nil
	}

	fact := &model.LongTermFact{
		FactID:     uuid.NewString(),
		UserID:     c.UserID,
		Category:   d.Category,
		Content:    c.Content,
		Importance: d.Importance,
		Tags:       d.Tags,
		Context:    c.Context,
		Timestamp:  now,
	}
	if _, err := p.facts.Insert(ctx, fact); err != nil {
		return err
	}
	p.publish(events.Event{Kind: events.FactStored, UserID: c.UserID, FactID: fact.FactID})

	pruned, err := p.facts.PruneToCap(ctx, c.UserID, p.maxPerUser)
	if err != nil {
		return err
	}
	if pruned > 0 {
		p.log.Info().Str("user", c.UserID).Int("pruned", pruned).Msg("fact cap enforced")
	}
	return nil
}

// findNearDuplicate matches on the first dedupePrefixLen characters in
// either direction.
func findNearDuplicate(existing []model.LongTermFact, content string) *model.LongTermFact {
	needle := strings.ToLower(prefix(content, dedupePrefixLen))
	if needle == "" {
		return nil
	}
	for i := range existing {
		have := strings.ToLower(prefix(existing[i].Content, dedupePrefixLen))
		if strings.Contains(have, needle) || strings.Contains(needle, have) {
			return &existing[i]
		}
	}
	return nil
}

func prefix(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
