package factextract

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/events"
	"github.com/serenemind/serenemind-backend/internal/model"
)

// --- Fake fact store ---

type fakeFacts struct {
	facts    []model.LongTermFact
	touched  []string
	insertErr error
}

func (f *fakeFacts) Insert(_ context.Context, fact *model.LongTermFact) (*model.LongTermFact, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.facts = append(f.facts, *fact)
	return fact, nil
}

func (f *fakeFacts) ListByUser(_ context.Context, userID string, limit int) ([]model.LongTermFact, error) {
	out := make([]model.LongTermFact, 0, len(f.facts))
	for _, fa := range f.facts {
		if fa.UserID == userID {
			out = append(out, fa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeFacts) GetByIDs(_ context.Context, userID string, ids []string) ([]model.LongTermFact, error) {
	return nil, nil
}

func (f *fakeFacts) Touch(_ context.Context, factID string, importance int, ts time.Time) error {
	f.touched = append(f.touched, factID)
	for i := range f.facts {
		if f.facts[i].FactID == factID {
			f.facts[i].Importance = importance
			f.facts[i].Timestamp = ts
		}
	}
	return nil
}

func (f *fakeFacts) PruneToCap(_ context.Context, userID string, maxFacts int) (int, error) {
	kept, _ := f.ListByUser(context.Background(), userID, 0)
	if len(kept) <= maxFacts {
		return 0, nil
	}
	drop := kept[maxFacts:]
	dropIDs := map[string]bool{}
	for _, d := range drop {
		dropIDs[d.FactID] = true
	}
	var remain []model.LongTermFact
	for _, fa := range f.facts {
		if !dropIDs[fa.FactID] {
			remain = append(remain, fa)
		}
	}
	f.facts = remain
	return len(drop), nil
}

func TestPipeline_StoresAdmittedFact(t *testing.T) {
	fs := &fakeFacts{}
	p := NewPipeline(fs, 100, nil, zerolog.Nop())

	d := p.Process(context.Background(), Candidate{
		UserID:  "u1",
		Content: "my name is Ada and I like chess",
	}, nil)

	if !d.Admitted {
		t.Fatalf("expected admission: %+v", d)
	}
	if len(fs.facts) != 1 {
		t.Fatalf("stored %d facts, want 1", len(fs.facts))
	}
	if fs.facts[0].Importance != 8 {
		t.Errorf("importance = %d, want 8", fs.facts[0].Importance)
	}
	if fs.facts[0].FactID == "" {
		t.Error("missing fact id")
	}
}

func TestPipeline_NearDuplicateTouchesInsteadOfInsert(t *testing.T) {
	fs := &fakeFacts{facts: []model.LongTermFact{{
		FactID:     "existing",
		UserID:     "u1",
		Content:    "my name is Ada and I like chess",
		Importance: 5,
	}}}
	p := NewPipeline(fs, 100, nil, zerolog.Nop())

	p.Process(context.Background(), Candidate{
		UserID:  "u1",
		Content: "my name is Ada and I like chess very much",
	}, nil)

	if len(fs.facts) != 1 {
		t.Fatalf("duplicate inserted: %d facts", len(fs.facts))
	}
	if len(fs.touched) != 1 || fs.touched[0] != "existing" {
		t.Fatalf("expected touch of existing fact, got %v", fs.touched)
	}
	if fs.facts[0].Importance != 8 {
		t.Errorf("importance not raised: %d", fs.facts[0].Importance)
	}
}

func TestPipeline_PrunesBeyondCap(t *testing.T) {
	fs := &fakeFacts{}
	for i := 0; i < 3; i++ {
		fs.facts = append(fs.facts, model.LongTermFact{
			FactID:     string(rune('a' + i)),
			UserID:     "u1",
			Content:    differentContent(i),
			Importance: i + 1,
		})
	}
	p := NewPipeline(fs, 3, nil, zerolog.Nop())

	p.Process(context.Background(), Candidate{
		UserID:  "u1",
		Content: "my name is Zoe and I love climbing",
	}, nil)

	if len(fs.facts) != 3 {
		t.Fatalf("cap not enforced: %d facts", len(fs.facts))
	}
	// Lowest-importance fact (importance 1) should be gone.
	for _, fa := range fs.facts {
		if fa.Importance == 1 {
			t.Error("lowest-importance fact survived pruning")
		}
	}
}

func TestPipeline_StorageErrorSwallowed(t *testing.T) {
	fs := &fakeFacts{insertErr: errors.New("db down")}
	p := NewPipeline(fs, 100, nil, zerolog.Nop())

	d := p.Process(context.Background(), Candidate{
		UserID:  "u1",
		Content: "my name is Ada and I like chess",
	}, nil)

	if !d.Admitted {
		t.Fatal("storage failure must not flip the decision")
	}
}

func TestPipeline_PublishesStoreEvents(t *testing.T) {
	fs := &fakeFacts{}
	bus := events.NewBus(4)
	p := NewPipeline(fs, 100, bus, zerolog.Nop())

	p.Process(context.Background(), Candidate{
		UserID:  "u1",
		Content: "my name is Ada and I like chess",
	}, nil)
	evt := <-bus.Subscribe()
	if evt.Kind != events.FactStored || evt.UserID != "u1" {
		t.Errorf("first event = %+v, want fact_stored for u1", evt)
	}

	// Same content again reinforces the stored fact.
	p.Process(context.Background(), Candidate{
		UserID:  "u1",
		Content: "my name is Ada and I like chess",
	}, nil)
	evt = <-bus.Subscribe()
	if evt.Kind != events.FactReinforced {
		t.Errorf("second event kind = %s, want fact_reinforced", evt.Kind)
	}
	if evt.FactID != fs.facts[0].FactID {
		t.Errorf("event fact id = %s, want %s", evt.FactID, fs.facts[0].FactID)
	}
}

func differentContent(i int) string {
	switch i {
	case 0:
		return "journaling before bed helps with winding down"
	case 1:
		return "crowded trains are overwhelming on bad days"
	default:
		return "wants to reconnect with an old friend from college"
	}
}
