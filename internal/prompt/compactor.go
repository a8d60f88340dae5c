// Package prompt bounds full conversation histories into token-budgeted
// prompt fragments. The persisted history is never touched; compaction
// returns a transient view only.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/serenemind/serenemind-backend/internal/model"
	"github.com/serenemind/serenemind-backend/internal/provider"
	"github.com/serenemind/serenemind-backend/internal/token"
)

const summarizePrompt = "Summarize the following earlier conversation into 2-3 sentences. " +
	"Focus on emotional themes, goals the user mentioned, and progress made.\n\n"

// maxFallbackClauses bounds the deterministic summary when the provider
// is unavailable.
const maxFallbackClauses = 5

// CompactResult is the transient, prompt-only view of a bounded history.
type CompactResult struct {
	RecentMessages []model.ConversationMessage
	Summary        string
	TruncatedCount int
	TotalTokens    int
}

// Compactor produces bounded prompt fragments from unbounded histories.
type Compactor struct {
	completer provider.Completer
	params    provider.Params
	log       zerolog.Logger
}

func NewCompactor(completer provider.Completer, params provider.Params, log zerolog.Logger) *Compactor {
	return &Compactor{completer: completer, params: params, log: log}
}

// Compact bounds messages to maxMessages entries and maxTokens estimated
// tokens, newest first. Excluded messages are summarized; the caller's
// slice is never mutated.
func (c *Compactor) Compact(ctx context.Context, messages []model.ConversationMessage, maxTokens, maxMessages int) CompactResult {
	if len(messages) == 0 {
		return CompactResult{RecentMessages: []model.ConversationMessage{}}
	}

	// Copy of the most recent maxMessages entries.
	start := 0
	if len(messages) > maxMessages {
		start = len(messages) - maxMessages
	}
	window := make([]model.ConversationMessage, len(messages)-start)
	copy(window, messages[start:])

	// Walk backward from the newest, admitting until the budget would be
	// exceeded. The newest message is always admitted so the prompt is
	// never empty, which allows at most one message of overage.
	total := 0
	admitFrom := len(window)
	for i := len(window) - 1; i >= 0; i-- {
		cost := token.Estimate(string(window[i].Role)) + token.Estimate(window[i].Content)
		if admitFrom < len(window) && total+cost > maxTokens {
			break
		}
		total += cost
		admitFrom = i
	}
	recent := window[admitFrom:]

	truncated := len(messages) - len(recent)
	result := CompactResult{
		RecentMessages: recent,
		TruncatedCount: truncated,
		TotalTokens:    total,
	}
	if truncated == 0 {
		return result
	}

	excluded := messages[:len(messages)-len(recent)]
	result.Summary = c.summarize(ctx, excluded)
	return result
}

// summarize compresses the excluded prefix via the provider, degrading to a
// deterministic extraction when the call fails.
func (c *Compactor) summarize(ctx context.Context, excluded []model.ConversationMessage) string {
	var sb strings.Builder
	sb.WriteString(summarizePrompt)
	for _, m := range excluded {
		sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}

	out, err := c.completer.Complete(ctx, sb.String(), c.params)
	if err != nil {
		c.log.Warn().Err(err).Int("excluded", len(excluded)).Msg("summary generation failed, using extraction fallback")
		return extractiveSummary(excluded)
	}
	return strings.TrimSpace(out)
}

// extractiveSummary joins the first clause of up to five user messages from
// the excluded set.
func extractiveSummary(excluded []model.ConversationMessage) string {
	clauses := make([]string, 0, maxFallbackClauses)
	for _, m := range excluded {
		if m.Role != model.RoleUser {
			continue
		}
		if cl := firstClause(m.Content); cl != "" {
			clauses = append(clauses, cl)
		}
		if len(clauses) == maxFallbackClauses {
			break
		}
	}
	return strings.Join(clauses, ". ")
}

// firstClause returns content up to the first sentence or clause boundary.
func firstClause(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.IndexAny(content, ".!?,;"); i >= 0 {
		content = content[:i]
	}
	return strings.TrimSpace(content)
}

// Render assembles the compacted view into prompt text: the summary block
// first, then role-prefixed recent lines.
func Render(res CompactResult) string {
	var sb strings.Builder
	if res.Summary != "" {
		sb.WriteString("Summary of earlier conversation:\n")
		sb.WriteString(res.Summary)
		sb.WriteString("\n\n")
	}
	if len(res.RecentMessages) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range res.RecentMessages {
			sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
	}
	return sb.String()
}
