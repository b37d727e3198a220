package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentd/internal/sessions"
	"github.com/haasonsaas/agentd/pkg/models"
)

// CompactionThresholdFraction is the fraction of a model's context window
// that, once history plus a fixed reserve exceeds it, triggers compaction.
const CompactionThresholdFraction = 0.85

// CompactionReserveTokens is added to the history token sum before
// comparing against the threshold, leaving headroom for the system prompt,
// tool definitions, and the response itself.
const CompactionReserveTokens = 4096

// CompactionSummaryBudget is the target length requested from the
// summarizing provider call.
const CompactionSummaryBudget = 2000

// CompactionTimeout bounds the summarizing provider call.
const CompactionTimeout = 60 * time.Second

// CompactionSentinelPrefix tags the single assistant message that replaces
// a session's history after a successful compaction.
const CompactionSentinelPrefix = "[COMPACTED %d messages]\n\n"

// ShouldCompact reports whether history should be compacted before the next
// provider call.
func ShouldCompact(historyTokens uint32, contextWindow uint32) bool {
	if contextWindow == 0 {
		return false
	}
	return float64(historyTokens)+float64(CompactionReserveTokens) > float64(contextWindow)*CompactionThresholdFraction
}

const compactionSystemPrompt = "summarize this conversation preserving all facts, decisions, open tasks, and user preferences; target <= 2000 tokens."

// Compact runs the summarize-delete-replace sequence for one
// session. On success, sessions's history is replaced by a single
// sentinel-prefixed assistant message and CompactionSummary is emitted. On
// any failure, history is left untouched and the caller proceeds without
// compaction (the provider is left to truncate or error on an oversized
// request).
func Compact(ctx context.Context, store sessions.Store, provider Provider, model, sessionID string, progress ProgressSink) error {
	messages, err := store.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("compaction: list messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	transcript := renderTranscript(messages)

	compactCtx, cancel := context.WithTimeout(ctx, CompactionTimeout)
	defer cancel()

	resp, err := provider.Complete(compactCtx, LLMRequest{
		Model:     model,
		System:    compactionSystemPrompt,
		Messages:  []RequestMessage{{Role: RoleUser, Content: []ContentBlock{{Type: ContentText, Text: transcript}}}},
		MaxTokens: CompactionSummaryBudget * 2,
	})
	if err != nil {
		return fmt.Errorf("compaction: summarize: %w", err)
	}

	summary := concatText(resp.Content)
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("compaction: empty summary")
	}

	if err := store.DeleteMessages(ctx, sessionID); err != nil {
		return fmt.Errorf("compaction: delete messages: %w", err)
	}

	content := fmt.Sprintf(CompactionSentinelPrefix, len(messages)) + summary
	replacement := &models.Message{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   content,
	}
	if err := store.AppendMessage(ctx, replacement); err != nil {
		return fmt.Errorf("compaction: append summary: %w", err)
	}

	if progress != nil {
		progress(sessionID, CompactionSummary{Text: summary})
	}
	return nil
}

// renderTranscript serializes history into a compact prose dialogue, one
// line per message, for the summarizing provider call.
func renderTranscript(messages []*models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
	}
	return b.String()
}

func concatText(content []ContentBlock) string {
	var b strings.Builder
	for _, c := range content {
		if c.Type == ContentText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}
