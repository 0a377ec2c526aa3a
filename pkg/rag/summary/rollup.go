package summary

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"
	"ai-tutor-be/pkg/llm"
	"ai-tutor-be/pkg/rag/generate"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// rollupWindow is how many recent messages feed one summary.
	rollupWindow = 30
	// lockTTL keeps concurrent requests on the same turn boundary from
	// running duplicate rollups.
	lockTTL = 2 * time.Minute
)

// Params carries the rollup settings resolved from configuration. Zero fields
// fall back to the package defaults.
type Params struct {
	// EveryNTurns triggers a rollup every time the message count hits a
	// multiple of this value.
	EveryNTurns int
	Temperature float64
	MaxTokens   int
	// Model optionally routes summaries to a different chat model.
	Model string
}

func (p Params) withDefaults() Params {
	if p.EveryNTurns <= 0 {
		p.EveryNTurns = 12
	}
	if p.Temperature <= 0 {
		p.Temperature = 0.3
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 4000
	}
	return p
}

type OverviewFetcher interface {
	Overview(ctx context.Context, userId, documentId uuid.UUID, maxChunks int) ([]*model.DocChunk, error)
}

// Rollup maintains the per-conversation session summary and per-document
// summaries. Both paths are designed to be fired asynchronously: failures are
// logged, never surfaced to the chat request.
type Rollup struct {
	llm           llm.Provider
	messages      contract.MessageRepository
	conversations contract.ConversationRepository
	documents     contract.DocumentRepository
	overview      OverviewFetcher
	rdb           *redis.Client // optional; nil disables the debounce lock
	params        Params
	logger        *log.Logger
}

func NewRollup(
	provider llm.Provider,
	messages contract.MessageRepository,
	conversations contract.ConversationRepository,
	documents contract.DocumentRepository,
	overview OverviewFetcher,
	rdb *redis.Client,
	params Params,
	logger *log.Logger,
) *Rollup {
	return &Rollup{
		llm:           provider,
		messages:      messages,
		conversations: conversations,
		documents:     documents,
		overview:      overview,
		rdb:           rdb,
		params:        params.withDefaults(),
		logger:        logger,
	}
}

// chatOptions resolves the configured sampling options for summary calls.
func (r *Rollup) chatOptions() []llm.Option {
	opts := []llm.Option{
		llm.WithTemperature(r.params.Temperature),
		llm.WithMaxTokens(r.params.MaxTokens),
	}
	if r.params.Model != "" {
		opts = append(opts, llm.WithModel(r.params.Model))
	}
	return opts
}

// UpdateIfNeeded refreshes the session summary when the conversation's
// message count crosses a turn-interval boundary. Returns true when a summary
// was written.
func (r *Rollup) UpdateIfNeeded(ctx context.Context, conversationId uuid.UUID) (bool, error) {
	if conversationId == uuid.Nil {
		return false, nil
	}

	count, err := r.messages.CountByConversation(ctx, conversationId)
	if err != nil {
		return false, fmt.Errorf("summary: counting messages failed: %w", err)
	}
	if count == 0 || count%int64(r.params.EveryNTurns) != 0 {
		return false, nil
	}

	if !r.acquireLock(ctx, "summary:lock:"+conversationId.String()) {
		r.logger.Printf("[SUMMARY] Rollup for conversation %s already in flight, skipping", conversationId)
		return false, nil
	}

	recent, err := r.messages.FindRecent(ctx, conversationId, rollupWindow)
	if err != nil {
		return false, fmt.Errorf("summary: fetching recent messages failed: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}

	// Newest first from the repository; the transcript reads top-down.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	summaryText, err := r.summarizeTranscript(ctx, recent)
	if err != nil {
		return false, err
	}
	if summaryText == "" {
		return false, nil
	}

	if err := r.conversations.UpdateSessionSummary(ctx, conversationId, summaryText); err != nil {
		return false, fmt.Errorf("summary: persisting session summary failed: %w", err)
	}

	r.logger.Printf("[SUMMARY] Session summary updated for conversation %s at %d messages", conversationId, count)
	return true, nil
}

// acquireLock is nil-safe: without Redis the rollup simply runs unlocked,
// which at worst wastes one duplicate LLM call.
func (r *Rollup) acquireLock(ctx context.Context, key string) bool {
	if r.rdb == nil {
		return true
	}
	ok, err := r.rdb.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		r.logger.Printf("[SUMMARY] Redis lock unavailable (%v), proceeding unlocked", err)
		return true
	}
	return ok
}

func (r *Rollup) summarizeTranscript(ctx context.Context, transcript []*model.Message) (string, error) {
	var b strings.Builder
	for _, m := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	history := []llm.Message{
		{
			Role: "system",
			Content: "You are a note-taker for a tutoring session. Summarize the " +
				"conversation below in a compact paragraph: topics covered, questions the " +
				"student asked, facts established, and anything still unresolved. Write " +
				"plain prose, no headings, no bullet points.",
		},
		{Role: "user", Content: b.String()},
	}

	raw, err := r.llm.Chat(ctx, history, r.chatOptions()...)
	if err != nil {
		return "", fmt.Errorf("summary: chat failed: %w", err)
	}
	return generate.CleanAnswerText(raw), nil
}

// SummarizeDocument builds a whole-document summary from a stride sample of
// its chunks and stores it on the document record.
func (r *Rollup) SummarizeDocument(ctx context.Context, userId, documentId uuid.UUID) error {
	chunks, err := r.overview.Overview(ctx, userId, documentId, 0)
	if err != nil {
		return fmt.Errorf("summary: document overview failed: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[page %d] %s\n\n", c.Page, c.Text)
	}

	history := []llm.Message{
		{
			Role: "system",
			Content: "Summarize the document excerpts below for a student. Cover the " +
				"main topics in reading order and keep it under four paragraphs. The " +
				"excerpts are evenly sampled across the document, so gaps between them " +
				"are expected.",
		},
		{Role: "user", Content: b.String()},
	}

	raw, err := r.llm.Chat(ctx, history, r.chatOptions()...)
	if err != nil {
		return fmt.Errorf("summary: document chat failed: %w", err)
	}

	summaryText := generate.CleanAnswerText(raw)
	if summaryText == "" {
		return nil
	}

	if err := r.documents.UpdateSummary(ctx, documentId, summaryText); err != nil {
		return fmt.Errorf("summary: persisting document summary failed: %w", err)
	}

	r.logger.Printf("[SUMMARY] Document summary updated for document %s (%d sampled chunks)", documentId, len(chunks))
	return nil
}
