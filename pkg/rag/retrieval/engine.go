package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"
	"ai-tutor-be/pkg/embedding"

	"github.com/google/uuid"
)

// fallbackScore is assigned when a search leg had to degrade to a non-scored
// recency query. Threshold filtering is skipped for those results.
const fallbackScore = 0.5

const maxOverviewFetch = 500

// Params encapsulates retrieval parameters. All fields are overridable per
// call; zero values fall back to the engine defaults.
type Params struct {
	KDocs              int
	KMsgs              int
	KMems              int
	LastN              int
	RelevanceThreshold float64
}

func (p Params) withDefaults(defaults Params) Params {
	if p.KDocs <= 0 {
		p.KDocs = defaults.KDocs
	}
	if p.KMsgs <= 0 {
		p.KMsgs = defaults.KMsgs
	}
	if p.KMems <= 0 {
		p.KMems = defaults.KMems
	}
	if p.LastN <= 0 {
		p.LastN = defaults.LastN
	}
	if p.RelevanceThreshold <= 0 {
		p.RelevanceThreshold = defaults.RelevanceThreshold
	}
	return p
}

// Result holds the outcome of one multi-source retrieval. Every scored list is
// deduplicated and sorted by score descending; LastTurns is chronological.
type Result struct {
	DocChunks    []*contract.ScoredDocChunk
	PastMessages []*contract.ScoredMessage
	Memories     []*contract.ScoredMemory
	LastTurns    []*model.Message
}

// Engine runs scoped similarity searches over document chunks, past messages
// and long-term memories, plus a recency fetch of the latest turns.
type Engine struct {
	embedder Provider
	chunks   contract.DocChunkRepository
	messages contract.MessageRepository
	memories contract.MemoryRepository
	defaults Params
	logger   *log.Logger
}

// Provider is the slice of the embedding client the engine needs.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Provider = (embedding.Provider)(nil)

func NewEngine(
	embedder Provider,
	chunks contract.DocChunkRepository,
	messages contract.MessageRepository,
	memories contract.MemoryRepository,
	defaults Params,
	logger *log.Logger,
) *Engine {
	return &Engine{
		embedder: embedder,
		chunks:   chunks,
		messages: messages,
		memories: memories,
		defaults: defaults,
		logger:   logger,
	}
}

func candidatePool(k int) int {
	if pool := k * 10; pool > 50 {
		return pool
	}
	return 50
}

// Retrieve embeds the query once, then runs the three similarity searches
// concurrently alongside the last-turns fetch. A failing leg degrades to a
// fallback or empty result instead of failing the whole retrieval.
//
// activeDocumentId is required for document-chunk retrieval: without it the
// doc leg returns empty. This is a policy against cross-document context
// leakage, not an optimization.
func (e *Engine) Retrieve(ctx context.Context, userId, conversationId uuid.UUID, query string, activeDocumentId *uuid.UUID, overrides *Params) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("retrieval: query must not be empty")
	}

	params := e.defaults
	if overrides != nil {
		params = overrides.withDefaults(e.defaults)
	}

	vectors, err := e.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: query embedding failed: %w", err)
	}
	queryVector := vectors[0]

	result := &Result{}
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		result.DocChunks = e.retrieveDocChunks(ctx, userId, activeDocumentId, queryVector, params)
	}()
	go func() {
		defer wg.Done()
		result.PastMessages = e.retrieveMessages(ctx, conversationId, queryVector, params)
	}()
	go func() {
		defer wg.Done()
		result.Memories = e.retrieveMemories(ctx, userId, queryVector, params)
	}()
	go func() {
		defer wg.Done()
		result.LastTurns = e.retrieveLastTurns(ctx, conversationId, params.LastN)
	}()

	wg.Wait()
	return result, nil
}

func (e *Engine) retrieveDocChunks(ctx context.Context, userId uuid.UUID, documentId *uuid.UUID, queryVector []float32, params Params) []*contract.ScoredDocChunk {
	if userId == uuid.Nil {
		return nil
	}
	if documentId == nil || *documentId == uuid.Nil {
		e.logger.Printf("[RETRIEVAL] No active document - skipping doc chunks to prevent context leakage")
		return nil
	}

	scored, err := e.chunks.SearchSimilarWithScore(ctx, queryVector, params.KDocs, candidatePool(params.KDocs), userId, *documentId)
	if err != nil {
		e.logger.Printf("[ERROR] Doc chunk vector search failed: %v", err)
		fallback, ferr := e.chunks.FindRecent(ctx, userId, *documentId, params.KDocs)
		if ferr != nil {
			e.logger.Printf("[ERROR] Doc chunk fallback also failed: %v", ferr)
			return nil
		}
		scored = make([]*contract.ScoredDocChunk, len(fallback))
		for i, c := range fallback {
			scored[i] = &contract.ScoredDocChunk{Chunk: c, Score: fallbackScore}
		}
		return dedupeDocChunks(scored)
	}

	filtered := scored[:0:0]
	for _, s := range scored {
		if s.Score >= params.RelevanceThreshold {
			filtered = append(filtered, s)
		}
	}

	deduped := dedupeDocChunks(filtered)
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	return deduped
}

func (e *Engine) retrieveMessages(ctx context.Context, conversationId uuid.UUID, queryVector []float32, params Params) []*contract.ScoredMessage {
	if conversationId == uuid.Nil {
		return nil
	}

	scored, err := e.messages.SearchSimilarWithScore(ctx, queryVector, params.KMsgs, candidatePool(params.KMsgs), conversationId)
	if err != nil {
		e.logger.Printf("[ERROR] Message vector search failed: %v", err)
		fallback, ferr := e.messages.FindRecent(ctx, conversationId, params.KMsgs)
		if ferr != nil {
			e.logger.Printf("[ERROR] Message fallback also failed: %v", ferr)
			return nil
		}
		scored = make([]*contract.ScoredMessage, len(fallback))
		for i, m := range fallback {
			scored[i] = &contract.ScoredMessage{Message: m, Score: fallbackScore}
		}
		return dedupeMessages(scored)
	}

	filtered := scored[:0:0]
	for _, s := range scored {
		if s.Score >= params.RelevanceThreshold {
			filtered = append(filtered, s)
		}
	}

	deduped := dedupeMessages(filtered)
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	return deduped
}

func (e *Engine) retrieveMemories(ctx context.Context, userId uuid.UUID, queryVector []float32, params Params) []*contract.ScoredMemory {
	if userId == uuid.Nil {
		return nil
	}

	scored, err := e.memories.SearchSimilarWithScore(ctx, queryVector, params.KMems, candidatePool(params.KMems), userId)
	if err != nil {
		e.logger.Printf("[ERROR] Memory vector search failed: %v", err)
		fallback, ferr := e.memories.FindRecent(ctx, userId, params.KMems)
		if ferr != nil {
			e.logger.Printf("[ERROR] Memory fallback also failed: %v", ferr)
			return nil
		}
		scored = make([]*contract.ScoredMemory, len(fallback))
		for i, m := range fallback {
			scored[i] = &contract.ScoredMemory{Memory: m, Score: fallbackScore}
		}
		return dedupeMemories(scored)
	}

	filtered := scored[:0:0]
	for _, s := range scored {
		if s.Score >= params.RelevanceThreshold {
			filtered = append(filtered, s)
		}
	}

	deduped := dedupeMemories(filtered)
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	return deduped
}

func (e *Engine) retrieveLastTurns(ctx context.Context, conversationId uuid.UUID, lastN int) []*model.Message {
	if conversationId == uuid.Nil {
		return nil
	}

	messages, err := e.messages.FindRecent(ctx, conversationId, lastN)
	if err != nil {
		e.logger.Printf("[ERROR] Last turns fetch failed: %v", err)
		return nil
	}

	// FindRecent returns newest first; reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}

// Overview fetches a document's chunks ordered by page and evenly samples
// them down to maxChunks. Stride sampling guarantees full-document coverage
// for summary generation instead of similarity-biased coverage.
func (e *Engine) Overview(ctx context.Context, userId, documentId uuid.UUID, maxChunks int) ([]*model.DocChunk, error) {
	if userId == uuid.Nil || documentId == uuid.Nil {
		return nil, nil
	}
	if maxChunks <= 0 {
		maxChunks = 20
	}

	all, err := e.chunks.FindByDocumentPageOrdered(ctx, userId, documentId, maxOverviewFetch)
	if err != nil {
		return nil, fmt.Errorf("retrieval: overview fetch failed: %w", err)
	}
	if len(all) <= maxChunks {
		return all, nil
	}

	step := (len(all) + maxChunks - 1) / maxChunks
	sampled := make([]*model.DocChunk, 0, maxChunks)
	for i := 0; i < len(all) && len(sampled) < maxChunks; i += step {
		sampled = append(sampled, all[i])
	}
	// Always cover the tail of the document.
	if last := all[len(all)-1]; len(sampled) > 0 && sampled[len(sampled)-1] != last {
		sampled[len(sampled)-1] = last
	}
	return sampled, nil
}

// dedupeDocChunks keeps at most one chunk per (owner, document) pair, the
// first seen. Since the repository returns results ranked by score, the
// survivor is the highest-scoring chunk of its document.
func dedupeDocChunks(chunks []*contract.ScoredDocChunk) []*contract.ScoredDocChunk {
	seen := make(map[string]bool, len(chunks))
	out := chunks[:0:0]
	for _, c := range chunks {
		key := c.Chunk.UserId.String() + "::" + c.Chunk.DocumentId.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func dedupeMessages(messages []*contract.ScoredMessage) []*contract.ScoredMessage {
	seen := make(map[uuid.UUID]bool, len(messages))
	out := messages[:0:0]
	for _, m := range messages {
		if seen[m.Message.Id] {
			continue
		}
		seen[m.Message.Id] = true
		out = append(out, m)
	}
	return out
}

func dedupeMemories(memories []*contract.ScoredMemory) []*contract.ScoredMemory {
	seen := make(map[uuid.UUID]bool, len(memories))
	out := memories[:0:0]
	for _, m := range memories {
		if seen[m.Memory.Id] {
			continue
		}
		seen[m.Memory.Id] = true
		out = append(out, m)
	}
	return out
}
