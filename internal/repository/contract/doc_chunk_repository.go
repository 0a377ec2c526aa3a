package contract

import (
	"context"

	"ai-tutor-be/internal/model"

	"github.com/google/uuid"
)

// ScoredDocChunk wraps a DocChunk with its cosine similarity score.
type ScoredDocChunk struct {
	Chunk *model.DocChunk
	Score float64 // 0.0 to 1.0 (1.0 = identical)
}

type DocChunkRepository interface {
	Create(ctx context.Context, chunk *model.DocChunk) error
	CreateBulk(ctx context.Context, chunks []*model.DocChunk) error
	DeleteByDocumentId(ctx context.Context, userId, documentId uuid.UUID) error

	// SearchSimilarWithScore runs a scoped vector search. candidatePool is the
	// number of rows the index considers before the limit is applied; the
	// relevance threshold is enforced by the caller, not here.
	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit, candidatePool int, userId, documentId uuid.UUID) ([]*ScoredDocChunk, error)

	// FindRecent is the non-vector fallback path: newest chunks first.
	FindRecent(ctx context.Context, userId, documentId uuid.UUID, limit int) ([]*model.DocChunk, error)

	// FindByDocumentPageOrdered returns chunks for one document ordered by
	// page then id, capped at limit. Used by the overview sampler.
	FindByDocumentPageOrdered(ctx context.Context, userId, documentId uuid.UUID, limit int) ([]*model.DocChunk, error)
}
