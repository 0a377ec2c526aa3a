package implementation

import (
	"context"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type DocChunkRepositoryImpl struct {
	db *gorm.DB
}

func NewDocChunkRepository(db *gorm.DB) contract.DocChunkRepository {
	return &DocChunkRepositoryImpl{db: db}
}

func (r *DocChunkRepositoryImpl) Create(ctx context.Context, chunk *model.DocChunk) error {
	return r.db.WithContext(ctx).Create(chunk).Error
}

func (r *DocChunkRepositoryImpl) CreateBulk(ctx context.Context, chunks []*model.DocChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(chunks).Error
}

func (r *DocChunkRepositoryImpl) DeleteByDocumentId(ctx context.Context, userId, documentId uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userId, documentId).
		Delete(&model.DocChunk{}).Error
}

// SearchSimilarWithScore computes cosine similarity in SQL.
// Cosine distance in pgvector is 1 - cosine_similarity, so we select
// 1 - (embedding <=> query_vector). The owner and document filters are pushed
// into the query, never applied after the fact.
func (r *DocChunkRepositoryImpl) SearchSimilarWithScore(ctx context.Context, embedding []float32, limit, candidatePool int, userId, documentId uuid.UUID) ([]*contract.ScoredDocChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	if candidatePool < limit {
		candidatePool = limit
	}

	type result struct {
		model.DocChunk
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)

	// The inner query widens the candidate pool before the outer limit so the
	// ANN index has enough rows to rank.
	sub := r.db.WithContext(ctx).
		Table("doc_chunks").
		Select("doc_chunks.*, 1 - (embedding <=> ?) as similarity", queryVector).
		Where("user_id = ?", userId).
		Where("document_id = ?", documentId).
		Order(gorm.Expr("embedding <=> ?", queryVector)).
		Limit(candidatePool)

	err := r.db.WithContext(ctx).
		Table("(?) as candidates", sub).
		Order("similarity DESC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	scored := make([]*contract.ScoredDocChunk, len(results))
	for i, res := range results {
		chunk := res.DocChunk
		scored[i] = &contract.ScoredDocChunk{
			Chunk: &chunk,
			Score: res.Similarity,
		}
	}
	return scored, nil
}

func (r *DocChunkRepositoryImpl) FindRecent(ctx context.Context, userId, documentId uuid.UUID, limit int) ([]*model.DocChunk, error) {
	var chunks []*model.DocChunk
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userId, documentId).
		Order("created_at DESC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *DocChunkRepositoryImpl) FindByDocumentPageOrdered(ctx context.Context, userId, documentId uuid.UUID, limit int) ([]*model.DocChunk, error) {
	var chunks []*model.DocChunk
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND document_id = ?", userId, documentId).
		Order("page ASC, id ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
