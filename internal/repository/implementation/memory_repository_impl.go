package implementation

import (
	"context"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type MemoryRepositoryImpl struct {
	db *gorm.DB
}

func NewMemoryRepository(db *gorm.DB) contract.MemoryRepository {
	return &MemoryRepositoryImpl{db: db}
}

func (r *MemoryRepositoryImpl) Create(ctx context.Context, memory *model.Memory) error {
	return r.db.WithContext(ctx).Create(memory).Error
}

func (r *MemoryRepositoryImpl) Update(ctx context.Context, memory *model.Memory) error {
	return r.db.WithContext(ctx).Save(memory).Error
}

func (r *MemoryRepositoryImpl) Delete(ctx context.Context, userId, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Delete(&model.Memory{}, id).Error
}

func (r *MemoryRepositoryImpl) SearchSimilarWithScore(ctx context.Context, embedding []float32, limit, candidatePool int, userId uuid.UUID) ([]*contract.ScoredMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	if candidatePool < limit {
		candidatePool = limit
	}

	type result struct {
		model.Memory
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)

	sub := r.db.WithContext(ctx).
		Table("memories").
		Select("memories.*, 1 - (embedding <=> ?) as similarity", queryVector).
		Where("user_id = ?", userId).
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

	scored := make([]*contract.ScoredMemory, len(results))
	for i, res := range results {
		mem := res.Memory
		scored[i] = &contract.ScoredMemory{
			Memory: &mem,
			Score:  res.Similarity,
		}
	}
	return scored, nil
}

func (r *MemoryRepositoryImpl) FindRecent(ctx context.Context, userId uuid.UUID, limit int) ([]*model.Memory, error) {
	var memories []*model.Memory
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("updated_at DESC").
		Limit(limit).
		Find(&memories).Error
	if err != nil {
		return nil, err
	}
	return memories, nil
}
