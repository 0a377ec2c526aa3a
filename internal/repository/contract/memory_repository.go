package contract

import (
	"context"

	"ai-tutor-be/internal/model"

	"github.com/google/uuid"
)

type ScoredMemory struct {
	Memory *model.Memory
	Score  float64
}

type MemoryRepository interface {
	Create(ctx context.Context, memory *model.Memory) error
	Update(ctx context.Context, memory *model.Memory) error
	Delete(ctx context.Context, userId, id uuid.UUID) error

	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit, candidatePool int, userId uuid.UUID) ([]*ScoredMemory, error)

	FindRecent(ctx context.Context, userId uuid.UUID, limit int) ([]*model.Memory, error)
}
