package contract

import (
	"context"

	"ai-tutor-be/internal/model"

	"github.com/google/uuid"
)

type ScoredMessage struct {
	Message *model.Message
	Score   float64
}

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error

	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit, candidatePool int, conversationId uuid.UUID) ([]*ScoredMessage, error)

	// FindRecent returns the newest messages first; callers reverse for
	// chronological order.
	FindRecent(ctx context.Context, conversationId uuid.UUID, limit int) ([]*model.Message, error)

	CountByConversation(ctx context.Context, conversationId uuid.UUID) (int64, error)
}
