package implementation

import (
	"context"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type MessageRepositoryImpl struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) contract.MessageRepository {
	return &MessageRepositoryImpl{db: db}
}

func (r *MessageRepositoryImpl) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepositoryImpl) SearchSimilarWithScore(ctx context.Context, embedding []float32, limit, candidatePool int, conversationId uuid.UUID) ([]*contract.ScoredMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	if candidatePool < limit {
		candidatePool = limit
	}

	type result struct {
		model.Message
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)

	sub := r.db.WithContext(ctx).
		Table("messages").
		Select("messages.*, 1 - (embedding <=> ?) as similarity", queryVector).
		Where("conversation_id = ?", conversationId).
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

	scored := make([]*contract.ScoredMessage, len(results))
	for i, res := range results {
		msg := res.Message
		scored[i] = &contract.ScoredMessage{
			Message: &msg,
			Score:   res.Similarity,
		}
	}
	return scored, nil
}

func (r *MessageRepositoryImpl) FindRecent(ctx context.Context, conversationId uuid.UUID, limit int) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *MessageRepositoryImpl) CountByConversation(ctx context.Context, conversationId uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ?", conversationId).
		Count(&count).Error
	return count, err
}
