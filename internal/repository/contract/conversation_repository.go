package contract

import (
	"context"

	"ai-tutor-be/internal/model"

	"github.com/google/uuid"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *model.Conversation) error
	FindById(ctx context.Context, userId, id uuid.UUID) (*model.Conversation, error)
	UpdateSessionSummary(ctx context.Context, id uuid.UUID, summary string) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
}
