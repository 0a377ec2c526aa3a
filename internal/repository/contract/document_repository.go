package contract

import (
	"context"

	"ai-tutor-be/internal/model"

	"github.com/google/uuid"
)

type DocumentRepository interface {
	Create(ctx context.Context, document *model.Document) error
	FindById(ctx context.Context, userId, id uuid.UUID) (*model.Document, error)
	UpdateSummary(ctx context.Context, id uuid.UUID, summary string) error
}
