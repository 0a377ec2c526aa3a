package implementation

import (
	"context"
	"errors"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) contract.DocumentRepository {
	return &DocumentRepositoryImpl{db: db}
}

func (r *DocumentRepositoryImpl) Create(ctx context.Context, document *model.Document) error {
	return r.db.WithContext(ctx).Create(document).Error
}

func (r *DocumentRepositoryImpl) FindById(ctx context.Context, userId, id uuid.UUID) (*model.Document, error) {
	var m model.Document
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userId).
		First(&m, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *DocumentRepositoryImpl) UpdateSummary(ctx context.Context, id uuid.UUID, summary string) error {
	return r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", id).
		Update("summary", summary).Error
}
