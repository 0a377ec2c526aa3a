package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// DocChunk is one embedded slice of an uploaded document. Chunks are written
// once at ingestion and never updated.
type DocChunk struct {
	Id         uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId     uuid.UUID       `gorm:"type:uuid;not null;index"` // Owner scope for data isolation
	DocumentId uuid.UUID       `gorm:"type:uuid;not null;index"`
	Page       int             `gorm:"default:0"`
	Text       string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector(768)"`
	Metadata   datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
}

func (DocChunk) TableName() string {
	return "doc_chunks"
}
