package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const (
	MemoryKindProfile    = "profile"
	MemoryKindFact       = "fact"
	MemoryKindPreference = "preference"
)

// Memory is a long-lived user fact. Mutable: edits re-embed the content.
type Memory struct {
	Id        uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Kind      string          `gorm:"type:varchar(50);not null"`
	Content   string          `gorm:"type:text;not null"`
	Embedding pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Memory) TableName() string {
	return "memories"
}
