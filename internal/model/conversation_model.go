package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups messages and carries the rolling session summary
// produced by the summarization rollup.
type Conversation struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserId         uuid.UUID `gorm:"type:uuid;not null;index"`
	Title          string    `gorm:"type:text;not null"`
	SessionSummary string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Conversation) TableName() string {
	return "conversations"
}
