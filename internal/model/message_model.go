package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// Message is a single conversation turn, embedded at send-time.
// Citations holds the structured citation list of assistant answers.
type Message struct {
	Id             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationId uuid.UUID       `gorm:"type:uuid;not null;index"`
	Role           string          `gorm:"type:varchar(50);not null"`
	Content        string          `gorm:"type:text;not null"`
	Embedding      pgvector.Vector `gorm:"type:vector(768)"`
	Citations      datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
}

func (Message) TableName() string {
	return "messages"
}
