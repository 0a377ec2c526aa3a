package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the contract for everything published on the bus.
type Event interface {
	// EventType returns the event code, e.g. "ANSWER_GENERATED".
	EventType() string

	// Payload returns the event data.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the standard Event implementation.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Tutor pipeline event codes.
const (
	TypeAnswerGenerated       = "ANSWER_GENERATED"
	TypeSessionSummaryUpdated = "SESSION_SUMMARY_UPDATED"
	TypeDocumentSummaryReady  = "DOCUMENT_SUMMARY_READY"
)

// NewAnswerGenerated records one completed ask round-trip.
func NewAnswerGenerated(userId, conversationId, messageId uuid.UUID, valid, verified bool) BaseEvent {
	return BaseEvent{
		Type: TypeAnswerGenerated,
		Data: map[string]interface{}{
			"user_id":         userId.String(),
			"conversation_id": conversationId.String(),
			"message_id":      messageId.String(),
			"valid":           valid,
			"verified":        verified,
		},
		OccurredAt: time.Now(),
	}
}

func NewSessionSummaryUpdated(conversationId uuid.UUID) BaseEvent {
	return BaseEvent{
		Type: TypeSessionSummaryUpdated,
		Data: map[string]interface{}{
			"conversation_id": conversationId.String(),
		},
		OccurredAt: time.Now(),
	}
}

func NewDocumentSummaryReady(userId, documentId uuid.UUID) BaseEvent {
	return BaseEvent{
		Type: TypeDocumentSummaryReady,
		Data: map[string]interface{}{
			"user_id":     userId.String(),
			"document_id": documentId.String(),
		},
		OccurredAt: time.Now(),
	}
}
