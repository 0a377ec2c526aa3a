package dto

import "time"

// StudentDTO personalizes the tutor persona. Supplied by the caller because
// identity and profile live behind the upstream gateway.
type StudentDTO struct {
	Name       string `json:"name" validate:"omitempty,max=120"`
	University string `json:"university" validate:"omitempty,max=200"`
	Major      string `json:"major" validate:"omitempty,max=200"`
	Year       string `json:"year" validate:"omitempty,max=50"`
}

type AskRequest struct {
	ConversationId   string      `json:"conversation_id" validate:"required,uuid"`
	Question         string      `json:"question" validate:"required,min=1,max=4000"`
	ActiveDocumentId string      `json:"active_document_id" validate:"omitempty,uuid"`
	TaskType         string      `json:"task_type" validate:"omitempty,oneof=fact teach creative summary"`
	Temperature      *float64    `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	Student          *StudentDTO `json:"student" validate:"omitempty"`
}

type CitationDTO struct {
	Type  string `json:"type"`
	Id    string `json:"id"`
	DocId string `json:"doc_id,omitempty"`
	Page  *int   `json:"page,omitempty"`
	Quote string `json:"quote,omitempty"`
}

type UncertaintyDTO struct {
	IsUncertain bool     `json:"is_uncertain"`
	Reasons     []string `json:"reasons"`
}

type AskResponse struct {
	MessageId      string         `json:"message_id"`
	ConversationId string         `json:"conversation_id"`
	Answer         string         `json:"answer"`
	Citations      []CitationDTO  `json:"citations"`
	Uncertainty    UncertaintyDTO `json:"uncertainty"`
	Verified       bool           `json:"verified"`
	Retried        bool           `json:"retried"`
}

type HistoryMessageDTO struct {
	Id        string        `json:"id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	Citations []CitationDTO `json:"citations,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type HistoryResponse struct {
	ConversationId string              `json:"conversation_id"`
	SessionSummary string              `json:"session_summary,omitempty"`
	Messages       []HistoryMessageDTO `json:"messages"`
}

type DocumentSummaryAcceptedResponse struct {
	DocumentId string `json:"document_id"`
	Status     string `json:"status"`
}

// Internal pub/sub payloads.

type PublishTurnCommittedMessage struct {
	ConversationId string `json:"conversation_id"`
}

type PublishDocumentSummaryMessage struct {
	UserId     string `json:"user_id"`
	DocumentId string `json:"document_id"`
}
