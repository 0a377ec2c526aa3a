package service

import (
	"context"
	"encoding/json"

	"ai-tutor-be/internal/dto"
	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/pkg/logger"
	"ai-tutor-be/internal/repository/contract"
	"ai-tutor-be/pkg/embedding"
	"ai-tutor-be/pkg/events"
	pktNats "ai-tutor-be/pkg/nats"
	"ai-tutor-be/pkg/rag/contextblock"
	"ai-tutor-be/pkg/rag/generate"
	"ai-tutor-be/pkg/rag/retrieval"
	"ai-tutor-be/pkg/rag/verify"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const (
	TopicTurnCommitted            = "tutor.turn.committed"
	TopicDocumentSummaryRequested = "tutor.document.summary.requested"
)

type ITutorService interface {
	// Ask runs the full pipeline: retrieve, assemble, generate, verify,
	// persist, publish. Schema failures degrade to a refusal answer; only
	// infrastructure failures surface as errors.
	Ask(ctx context.Context, userId uuid.UUID, req *dto.AskRequest) (*dto.AskResponse, error)

	History(ctx context.Context, userId, conversationId uuid.UUID) (*dto.HistoryResponse, error)

	// RequestDocumentSummary queues an async document summary build.
	RequestDocumentSummary(ctx context.Context, userId, documentId uuid.UUID) (*dto.DocumentSummaryAcceptedResponse, error)

	// Pipeline stages, exposed individually for composition and diagnostics.
	RetrieveContext(ctx context.Context, userId, conversationId uuid.UUID, query string, activeDocumentId *uuid.UUID) (*retrieval.Result, error)
	RetrieveDocumentOverview(ctx context.Context, userId, documentId uuid.UUID, maxChunks int) ([]*model.DocChunk, error)
	BuildContextBlock(sessionSummary string, retrieved *retrieval.Result) string
	GenerateConstrainedAnswer(ctx context.Context, taskType, contextBlock, question string, temperature *float64, student *dto.StudentDTO) (*generate.Result, error)
	VerifySupport(answer *generate.Answer, retrieved *retrieval.Result) *verify.Outcome
}

type tutorService struct {
	engine        *retrieval.Engine
	generator     *generate.Controller
	verifier      *verify.Verifier
	embedder      embedding.Provider
	messages      contract.MessageRepository
	conversations contract.ConversationRepository
	documents     contract.DocumentRepository
	pubSub        *gochannel.GoChannel
	natsPub       *pktNats.Publisher // nil when NATS is unavailable
	logger        logger.ILogger
}

func NewTutorService(
	engine *retrieval.Engine,
	generator *generate.Controller,
	verifier *verify.Verifier,
	embedder embedding.Provider,
	messages contract.MessageRepository,
	conversations contract.ConversationRepository,
	documents contract.DocumentRepository,
	pubSub *gochannel.GoChannel,
	natsPub *pktNats.Publisher,
	sysLogger logger.ILogger,
) ITutorService {
	return &tutorService{
		engine:        engine,
		generator:     generator,
		verifier:      verifier,
		embedder:      embedder,
		messages:      messages,
		conversations: conversations,
		documents:     documents,
		pubSub:        pubSub,
		natsPub:       natsPub,
		logger:        sysLogger,
	}
}

func (s *tutorService) Ask(ctx context.Context, userId uuid.UUID, req *dto.AskRequest) (*dto.AskResponse, error) {
	conversationId, err := uuid.Parse(req.ConversationId)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid conversation id")
	}

	conversation, err := s.conversations.FindById(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Conversation not found")
	}

	var activeDocumentId *uuid.UUID
	if req.ActiveDocumentId != "" {
		id, err := uuid.Parse(req.ActiveDocumentId)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid document id")
		}
		activeDocumentId = &id
	}

	taskType := req.TaskType
	if taskType == "" {
		taskType = generate.TaskTeach
	}

	retrieved, err := s.engine.Retrieve(ctx, userId, conversationId, req.Question, activeDocumentId, nil)
	if err != nil {
		return nil, err
	}

	block := contextblock.Build(contextblock.Input{
		SessionSummary: conversation.SessionSummary,
		Retrieved:      retrieved,
	})

	genResult, err := s.generator.Generate(ctx, taskType, block, req.Question, req.Temperature, toUserContext(req.Student))
	if err != nil {
		return nil, err
	}

	outcome := s.verifier.Verify(genResult.Answer, retrieved)
	if !outcome.OK {
		s.logger.Warn("TUTOR", "Answer verification flagged issues", map[string]interface{}{
			"conversation_id":    conversationId.String(),
			"reasons":            outcome.Reasons,
			"unsupported_claims": len(outcome.UnsupportedClaims),
		})
	}

	assistantMessageId, err := s.persistTurn(ctx, conversationId, req.Question, genResult.Answer)
	if err != nil {
		return nil, err
	}

	s.publishTurnCommitted(conversationId)
	s.publishAnswerEvent(ctx, userId, conversationId, assistantMessageId, genResult.Valid, outcome.OK)

	return &dto.AskResponse{
		MessageId:      assistantMessageId.String(),
		ConversationId: conversationId.String(),
		Answer:         genResult.Answer.Answer,
		Citations:      toCitationDTOs(genResult.Answer.Citations),
		Uncertainty: dto.UncertaintyDTO{
			IsUncertain: genResult.Answer.Uncertainty.IsUncertain,
			Reasons:     genResult.Answer.Uncertainty.Reasons,
		},
		Verified: outcome.OK,
		Retried:  genResult.Retried,
	}, nil
}

// persistTurn stores the user question and assistant answer, embedding both in
// one batched call. Embedding failures are tolerated: a turn without a vector
// is invisible to similarity search but still part of the history.
func (s *tutorService) persistTurn(ctx context.Context, conversationId uuid.UUID, question string, answer *generate.Answer) (uuid.UUID, error) {
	var questionVec, answerVec []float32
	vectors, err := s.embedder.EmbedTexts(ctx, []string{question, answer.Answer})
	if err != nil {
		s.logger.Warn("TUTOR", "Turn embedding failed, persisting without vectors", map[string]interface{}{
			"conversation_id": conversationId.String(),
			"error":           err.Error(),
		})
	} else if len(vectors) == 2 {
		questionVec, answerVec = vectors[0], vectors[1]
	}

	userMessage := &model.Message{
		Id:             uuid.New(),
		ConversationId: conversationId,
		Role:           model.MessageRoleUser,
		Content:        question,
	}
	setEmbedding(userMessage, questionVec)
	if err := s.messages.Create(ctx, userMessage); err != nil {
		return uuid.Nil, err
	}

	citationsJSON, err := json.Marshal(answer.Citations)
	if err != nil {
		citationsJSON = []byte("[]")
	}

	assistantMessage := &model.Message{
		Id:             uuid.New(),
		ConversationId: conversationId,
		Role:           model.MessageRoleAssistant,
		Content:        answer.Answer,
		Citations:      citationsJSON,
	}
	setEmbedding(assistantMessage, answerVec)
	if err := s.messages.Create(ctx, assistantMessage); err != nil {
		return uuid.Nil, err
	}

	return assistantMessage.Id, nil
}

func (s *tutorService) publishTurnCommitted(conversationId uuid.UUID) {
	payload, _ := json.Marshal(dto.PublishTurnCommittedMessage{ConversationId: conversationId.String()})
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubSub.Publish(TopicTurnCommitted, msg); err != nil {
		s.logger.Error("TUTOR", "Failed to publish turn-committed message", map[string]interface{}{
			"conversation_id": conversationId.String(),
			"error":           err.Error(),
		})
	}
}

func (s *tutorService) publishAnswerEvent(ctx context.Context, userId, conversationId, messageId uuid.UUID, valid, verified bool) {
	if s.natsPub == nil {
		return
	}
	evt := events.NewAnswerGenerated(userId, conversationId, messageId, valid, verified)
	if err := s.natsPub.Publish(ctx, evt); err != nil {
		s.logger.Warn("TUTOR", "Failed to publish answer event", map[string]interface{}{
			"message_id": messageId.String(),
			"error":      err.Error(),
		})
	}
}

func (s *tutorService) History(ctx context.Context, userId, conversationId uuid.UUID) (*dto.HistoryResponse, error) {
	conversation, err := s.conversations.FindById(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Conversation not found")
	}

	recent, err := s.messages.FindRecent(ctx, conversationId, 50)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	items := make([]dto.HistoryMessageDTO, 0, len(recent))
	for _, m := range recent {
		item := dto.HistoryMessageDTO{
			Id:        m.Id.String(),
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if len(m.Citations) > 0 {
			// Stored in the generate wire shape, converted at the edge.
			var cits []generate.Citation
			if err := json.Unmarshal(m.Citations, &cits); err == nil {
				item.Citations = toCitationDTOs(cits)
			}
		}
		items = append(items, item)
	}

	return &dto.HistoryResponse{
		ConversationId: conversationId.String(),
		SessionSummary: conversation.SessionSummary,
		Messages:       items,
	}, nil
}

func (s *tutorService) RequestDocumentSummary(ctx context.Context, userId, documentId uuid.UUID) (*dto.DocumentSummaryAcceptedResponse, error) {
	document, err := s.documents.FindById(ctx, userId, documentId)
	if err != nil {
		return nil, err
	}
	if document == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Document not found")
	}

	payload, _ := json.Marshal(dto.PublishDocumentSummaryMessage{
		UserId:     userId.String(),
		DocumentId: documentId.String(),
	})
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubSub.Publish(TopicDocumentSummaryRequested, msg); err != nil {
		return nil, err
	}

	return &dto.DocumentSummaryAcceptedResponse{
		DocumentId: documentId.String(),
		Status:     "queued",
	}, nil
}

func (s *tutorService) RetrieveContext(ctx context.Context, userId, conversationId uuid.UUID, query string, activeDocumentId *uuid.UUID) (*retrieval.Result, error) {
	return s.engine.Retrieve(ctx, userId, conversationId, query, activeDocumentId, nil)
}

func (s *tutorService) RetrieveDocumentOverview(ctx context.Context, userId, documentId uuid.UUID, maxChunks int) ([]*model.DocChunk, error) {
	return s.engine.Overview(ctx, userId, documentId, maxChunks)
}

func (s *tutorService) BuildContextBlock(sessionSummary string, retrieved *retrieval.Result) string {
	return contextblock.Build(contextblock.Input{
		SessionSummary: sessionSummary,
		Retrieved:      retrieved,
	})
}

func (s *tutorService) GenerateConstrainedAnswer(ctx context.Context, taskType, contextBlock, question string, temperature *float64, student *dto.StudentDTO) (*generate.Result, error) {
	return s.generator.Generate(ctx, taskType, contextBlock, question, temperature, toUserContext(student))
}

func (s *tutorService) VerifySupport(answer *generate.Answer, retrieved *retrieval.Result) *verify.Outcome {
	return s.verifier.Verify(answer, retrieved)
}

func toUserContext(student *dto.StudentDTO) *generate.UserContext {
	if student == nil {
		return nil
	}
	return &generate.UserContext{
		StudentName: student.Name,
		University:  student.University,
		Major:       student.Major,
		Year:        student.Year,
	}
}

func toCitationDTOs(citations []generate.Citation) []dto.CitationDTO {
	out := make([]dto.CitationDTO, 0, len(citations))
	for _, c := range citations {
		out = append(out, dto.CitationDTO{
			Type:  c.Type,
			Id:    c.Id,
			DocId: c.DocId,
			Page:  c.Page,
			Quote: c.Quote,
		})
	}
	return out
}

func setEmbedding(m *model.Message, vec []float32) {
	if len(vec) == 0 {
		return
	}
	m.Embedding = pgvector.NewVector(vec)
}
