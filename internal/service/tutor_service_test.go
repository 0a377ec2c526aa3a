package service

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"

	"ai-tutor-be/internal/dto"
	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"
	"ai-tutor-be/pkg/llm"
	"ai-tutor-be/pkg/rag/generate"
	"ai-tutor-be/pkg/rag/retrieval"
	"ai-tutor-be/pkg/rag/verify"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(string, string, map[string]interface{}) {}
func (noopLogger) Info(string, string, map[string]interface{})  {}
func (noopLogger) Warn(string, string, map[string]interface{})  {}
func (noopLogger) Error(string, string, map[string]interface{}) {}
func (noopLogger) Sync() error                                  { return nil }

type stubEmbedder struct{}

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5, 0.5}
	}
	return out, nil
}

type stubLLM struct {
	response string
}

func (s *stubLLM) Chat(_ context.Context, _ []llm.Message, _ ...llm.Option) (string, error) {
	return s.response, nil
}

type memMessageRepo struct {
	contract.MessageRepository
	created []*model.Message
}

func (r *memMessageRepo) Create(_ context.Context, m *model.Message) error {
	r.created = append(r.created, m)
	return nil
}

func (r *memMessageRepo) SearchSimilarWithScore(_ context.Context, _ []float32, _, _ int, _ uuid.UUID) ([]*contract.ScoredMessage, error) {
	return nil, nil
}

func (r *memMessageRepo) FindRecent(_ context.Context, _ uuid.UUID, _ int) ([]*model.Message, error) {
	return nil, nil
}

type memConversationRepo struct {
	contract.ConversationRepository
	conversation *model.Conversation
}

func (r *memConversationRepo) FindById(_ context.Context, userId, id uuid.UUID) (*model.Conversation, error) {
	if r.conversation == nil || r.conversation.Id != id || r.conversation.UserId != userId {
		return nil, nil
	}
	return r.conversation, nil
}

type memDocumentRepo struct {
	contract.DocumentRepository
}

type memChunkRepo struct {
	contract.DocChunkRepository
	scored []*contract.ScoredDocChunk
}

func (r *memChunkRepo) SearchSimilarWithScore(_ context.Context, _ []float32, _, _ int, _, _ uuid.UUID) ([]*contract.ScoredDocChunk, error) {
	return r.scored, nil
}

type memMemoryRepo struct {
	contract.MemoryRepository
}

func (r *memMemoryRepo) SearchSimilarWithScore(_ context.Context, _ []float32, _, _ int, _ uuid.UUID) ([]*contract.ScoredMemory, error) {
	return nil, nil
}

type askFixture struct {
	svc            ITutorService
	messages       *memMessageRepo
	userId         uuid.UUID
	conversationId uuid.UUID
	documentId     uuid.UUID
	chunkId        uuid.UUID
}

// newAskFixture wires a full pipeline over in-memory fakes: one retrievable
// chunk, one owned conversation, and a scripted LLM response.
func newAskFixture(t *testing.T, llmResponse string, chunkId uuid.UUID) *askFixture {
	t.Helper()

	userId := uuid.New()
	conversationId := uuid.New()
	documentId := uuid.New()

	chunkRepo := &memChunkRepo{scored: []*contract.ScoredDocChunk{{
		Chunk: &model.DocChunk{
			Id: chunkId, UserId: userId, DocumentId: documentId, Page: 1,
			Text: "Photosynthesis converts light energy into chemical energy.",
		},
		Score: 0.9,
	}}}
	messageRepo := &memMessageRepo{}
	conversationRepo := &memConversationRepo{conversation: &model.Conversation{
		Id: conversationId, UserId: userId, Title: "Biology",
	}}

	quiet := log.New(io.Discard, "", 0)
	engine := retrieval.NewEngine(stubEmbedder{}, chunkRepo, messageRepo, &memMemoryRepo{},
		retrieval.Params{KDocs: 12, KMsgs: 3, KMems: 2, LastN: 12, RelevanceThreshold: 0.25}, quiet)
	generator := generate.NewController(&stubLLM{response: llmResponse}, generate.Params{}, quiet)
	verifier := verify.NewVerifier(verify.DefaultConfig())
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))

	svc := NewTutorService(engine, generator, verifier, stubEmbedder{},
		messageRepo, conversationRepo, &memDocumentRepo{}, pubSub, nil, noopLogger{})

	return &askFixture{
		svc:            svc,
		messages:       messageRepo,
		userId:         userId,
		conversationId: conversationId,
		documentId:     documentId,
		chunkId:        chunkId,
	}
}

func answerCiting(chunkId uuid.UUID) string {
	payload := map[string]interface{}{
		"answer": "Photosynthesis converts light energy into chemical energy.",
		"citations": []map[string]interface{}{{
			"type":  "pdf",
			"id":    chunkId.String(),
			"quote": "light energy into chemical energy",
		}},
		"uncertainty": map[string]interface{}{"isUncertain": false, "reasons": []string{}},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestAskHappyPath(t *testing.T) {
	chunkId := uuid.New()
	f := newAskFixture(t, answerCiting(chunkId), chunkId)

	res, err := f.svc.Ask(context.Background(), f.userId, &dto.AskRequest{
		ConversationId:   f.conversationId.String(),
		Question:         "What does photosynthesis do?",
		ActiveDocumentId: f.documentId.String(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Photosynthesis converts light energy into chemical energy.", res.Answer)
	assert.True(t, res.Verified, "citation pointing at the retrieved chunk must verify")
	assert.False(t, res.Uncertainty.IsUncertain)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, chunkId.String(), res.Citations[0].Id)

	// Both turn messages persisted, assistant with citations and embedding.
	require.Len(t, f.messages.created, 2)
	assert.Equal(t, model.MessageRoleUser, f.messages.created[0].Role)
	assert.Equal(t, model.MessageRoleAssistant, f.messages.created[1].Role)
	assert.NotEmpty(t, f.messages.created[1].Citations)
	assert.Equal(t, res.MessageId, f.messages.created[1].Id.String())
}

func TestAskUnknownConversation(t *testing.T) {
	chunkId := uuid.New()
	f := newAskFixture(t, answerCiting(chunkId), chunkId)

	_, err := f.svc.Ask(context.Background(), f.userId, &dto.AskRequest{
		ConversationId: uuid.New().String(), // not the fixture's conversation
		Question:       "Q",
	})
	assert.Error(t, err)
	assert.Empty(t, f.messages.created)
}

func TestAskSchemaFailureDegradesToRefusal(t *testing.T) {
	f := newAskFixture(t, "never valid json", uuid.New())

	res, err := f.svc.Ask(context.Background(), f.userId, &dto.AskRequest{
		ConversationId: f.conversationId.String(),
		Question:       "Q",
	})
	require.NoError(t, err, "schema failures must not surface as request errors")

	assert.Equal(t, "I don't know", res.Answer)
	assert.True(t, res.Uncertainty.IsUncertain)
	assert.True(t, res.Retried)
	require.Len(t, f.messages.created, 2, "refusal turns are still persisted")
}

func TestAskWithoutActiveDocument(t *testing.T) {
	chunkId := uuid.New()
	// Answer cites a chunk, but with no active document the doc leg is empty,
	// so the citation cannot verify.
	f := newAskFixture(t, answerCiting(chunkId), chunkId)

	res, err := f.svc.Ask(context.Background(), f.userId, &dto.AskRequest{
		ConversationId: f.conversationId.String(),
		Question:       "What does photosynthesis do?",
	})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.True(t, res.Uncertainty.IsUncertain)
}
