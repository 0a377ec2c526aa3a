package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeChunkRepo struct {
	contract.DocChunkRepository
	scored    []*contract.ScoredDocChunk
	searchErr error
	recent    []*model.DocChunk
	recentErr error
	ordered   []*model.DocChunk

	gotUserId     uuid.UUID
	gotDocumentId uuid.UUID
	gotPool       int
}

func (f *fakeChunkRepo) SearchSimilarWithScore(_ context.Context, _ []float32, limit, pool int, userId, documentId uuid.UUID) ([]*contract.ScoredDocChunk, error) {
	f.gotUserId, f.gotDocumentId, f.gotPool = userId, documentId, pool
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.scored) > limit {
		return f.scored[:limit], nil
	}
	return f.scored, nil
}

func (f *fakeChunkRepo) FindRecent(_ context.Context, _, _ uuid.UUID, _ int) ([]*model.DocChunk, error) {
	return f.recent, f.recentErr
}

func (f *fakeChunkRepo) FindByDocumentPageOrdered(_ context.Context, _, _ uuid.UUID, limit int) ([]*model.DocChunk, error) {
	if len(f.ordered) > limit {
		return f.ordered[:limit], nil
	}
	return f.ordered, nil
}

type fakeMessageRepo struct {
	contract.MessageRepository
	scored    []*contract.ScoredMessage
	searchErr error
	recent    []*model.Message
	recentErr error
}

func (f *fakeMessageRepo) SearchSimilarWithScore(_ context.Context, _ []float32, limit, _ int, _ uuid.UUID) ([]*contract.ScoredMessage, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.scored) > limit {
		return f.scored[:limit], nil
	}
	return f.scored, nil
}

func (f *fakeMessageRepo) FindRecent(_ context.Context, _ uuid.UUID, limit int) ([]*model.Message, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

type fakeMemoryRepo struct {
	contract.MemoryRepository
	scored    []*contract.ScoredMemory
	searchErr error
	recent    []*model.Memory
}

func (f *fakeMemoryRepo) SearchSimilarWithScore(_ context.Context, _ []float32, limit, _ int, _ uuid.UUID) ([]*contract.ScoredMemory, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.scored) > limit {
		return f.scored[:limit], nil
	}
	return f.scored, nil
}

func (f *fakeMemoryRepo) FindRecent(_ context.Context, _ uuid.UUID, _ int) ([]*model.Memory, error) {
	return f.recent, nil
}

func testParams() Params {
	return Params{KDocs: 12, KMsgs: 3, KMems: 2, LastN: 12, RelevanceThreshold: 0.25}
}

func newTestEngine(chunks *fakeChunkRepo, messages *fakeMessageRepo, memories *fakeMemoryRepo) *Engine {
	quiet := log.New(io.Discard, "", 0)
	return NewEngine(&fakeEmbedder{}, chunks, messages, memories, testParams(), quiet)
}

func scoredChunk(userId, docId uuid.UUID, score float64) *contract.ScoredDocChunk {
	return &contract.ScoredDocChunk{
		Chunk: &model.DocChunk{Id: uuid.New(), UserId: userId, DocumentId: docId, Text: "chunk"},
		Score: score,
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(&fakeChunkRepo{}, &fakeMessageRepo{}, &fakeMemoryRepo{})
	_, err := e.Retrieve(context.Background(), uuid.New(), uuid.New(), "   ", nil, nil)
	assert.Error(t, err)
}

func TestRetrieveEmbeddingFailureIsFatal(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	e := NewEngine(&fakeEmbedder{err: errors.New("embed down")},
		&fakeChunkRepo{}, &fakeMessageRepo{}, &fakeMemoryRepo{}, testParams(), quiet)

	_, err := e.Retrieve(context.Background(), uuid.New(), uuid.New(), "question", nil, nil)
	assert.Error(t, err)
}

func TestRetrieveNoActiveDocumentSkipsChunks(t *testing.T) {
	userId := uuid.New()
	chunks := &fakeChunkRepo{scored: []*contract.ScoredDocChunk{scoredChunk(userId, uuid.New(), 0.9)}}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), userId, uuid.New(), "question", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.DocChunks, "no active document must yield no chunks")
	assert.Equal(t, uuid.Nil, chunks.gotUserId, "chunk search must not run")
}

func TestRetrieveScopesChunkSearchToOwnerAndDocument(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{scored: []*contract.ScoredDocChunk{scoredChunk(userId, docId, 0.9)}}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), userId, uuid.New(), "question", &docId, nil)
	require.NoError(t, err)
	require.Len(t, res.DocChunks, 1)
	assert.Equal(t, userId, chunks.gotUserId)
	assert.Equal(t, docId, chunks.gotDocumentId)
}

func TestRetrieveCandidatePoolFloor(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	_, err := e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId, nil)
	require.NoError(t, err)
	// kDocs=12 -> pool = 120 (12*10 > 50)
	assert.Equal(t, 120, chunks.gotPool)

	_, err = e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId, &Params{KDocs: 2})
	require.NoError(t, err)
	// kDocs=2 -> pool floor of 50
	assert.Equal(t, 50, chunks.gotPool)
}

func TestRetrieveThresholdFiltering(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{scored: []*contract.ScoredDocChunk{
		scoredChunk(userId, uuid.New(), 0.80),
		scoredChunk(userId, uuid.New(), 0.26),
		scoredChunk(userId, uuid.New(), 0.24), // below 0.25
		scoredChunk(userId, uuid.New(), 0.10),
	}}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId, nil)
	require.NoError(t, err)
	require.Len(t, res.DocChunks, 2)
	for _, sc := range res.DocChunks {
		assert.GreaterOrEqual(t, sc.Score, 0.25)
	}
}

func TestRetrieveThresholdMonotonicity(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{scored: []*contract.ScoredDocChunk{
		scoredChunk(userId, uuid.New(), 0.9),
		scoredChunk(userId, uuid.New(), 0.5),
		scoredChunk(userId, uuid.New(), 0.3),
	}}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	prev := 4
	for _, threshold := range []float64{0.1, 0.4, 0.6, 0.95} {
		res, err := e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId,
			&Params{RelevanceThreshold: threshold})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.DocChunks), prev,
			"raising the threshold must never grow the result set")
		prev = len(res.DocChunks)
	}
}

func TestRetrieveDedupesChunksByOwnerAndDocument(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{scored: []*contract.ScoredDocChunk{
		scoredChunk(userId, docId, 0.9),
		scoredChunk(userId, docId, 0.8), // same (owner, document) pair
		scoredChunk(userId, uuid.New(), 0.7),
	}}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId, nil)
	require.NoError(t, err)
	require.Len(t, res.DocChunks, 2)
	assert.Equal(t, 0.9, res.DocChunks[0].Score, "highest-scoring duplicate survives")
}

func TestRetrieveFallbackOnSearchFailure(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{
		searchErr: errors.New("pgvector down"),
		recent: []*model.DocChunk{
			{Id: uuid.New(), UserId: userId, DocumentId: docId, Text: "recent"},
		},
	}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId,
		&Params{RelevanceThreshold: 0.99})
	require.NoError(t, err)
	require.Len(t, res.DocChunks, 1)
	// Fallback results carry a neutral score and skip the threshold filter.
	assert.Equal(t, fallbackScore, res.DocChunks[0].Score)
}

func TestRetrieveDoubleFailureYieldsEmptyLeg(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	chunks := &fakeChunkRepo{
		searchErr: errors.New("search down"),
		recentErr: errors.New("recency down"),
	}
	messages := &fakeMessageRepo{scored: []*contract.ScoredMessage{{
		Message: &model.Message{Id: uuid.New(), Content: "still here"},
		Score:   0.8,
	}}}
	e := newTestEngine(chunks, messages, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), userId, uuid.New(), "q", &docId, nil)
	require.NoError(t, err, "one dead leg must not fail the retrieval")
	assert.Empty(t, res.DocChunks)
	assert.Len(t, res.PastMessages, 1, "other legs keep working")
}

func TestRetrieveLastTurnsChronological(t *testing.T) {
	newest := &model.Message{Id: uuid.New(), Content: "newest"}
	oldest := &model.Message{Id: uuid.New(), Content: "oldest"}
	messages := &fakeMessageRepo{recent: []*model.Message{newest, oldest}} // repo returns newest first
	e := newTestEngine(&fakeChunkRepo{}, messages, &fakeMemoryRepo{})

	res, err := e.Retrieve(context.Background(), uuid.New(), uuid.New(), "q", nil, nil)
	require.NoError(t, err)
	require.Len(t, res.LastTurns, 2)
	assert.Equal(t, "oldest", res.LastTurns[0].Content)
	assert.Equal(t, "newest", res.LastTurns[1].Content)
}

func TestOverviewStrideSampling(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	ordered := make([]*model.DocChunk, 500)
	for i := range ordered {
		ordered[i] = &model.DocChunk{
			Id:         uuid.New(),
			UserId:     userId,
			DocumentId: docId,
			Page:       i + 1,
			Text:       fmt.Sprintf("page %d", i+1),
		}
	}
	chunks := &fakeChunkRepo{ordered: ordered}
	e := newTestEngine(chunks, &fakeMessageRepo{}, &fakeMemoryRepo{})

	sampled, err := e.Overview(context.Background(), userId, docId, 20)
	require.NoError(t, err)
	require.Len(t, sampled, 20)

	assert.Equal(t, 1, sampled[0].Page, "first chunk always included")
	assert.Equal(t, 500, sampled[len(sampled)-1].Page, "tail of the document covered")
	for i := 1; i < len(sampled); i++ {
		assert.Greater(t, sampled[i].Page, sampled[i-1].Page, "page order preserved")
	}
}

func TestOverviewSmallDocumentUnsampled(t *testing.T) {
	userId, docId := uuid.New(), uuid.New()
	ordered := []*model.DocChunk{
		{Id: uuid.New(), Page: 1}, {Id: uuid.New(), Page: 2}, {Id: uuid.New(), Page: 3},
	}
	e := newTestEngine(&fakeChunkRepo{ordered: ordered}, &fakeMessageRepo{}, &fakeMemoryRepo{})

	sampled, err := e.Overview(context.Background(), userId, docId, 20)
	require.NoError(t, err)
	assert.Len(t, sampled, 3)
}

func TestOverviewNilIdsYieldEmpty(t *testing.T) {
	e := newTestEngine(&fakeChunkRepo{}, &fakeMessageRepo{}, &fakeMemoryRepo{})
	sampled, err := e.Overview(context.Background(), uuid.Nil, uuid.New(), 20)
	require.NoError(t, err)
	assert.Empty(t, sampled)
}
