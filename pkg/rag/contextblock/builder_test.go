package contextblock

import (
	"fmt"
	"strings"
	"testing"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/internal/repository/contract"
	"ai-tutor-be/pkg/rag/retrieval"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func sampleInput() Input {
	chunkId := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	docId := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	msgId := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	memId := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	turnId := uuid.MustParse("55555555-5555-5555-5555-555555555555")

	return Input{
		SessionSummary: "The student is revising for a biology exam.",
		Retrieved: &retrieval.Result{
			DocChunks: []*contract.ScoredDocChunk{{
				Chunk: &model.DocChunk{
					Id: chunkId, DocumentId: docId, Page: 4,
					Text: "Photosynthesis converts light energy into chemical energy.",
				},
				Score: 0.91,
			}},
			PastMessages: []*contract.ScoredMessage{{
				Message: &model.Message{Id: msgId, Role: "user", Content: "What is chlorophyll?"},
				Score:   0.55,
			}},
			Memories: []*contract.ScoredMemory{{
				Memory: &model.Memory{Id: memId, Kind: "profile", Content: "Second-year biology student."},
				Score:  0.40,
			}},
			LastTurns: []*model.Message{
				{Id: uuid.New(), Role: "user", Content: "Hi!"},
				{Id: turnId, Role: "assistant", Content: "Hello, ready to study?"},
			},
		},
	}
}

func TestBuildContainsAllSections(t *testing.T) {
	block := Build(sampleInput())

	for _, label := range []string{
		"SESSION_SUMMARY:", "DOC_CHUNKS:", "RELEVANT_CHAT_MESSAGES:",
		"PROFILE_MEMORIES:", "LAST_TURNS:",
	} {
		assert.Contains(t, block, label)
	}
}

func TestBuildLineFormats(t *testing.T) {
	block := Build(sampleInput())

	assert.Contains(t, block,
		"- [pdf] id=11111111-1111-1111-1111-111111111111 docId=22222222-2222-2222-2222-222222222222 page=4: Photosynthesis")
	assert.Contains(t, block,
		"- [chat] id=33333333-3333-3333-3333-333333333333 role=user: What is chlorophyll?")
	assert.Contains(t, block,
		"- [profile] id=44444444-4444-4444-4444-444444444444 kind=profile: Second-year biology student.")
	// Last turns carry their id so the model can cite recent messages too.
	assert.Contains(t, block,
		"- id=55555555-5555-5555-5555-555555555555 role=assistant: Hello, ready to study?")
}

func TestBuildDeterministic(t *testing.T) {
	in := sampleInput()
	assert.Equal(t, Build(in), Build(in))
}

func TestBuildOmitsEmptySections(t *testing.T) {
	assert.Empty(t, Build(Input{}), "nothing to render yields an empty block")

	block := Build(Input{SessionSummary: "summary only"})
	assert.Equal(t, "SESSION_SUMMARY:\nsummary only", block)
	assert.NotContains(t, block, "DOC_CHUNKS:")
	assert.NotContains(t, block, "(none)")
}

func TestBuildNormalizesSnippetWhitespace(t *testing.T) {
	in := Input{
		Retrieved: &retrieval.Result{
			DocChunks: []*contract.ScoredDocChunk{{
				Chunk: &model.DocChunk{
					Id: uuid.New(), DocumentId: uuid.New(),
					Text: "line one\nline two\t\tend",
				},
			}},
		},
	}

	block := Build(in)
	assert.Contains(t, block, "line one line two end")
	assert.Len(t, strings.Split(block, "\n"), 2, "header plus a single chunk line")
}

func TestBuildSnippetCaps(t *testing.T) {
	longText := strings.Repeat("x", 5000)
	in := Input{
		Retrieved: &retrieval.Result{
			DocChunks: []*contract.ScoredDocChunk{{
				Chunk: &model.DocChunk{Id: uuid.New(), DocumentId: uuid.New(), Text: longText},
			}},
			PastMessages: []*contract.ScoredMessage{{
				Message: &model.Message{Id: uuid.New(), Role: "user", Content: longText},
			}},
			Memories: []*contract.ScoredMemory{{
				Memory: &model.Memory{Id: uuid.New(), Kind: "fact", Content: longText},
			}},
			LastTurns: []*model.Message{{Id: uuid.New(), Role: "user", Content: longText}},
		},
	}

	lines := strings.Split(Build(in), "\n")
	caps := map[string]int{
		"- [pdf] ":     maxDocChunkChars,
		"- [chat] ":    maxMessageChars,
		"- [profile] ": maxMemoryChars,
		"- id=":        maxTurnChars,
	}
	seen := 0
	for _, line := range lines {
		for prefix, max := range caps {
			if strings.HasPrefix(line, prefix) {
				seen++
				count := strings.Count(line, "x")
				assert.Equal(t, max-3, count, fmt.Sprintf("%q snippet cap leaves room for the ellipsis", prefix))
				assert.True(t, strings.HasSuffix(line, "..."), "truncated snippet gets an ellipsis")
			}
		}
	}
	assert.Equal(t, 4, seen, "every source type checked")
}

func TestBuildNilRetrievedSafe(t *testing.T) {
	block := Build(Input{SessionSummary: "summary only"})
	assert.Contains(t, block, "summary only")
}
