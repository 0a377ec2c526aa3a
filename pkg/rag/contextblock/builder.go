package contextblock

import (
	"fmt"
	"regexp"
	"strings"

	"ai-tutor-be/internal/model"
	"ai-tutor-be/pkg/rag/retrieval"
)

// Snippet caps per source type, in characters, ellipsis included. Document
// chunks carry the most signal so they get the longest budget; last turns only
// need enough to keep the conversational thread.
const (
	maxDocChunkChars = 1000
	maxMessageChars  = 400
	maxMemoryChars   = 300
	maxTurnChars     = 200
)

// Input carries everything the builder renders into one prompt block.
type Input struct {
	SessionSummary string
	Retrieved      *retrieval.Result
}

// Build renders retrieval results into a deterministic, labeled text block.
// Empty sections are omitted. Identical input always yields an identical
// block, so prompts are reproducible and citation ids can be traced back to
// their source lines.
func Build(in Input) string {
	var lines []string

	addSection := func(header string, body []string) {
		if len(body) == 0 {
			return
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, header)
		lines = append(lines, body...)
	}

	if s := strings.TrimSpace(in.SessionSummary); s != "" {
		addSection("SESSION_SUMMARY:", []string{s})
	}

	if in.Retrieved != nil {
		var chunks []string
		for _, sc := range in.Retrieved.DocChunks {
			chunks = append(chunks, formatDocChunk(sc.Chunk))
		}
		addSection("DOC_CHUNKS:", chunks)

		var messages []string
		for _, sm := range in.Retrieved.PastMessages {
			messages = append(messages, formatMessage(sm.Message))
		}
		addSection("RELEVANT_CHAT_MESSAGES:", messages)

		var memories []string
		for _, sm := range in.Retrieved.Memories {
			memories = append(memories, formatMemory(sm.Memory))
		}
		addSection("PROFILE_MEMORIES:", memories)

		var turns []string
		for _, m := range in.Retrieved.LastTurns {
			turns = append(turns, fmt.Sprintf("- id=%s role=%s: %s",
				m.Id, m.Role, snippet(m.Content, maxTurnChars)))
		}
		addSection("LAST_TURNS:", turns)
	}

	return strings.Join(lines, "\n")
}

func formatDocChunk(c *model.DocChunk) string {
	return fmt.Sprintf("- [pdf] id=%s docId=%s page=%d: %s",
		c.Id, c.DocumentId, c.Page, snippet(c.Text, maxDocChunkChars))
}

func formatMessage(m *model.Message) string {
	return fmt.Sprintf("- [chat] id=%s role=%s: %s",
		m.Id, m.Role, snippet(m.Content, maxMessageChars))
}

func formatMemory(m *model.Memory) string {
	return fmt.Sprintf("- [profile] id=%s kind=%s: %s",
		m.Id, m.Kind, snippet(m.Content, maxMemoryChars))
}

var spaceRuns = regexp.MustCompile(`\s+`)

// snippet collapses whitespace so multi-line text stays on one line, then
// truncates on a rune boundary. The cap bounds the whole snippet, ellipsis
// included.
func snippet(text string, max int) string {
	text = strings.TrimSpace(spaceRuns.ReplaceAllString(text, " "))
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}
