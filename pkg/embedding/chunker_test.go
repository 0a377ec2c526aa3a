package embedding

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"four chars", "abcd", 1},
		{"five chars", "abcde", 2},
		{"eight chars", "abcdefgh", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokenCount(tt.text))
		})
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"control chars stripped", "hello\x00world\x07!", "helloworld!"},
		{"whitespace collapsed", "a   b\t\tc\n\nd", "a b c d"},
		{"trimmed", "  padded  ", "padded"},
		{"tabs and newlines inside kept as single space", "line1\nline2", "line1 line2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeText(tt.in))
		})
	}
}

func TestChunkTextShortInputUnchanged(t *testing.T) {
	text := "A short sentence that fits in one chunk."
	chunks := ChunkText(text, 800)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkTextSplitsOnSentences(t *testing.T) {
	// Each sentence is ~100 chars = 25 tokens; cap at 30 tokens forces one
	// sentence per chunk.
	sentence := strings.Repeat("word ", 20)
	text := sentence + ". " + sentence + ". " + sentence + "."

	chunks := ChunkText(text, 30)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateTokenCount(c), 30, "chunk exceeds token cap: %q", c)
	}
}

func TestChunkTextOversizedWordTruncated(t *testing.T) {
	// One unbroken word far above the cap falls through sentence and word
	// splitting to a hard character truncate.
	word := strings.Repeat("x", 10000)
	chunks := ChunkText(word, 100)

	require.NotEmpty(t, chunks)
	assert.Equal(t, 400, len(chunks[0])) // maxTokens * 4 chars
}

func TestChunkTextOversizedWordKeepsRunesIntact(t *testing.T) {
	// Three-byte runes: the 400-byte cap lands mid-rune unless truncation
	// backs off to a rune boundary.
	word := strings.Repeat("あ", 4000)
	chunks := ChunkText(word, 100)

	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %d contains a split rune", i)
	}
	assert.Equal(t, 399, len(chunks[0]), "cap backs off one byte to the rune boundary")
}

func TestChunkTextDeterministic(t *testing.T) {
	text := strings.Repeat("The mitochondria is the powerhouse of the cell. ", 200)

	first := ChunkText(text, 800)
	second := ChunkText(text, 800)
	assert.Equal(t, first, second)
}

func TestChunkTextCoversAllContent(t *testing.T) {
	text := strings.Repeat("Photosynthesis converts light into chemical energy. ", 100)
	chunks := ChunkText(text, 100)

	joined := strings.Join(chunks, " ")
	assert.Contains(t, joined, "Photosynthesis converts light into chemical energy")
	// No chunk may be empty.
	for i, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c), "chunk %d is empty", i)
	}
}
