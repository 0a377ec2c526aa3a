package embedding

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxTokensPerChunk caps chunk size using the chars/4 token estimate. Inputs
// above the cap are split on sentence boundaries, then words, then characters.
const maxTokensPerChunk = 800

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	multiSpace    = regexp.MustCompile(`\s+`)
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
)

// EstimateTokenCount approximates tokens as one per four characters.
func EstimateTokenCount(text string) int {
	return (len(text) + 3) / 4
}

// SanitizeText strips control characters and collapses whitespace.
func SanitizeText(text string) string {
	cleaned := controlChars.ReplaceAllString(text, "")
	cleaned = multiSpace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ChunkText splits text into pieces under the token cap. Text under the cap
// comes back as a single chunk, unchanged.
func ChunkText(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = maxTokensPerChunk
	}
	if EstimateTokenCount(text) <= maxTokens {
		return []string{text}
	}

	var chunks []string
	currentChunk := ""

	for _, sentence := range sentenceSplit.Split(text, -1) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}

		testChunk := trimmed
		if currentChunk != "" {
			testChunk = currentChunk + ". " + trimmed
		}

		if EstimateTokenCount(testChunk) <= maxTokens {
			currentChunk = testChunk
			continue
		}

		if currentChunk != "" {
			chunks = append(chunks, currentChunk)
			currentChunk = trimmed
			if EstimateTokenCount(currentChunk) <= maxTokens {
				continue
			}
			currentChunk = ""
		}

		// Single sentence over the cap: fall back to word splitting.
		chunks, currentChunk = splitByWords(trimmed, maxTokens, chunks)
	}

	if currentChunk != "" {
		chunks = append(chunks, currentChunk)
	}

	return chunks
}

func splitByWords(sentence string, maxTokens int, chunks []string) ([]string, string) {
	wordChunk := ""
	for _, word := range strings.Fields(sentence) {
		testChunk := word
		if wordChunk != "" {
			testChunk = wordChunk + " " + word
		}

		if EstimateTokenCount(testChunk) <= maxTokens {
			wordChunk = testChunk
			continue
		}

		if wordChunk != "" {
			chunks = append(chunks, wordChunk)
			wordChunk = word
			continue
		}

		// Single word over the cap: hard truncate, backing off to a rune
		// boundary so multi-byte characters are never split.
		limit := maxTokens * 4
		if limit >= len(word) {
			chunks = append(chunks, word)
			continue
		}
		for limit > 0 && !utf8.RuneStart(word[limit]) {
			limit--
		}
		chunks = append(chunks, word[:limit])
	}
	return chunks, wordChunk
}
