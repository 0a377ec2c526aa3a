package verify

import (
	"fmt"
	"regexp"
	"strings"

	"ai-tutor-be/pkg/rag/generate"
	"ai-tutor-be/pkg/rag/retrieval"
)

// Outcome reports how well an answer's claims are backed by the retrieved
// context. It is a heuristic signal, not a proof: lexical overlap catches
// fabricated citations and off-context claims, nothing subtler.
type Outcome struct {
	OK                bool
	UnsupportedClaims []string
	Reasons           []string
	CheckedCitations  int
}

// Config tunes the lexical support heuristics.
type Config struct {
	// MinSupportScore is the minimum fraction of a claim's content tokens
	// that must appear in a cited source.
	MinSupportScore float64
	// MinOverlapCount alternatively accepts a claim on absolute token overlap.
	MinOverlapCount int
	// MaxReasons caps how many reasons get written into the answer's
	// uncertainty block.
	MaxReasons int
}

func DefaultConfig() Config {
	return Config{
		MinSupportScore: 0.3,
		MinOverlapCount: 3,
		MaxReasons:      6,
	}
}

type Verifier struct {
	cfg Config
}

func NewVerifier(cfg Config) *Verifier {
	defaults := DefaultConfig()
	if cfg.MinSupportScore <= 0 {
		cfg.MinSupportScore = defaults.MinSupportScore
	}
	if cfg.MinOverlapCount <= 0 {
		cfg.MinOverlapCount = defaults.MinOverlapCount
	}
	if cfg.MaxReasons <= 0 {
		cfg.MaxReasons = defaults.MaxReasons
	}
	return &Verifier{cfg: cfg}
}

const claimTruncateChars = 160

// Verify checks every citation against the retrieved context and every answer
// sentence against the union of cited sources. On failure it flips the
// answer's uncertainty block in place so the caller ships an honest answer.
func (v *Verifier) Verify(answer *generate.Answer, retrieved *retrieval.Result) *Outcome {
	outcome := &Outcome{OK: true}
	if answer == nil {
		outcome.OK = false
		outcome.Reasons = []string{"no answer to verify"}
		return outcome
	}

	lookup := buildLookup(retrieved)

	var cited []citedSource
	for _, c := range answer.Citations {
		outcome.CheckedCitations++

		source, found := lookup[citationKey(c.Type, c.Id)]
		if !found {
			outcome.Reasons = append(outcome.Reasons,
				fmt.Sprintf("citation %s:%s does not match any retrieved context", c.Type, c.Id))
			continue
		}
		cited = append(cited, citedSource{text: source, quote: c.Quote})

		// Quote matching ignores case and punctuation so a dropped comma does
		// not fail an otherwise verbatim quote.
		if quote := normalizeText(c.Quote); quote != "" {
			if !strings.Contains(normalizeText(source), quote) {
				outcome.Reasons = append(outcome.Reasons,
					fmt.Sprintf("quoted text not found in cited source %s:%s", c.Type, c.Id))
			}
		}
	}

	if len(answer.Citations) == 0 && !answer.Uncertainty.IsUncertain {
		outcome.Reasons = append(outcome.Reasons, "answer provides no citations")
	}

	// A citation-free answer that already admits uncertainty is a refusal,
	// not a set of claims to check.
	refusal := len(answer.Citations) == 0 && answer.Uncertainty.IsUncertain
	if !refusal {
		for _, claim := range splitSentences(answer.Answer) {
			if !v.claimSupported(claim, cited) {
				outcome.UnsupportedClaims = append(outcome.UnsupportedClaims, truncateClaim(claim))
			}
		}
	}

	if len(outcome.Reasons) > 0 || len(outcome.UnsupportedClaims) > 0 {
		outcome.OK = false
		answer.Uncertainty.IsUncertain = true
		for _, claim := range outcome.UnsupportedClaims {
			outcome.Reasons = append(outcome.Reasons, "unsupported claim: "+claim)
		}
		if len(outcome.Reasons) > v.cfg.MaxReasons {
			outcome.Reasons = outcome.Reasons[:v.cfg.MaxReasons]
		}
		answer.Uncertainty.Reasons = appendUnique(answer.Uncertainty.Reasons, outcome.Reasons, v.cfg.MaxReasons)
	}

	return outcome
}

// citedSource pairs a resolved citation's source text with its quote, so
// claim support can also be granted when the claim carries the quote itself.
type citedSource struct {
	text  string
	quote string
}

// claimSupported accepts a claim when any cited source clears the overlap
// ratio or the absolute overlap count, or when the claim contains that
// citation's quoted substring.
func (v *Verifier) claimSupported(claim string, sources []citedSource) bool {
	claimTokens := contentTokens(claim)
	normClaim := normalizeText(claim)

	for _, source := range sources {
		sourceTokens := make(map[string]bool)
		for _, t := range contentTokens(source.text) {
			sourceTokens[t] = true
		}

		overlap := 0
		for _, t := range claimTokens {
			if sourceTokens[t] {
				overlap++
			}
		}
		ratio := float64(overlap) / float64(max(1, len(claimTokens)))
		if ratio >= v.cfg.MinSupportScore || overlap >= v.cfg.MinOverlapCount {
			return true
		}

		if quote := normalizeText(source.quote); quote != "" && strings.Contains(normClaim, quote) {
			return true
		}
	}
	return false
}

func citationKey(citationType, id string) string {
	return citationType + ":" + id
}

// buildLookup indexes retrieved context by citation key. Chat citations can
// point at either similarity hits or recent turns.
func buildLookup(retrieved *retrieval.Result) map[string]string {
	lookup := make(map[string]string)
	if retrieved == nil {
		return lookup
	}

	for _, sc := range retrieved.DocChunks {
		lookup[citationKey(generate.CitationTypePdf, sc.Chunk.Id.String())] = sc.Chunk.Text
	}
	for _, sm := range retrieved.PastMessages {
		lookup[citationKey(generate.CitationTypeChat, sm.Message.Id.String())] = sm.Message.Content
	}
	for _, m := range retrieved.LastTurns {
		lookup[citationKey(generate.CitationTypeChat, m.Id.String())] = m.Content
	}
	for _, sm := range retrieved.Memories {
		lookup[citationKey(generate.CitationTypeProfile, sm.Memory.Id.String())] = sm.Memory.Content
	}
	return lookup
}

var (
	sentenceEnd = regexp.MustCompile(`[.!?]+`)
	wordPattern = regexp.MustCompile(`[a-z0-9]+`)
	nonAlnum    = regexp.MustCompile(`[^a-z0-9\s]`)
)

// normalizeText lowercases and strips punctuation so substring checks survive
// cosmetic differences between a quote and its source.
func normalizeText(text string) string {
	lowered := strings.ToLower(text)
	lowered = nonAlnum.ReplaceAllString(lowered, " ")
	return strings.Join(strings.Fields(lowered), " ")
}

// stopwords excluded from overlap scoring. Function words inflate overlap
// without indicating real support.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "was": true,
	"with": true, "that": true, "this": true, "have": true, "has": true,
	"from": true, "they": true, "will": true, "its": true, "their": true,
	"which": true, "when": true, "what": true, "where": true, "how": true,
	"into": true, "also": true, "than": true, "then": true, "them": true,
	"these": true, "those": true, "such": true, "been": true, "were": true,
	"your": true, "does": true, "about": true, "there": true, "more": true,
	"other": true, "some": true, "would": true, "could": true, "should": true,
}

func splitSentences(text string) []string {
	var sentences []string
	rest := text
	for {
		loc := sentenceEnd.FindStringIndex(rest)
		if loc == nil {
			if s := strings.TrimSpace(rest); s != "" {
				sentences = append(sentences, s)
			}
			return sentences
		}
		if s := strings.TrimSpace(rest[:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		rest = rest[loc[1]:]
	}
}

// contentTokens lowercases and keeps alphanumeric runs of three characters or
// more, minus stopwords.
func contentTokens(text string) []string {
	var tokens []string
	for _, t := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(t) >= 3 && !stopwords[t] {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func truncateClaim(claim string) string {
	runes := []rune(claim)
	if len(runes) <= claimTruncateChars {
		return claim
	}
	return string(runes[:claimTruncateChars]) + "..."
}

func appendUnique(existing, incoming []string, limit int) []string {
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r] = true
	}
	for _, r := range incoming {
		if len(existing) >= limit {
			break
		}
		if !seen[r] {
			existing = append(existing, r)
			seen[r] = true
		}
	}
	return existing
}
