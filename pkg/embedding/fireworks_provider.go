package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FireworksProvider embeds text through the Fireworks batched embeddings API.
// Overlong inputs are chunked and the chunk vectors are averaged back to one
// vector per input. Transient failures are retried with exponential backoff.
type FireworksProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	client     *http.Client

	// cache keyed by sanitized text; the same query string shows up on every
	// turn of a conversation, so a short TTL saves a remote round trip.
	cache *gocache.Cache
}

var _ Provider = &FireworksProvider{}

const retryBaseDelay = 1 * time.Second

func NewFireworksProvider(apiKey, baseURL, model string, maxRetries, timeoutMs int) *FireworksProvider {
	if baseURL == "" {
		baseURL = "https://api.fireworks.ai/inference/v1"
	}
	if model == "" {
		model = "nomic-ai/nomic-embed-text-v1.5"
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	return &FireworksProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxRetries: maxRetries,
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
		cache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedTexts returns one vector per input, in input order. Inputs that were
// split into multiple chunks get the element-wise mean of the chunk vectors,
// without re-normalization.
func (p *FireworksProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrInvalidInput
	}
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	sanitized := make([]string, 0, len(texts))
	for _, text := range texts {
		if s := SanitizeText(text); s != "" {
			sanitized = append(sanitized, s)
		}
	}
	if len(sanitized) == 0 {
		return nil, ErrInvalidInput
	}

	result := make([][]float32, len(sanitized))

	// Chunk every remaining input and remember which chunks belong to which
	// input so the vectors can be reassembled afterwards.
	var allChunks []string
	chunkRanges := make([][2]int, len(sanitized))
	for i, text := range sanitized {
		if cached, found := p.cache.Get(text); found {
			result[i] = cached.([]float32)
			chunkRanges[i] = [2]int{-1, -1}
			continue
		}
		chunks := ChunkText(text, maxTokensPerChunk)
		chunkRanges[i] = [2]int{len(allChunks), len(allChunks) + len(chunks)}
		allChunks = append(allChunks, chunks...)
	}

	if len(allChunks) > 0 {
		vectors, err := p.requestWithRetry(ctx, allChunks)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(allChunks) {
			return nil, fmt.Errorf("embedding: service returned %d vectors for %d chunks", len(vectors), len(allChunks))
		}

		for i, r := range chunkRanges {
			if r[0] < 0 {
				continue
			}
			result[i] = meanVector(vectors[r[0]:r[1]])
			p.cache.Set(sanitized[i], result[i], gocache.DefaultExpiration)
		}
	}

	return result, nil
}

func (p *FireworksProvider) requestWithRetry(ctx context.Context, chunks []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		vectors, err := p.request(ctx, chunks)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		// Authorization and validation failures will not get better with time.
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusBadRequest || se.code == http.StatusUnauthorized || se.code == http.StatusForbidden) {
			return nil, err
		}
		if attempt == p.maxRetries {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embedding: service returned %d: %s", e.code, e.body)
}

func (p *FireworksProvider) request(ctx context.Context, chunks []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: p.model, Input: chunks})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: invalid response format: %w", err)
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedding: empty vector at index %d", i)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

// meanVector averages chunk vectors element-wise. A single vector is returned
// as-is.
func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 1 {
		return vectors[0]
	}

	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, vec := range vectors {
		for j := 0; j < dim && j < len(vec); j++ {
			mean[j] += vec[j]
		}
	}
	for j := range mean {
		mean[j] /= float32(len(vectors))
	}
	return mean
}
