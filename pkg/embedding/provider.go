package embedding

import "context"

// Provider generates one vector per input text, in input order.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
