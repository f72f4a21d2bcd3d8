package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Provider is the external embedding service boundary.
type Provider interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// maxInputChars caps embedding input. Chosen so full long-form clauses still
// fit; anything longer is cut at the limit before the provider call.
const maxInputChars = 16000

// Embedder wraps a Provider with a fixed model and input bounding.
type Embedder struct {
	provider Provider
	model    string
}

// NewEmbedder creates an Embedder using the given Provider and model name.
func NewEmbedder(p Provider, model string) *Embedder {
	return &Embedder{provider: p, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, e.model, bound(text))
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.provider.Embed(gCtx, e.model, bound(text))
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func bound(text string) string {
	if len(text) <= maxInputChars {
		return text
	}
	return text[:maxInputChars]
}
