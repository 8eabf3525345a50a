package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

var ErrEmbeddingProvider = goerr.New("embedding provider error")

// Embedder maps text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageEmbedder maps both text and images into one shared vector space (CLIP style)
type ImageEmbedder interface {
	Embedder
	EmbedImage(ctx context.Context, image *EncodedImage) ([]float32, error)
}

// geminiEmbedder adapts Gemini embeddings to Embedder with a fixed output size
type geminiEmbedder struct {
	gemini    Gemini
	dimension int
}

// NewGeminiEmbedder returns an Embedder backed by the Gemini embedding model truncated to dimension
func NewGeminiEmbedder(gemini Gemini, dimension int) Embedder {
	return &geminiEmbedder{gemini: gemini, dimension: dimension}
}

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.gemini.Embedding(ctx, text, e.dimension)
	if err != nil {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "gemini embedding failed", goerr.V("cause", err.Error()))
	}
	return vec, nil
}
