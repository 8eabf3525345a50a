package adapter

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint, e.g. a
// text-embeddings-inference server hosting all-MiniLM-L6-v2.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

type OpenAIEmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is sent only for models that support truncation. Zero leaves it unset.
	Dimensions int
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseOpenAIError(err, string(e.model))
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "empty embedding response", goerr.V("model", e.model))
	}

	return resp.Data[0].Embedding, nil
}

func parseOpenAIError(err error, model string) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return goerr.Wrap(ErrEmbeddingProvider, "embedding request rejected",
			goerr.V("model", model),
			goerr.V("status", reqErr.HTTPStatusCode),
			goerr.V("detail", extractDetail(reqErr.Body)),
		)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return goerr.Wrap(ErrEmbeddingProvider, "embedding API error",
			goerr.V("model", model),
			goerr.V("status", apiErr.HTTPStatusCode),
			goerr.V("detail", apiErr.Message),
		)
	}

	return goerr.Wrap(ErrEmbeddingProvider, "embedding request failed", goerr.V("model", model), goerr.V("cause", err.Error()))
}

// extractDetail pulls "detail" out of a JSON error body, falling back to the raw body
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return string(body)
}
