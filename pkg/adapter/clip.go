package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// CLIPClient talks to an infinity-compatible embedding server that hosts a
// CLIP model. The same model encodes query text and images so both land in
// one vector space.
type CLIPClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

type CLIPOption func(*CLIPClient)

func WithCLIPAPIKey(key string) CLIPOption {
	return func(c *CLIPClient) {
		c.apiKey = key
	}
}

func WithCLIPHTTPClient(client *http.Client) CLIPOption {
	return func(c *CLIPClient) {
		c.httpClient = client
	}
}

func NewCLIPClient(baseURL, model string, opts ...CLIPOption) *CLIPClient {
	c := &CLIPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type clipRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Modality string   `json:"modality"`
}

type clipResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed encodes text with the CLIP text tower
func (c *CLIPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, "text")
}

// EmbedImage encodes an image with the CLIP vision tower
func (c *CLIPClient) EmbedImage(ctx context.Context, image *EncodedImage) ([]float32, error) {
	dataURI := "data:" + image.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(image.Data)
	return c.embed(ctx, dataURI, "image")
}

func (c *CLIPClient) embed(ctx context.Context, input, modality string) ([]float32, error) {
	body, err := json.Marshal(clipRequest{
		Model:    c.model,
		Input:    []string{input},
		Modality: modality,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal clip request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create clip request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "clip request failed", goerr.V("cause", err.Error()), goerr.V("modality", modality))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "clip server returned error status",
			goerr.V("status", resp.StatusCode),
			goerr.V("modality", modality),
		)
	}

	var result clipResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode clip response")
	}

	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, goerr.Wrap(ErrEmbeddingProvider, "empty clip embedding", goerr.V("modality", modality))
	}

	return result.Data[0].Embedding, nil
}
