package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func TestCLIPClientText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/embeddings")
		gt.Equal(t, r.Header.Get("Authorization"), "Bearer secret")
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3],"index":0}]}`))
	}))
	defer srv.Close()

	client := adapter.NewCLIPClient(srv.URL+"/", "clip-ViT-B-32", adapter.WithCLIPAPIKey("secret"))
	vec, err := client.Embed(context.Background(), "flooded road")
	gt.NoError(t, err)
	gt.A(t, vec).Length(3)
	gt.Equal(t, got["modality"], any("text"))
	gt.Equal(t, got["model"], any("clip-ViT-B-32"))
}

func TestCLIPClientImage(t *testing.T) {
	var got struct {
		Input    []string `json:"input"`
		Modality string   `json:"modality"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()

	client := adapter.NewCLIPClient(srv.URL, "clip-ViT-B-32", adapter.WithCLIPHTTPClient(srv.Client()))
	_, err := client.EmbedImage(context.Background(), &adapter.EncodedImage{Data: []byte("abc"), MIMEType: "image/jpeg"})
	gt.NoError(t, err)
	gt.Equal(t, got.Modality, "image")
	gt.A(t, got.Input).Length(1)
	gt.True(t, strings.HasPrefix(got.Input[0], "data:image/jpeg;base64,"))
}

func TestCLIPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := adapter.NewCLIPClient(srv.URL, "clip").Embed(context.Background(), "x")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, adapter.ErrEmbeddingProvider))
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","embedding":[0.5,0.25],"index":0}],"model":"m","usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	emb := adapter.NewOpenAIEmbedder(adapter.OpenAIEmbedderConfig{
		APIKey:  "dummy",
		BaseURL: srv.URL + "/v1",
		Model:   "sentence-transformers/all-MiniLM-L6-v2",
	})
	vec, err := emb.Embed(context.Background(), "evacuation shelter open")
	gt.NoError(t, err)
	gt.Equal(t, vec, []float32{0.5, 0.25})
}

func TestOpenAIEmbedderDimensions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = nil
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","embedding":[1],"index":0}],"model":"m"}`))
	}))
	defer srv.Close()

	emb := adapter.NewOpenAIEmbedder(adapter.OpenAIEmbedderConfig{
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 384,
	})
	_, err := emb.Embed(context.Background(), "x")
	gt.NoError(t, err)
	gt.Equal(t, got["dimensions"], any(float64(384)))

	emb = adapter.NewOpenAIEmbedder(adapter.OpenAIEmbedderConfig{BaseURL: srv.URL, Model: "m"})
	_, err = emb.Embed(context.Background(), "x")
	gt.NoError(t, err)
	_, ok := got["dimensions"]
	gt.False(t, ok)
}

func TestOpenAIEmbedderProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"model not loaded"}`))
	}))
	defer srv.Close()

	emb := adapter.NewOpenAIEmbedder(adapter.OpenAIEmbedderConfig{BaseURL: srv.URL, Model: "m"})
	_, err := emb.Embed(context.Background(), "x")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, adapter.ErrEmbeddingProvider))
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge_damage.png")
	img := imaging.New(640, 480, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
	gt.NoError(t, imaging.Save(img, path))

	encoded, err := adapter.LoadImage(path)
	gt.NoError(t, err)
	gt.Equal(t, encoded.MIMEType, "image/jpeg")

	decoded, err := imaging.Decode(strings.NewReader(string(encoded.Data)))
	gt.NoError(t, err)
	b := decoded.Bounds()
	gt.True(t, b.Dx() <= 224 && b.Dy() <= 224)
	gt.Equal(t, b.Dx(), 224)
}

func TestLoadImageRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	gt.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))

	_, err := adapter.LoadImage(path)
	gt.Error(t, err)
}
