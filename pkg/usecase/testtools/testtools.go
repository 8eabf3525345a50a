// Package testtools provides scripted stand-ins for the external services
// (embedders, vector store, Gemini) used by use case tests.
package testtools

import (
	"context"
	"strings"
	"sync"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Embedder returns a constant vector of Dim ones, or Err.
// Texts listed in FailOn return an error as well.
type Embedder struct {
	Dim    int
	Err    error
	FailOn []string

	mu     sync.Mutex
	Texts  []string
	Images int
}

var _ adapter.ImageEmbedder = (*Embedder)(nil)

func (e *Embedder) vector() []float32 {
	v := make([]float32, e.Dim)
	for i := range v {
		v[i] = 1
	}
	return v
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.Texts = append(e.Texts, text)
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	for _, f := range e.FailOn {
		if strings.Contains(text, f) {
			return nil, goerr.Wrap(adapter.ErrEmbeddingProvider, "scripted failure", goerr.V("text", text))
		}
	}
	return e.vector(), nil
}

func (e *Embedder) EmbedImage(ctx context.Context, image *adapter.EncodedImage) ([]float32, error) {
	e.mu.Lock()
	e.Images++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(), nil
}

// Store is an in-memory VectorStore whose Query answers are scripted per collection.
// Writes go to the embedded Memory store unless UpsertErr/DeleteErr is set.
type Store struct {
	*repository.Memory

	Hits      map[string][]*model.ScoredPoint
	QueryErr  map[string]error
	UpsertErr error
	DeleteErr error

	mu      sync.Mutex
	Upserts int
}

var _ repository.VectorStore = (*Store)(nil)

// NewStore returns a Store with both default collections created
func NewStore() *Store {
	mem := repository.NewMemory()
	if err := repository.Bootstrap(context.Background(), mem); err != nil {
		panic(err)
	}
	return &Store{
		Memory:   mem,
		Hits:     make(map[string][]*model.ScoredPoint),
		QueryErr: make(map[string]error),
	}
}

func (s *Store) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredPoint, error) {
	if err, ok := s.QueryErr[collection]; ok {
		return nil, err
	}
	hits := s.Hits[collection]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, points []*model.Point) error {
	s.mu.Lock()
	s.Upserts++
	s.mu.Unlock()

	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	return s.Memory.Upsert(ctx, collection, points)
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter *model.Filter) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.Memory.DeleteByFilter(ctx, collection, filter)
}

// MemoryHit builds a scripted hit from the memory collection
func MemoryHit(text string, role model.Role, score float64) *model.ScoredPoint {
	return &model.ScoredPoint{
		ID:    model.NewPointID(),
		Score: score,
		Payload: model.Payload{
			model.PayloadChatText: text,
			model.PayloadRole:     string(role),
		},
	}
}

// EvidenceHit builds a scripted hit from the image collection
func EvidenceHit(filename, description string, score float64) *model.ScoredPoint {
	return &model.ScoredPoint{
		ID:    model.NewPointID(),
		Score: score,
		Payload: model.Payload{
			model.PayloadFilename:    filename,
			model.PayloadDescription: description,
			model.PayloadType:        model.EvidenceTypePhoto,
		},
	}
}

// Gemini answers every request with Reply, or fails with Err
type Gemini struct {
	Reply string
	Err   error

	mu      sync.Mutex
	Prompts []string
}

var _ adapter.Gemini = (*Gemini)(nil)

func (g *Gemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var sb strings.Builder
	for _, c := range contents {
		for _, p := range c.Parts {
			sb.WriteString(p.Text)
		}
	}

	g.mu.Lock()
	g.Prompts = append(g.Prompts, sb.String())
	g.mu.Unlock()

	if g.Err != nil {
		return nil, g.Err
	}

	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(g.Reply, genai.RoleModel)},
		},
	}, nil
}

func (g *Gemini) Embedding(ctx context.Context, text string, dimensionality int) ([]float32, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	return make([]float32, dimensionality), nil
}

// LastPrompt returns the most recent prompt sent to GenerateContent
func (g *Gemini) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Prompts) == 0 {
		return ""
	}
	return g.Prompts[len(g.Prompts)-1]
}
