package repository

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gonum.org/v1/gonum/mat"
)

// Memory is an in-process VectorStore. It is used for offline runs and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	spec   model.CollectionSpec
	order  []string
	points map[string]*model.Point
}

var _ VectorStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*memoryCollection),
	}
}

func (m *Memory) EnsureCollection(ctx context.Context, spec model.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[spec.Name]; ok {
		return nil
	}
	m.collections[spec.Name] = &memoryCollection{
		spec:   spec,
		points: make(map[string]*model.Point),
	}
	return nil
}

func (m *Memory) collection(name string) (*memoryCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, goerr.Wrap(model.ErrCollectionNotFound, "unknown collection", goerr.V("name", name))
	}
	return c, nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, points []*model.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	if err := checkPoints(c.spec, points); err != nil {
		return err
	}

	for _, p := range points {
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.points[p.ID] = clonePoint(p, true)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	if err := c.spec.CheckVector("query", vector); err != nil {
		return nil, err
	}
	if len(c.order) == 0 || limit <= 0 {
		return nil, nil
	}

	dim := c.spec.Dimension
	query := mat.NewVecDense(dim, toFloat64(vector))
	qNorm := mat.Norm(query, 2)

	data := make([]float64, 0, len(c.order)*dim)
	for _, id := range c.order {
		data = append(data, toFloat64(c.points[id].Vector)...)
	}
	matrix := mat.NewDense(len(c.order), dim, data)

	// dot products of every stored vector with the query in one pass
	var dots mat.VecDense
	dots.MulVec(matrix, query)

	hits := make([]*model.ScoredPoint, 0, len(c.order))
	for i, id := range c.order {
		row := matrix.RowView(i)
		denom := qNorm * mat.Norm(row, 2)
		score := 0.0
		if denom != 0 && !math.IsNaN(denom) {
			score = dots.AtVec(i) / denom
		}
		p := c.points[id]
		hits = append(hits, &model.ScoredPoint{
			ID:      p.ID,
			Score:   score,
			Payload: clonePayload(p.Payload),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) DeleteByFilter(ctx context.Context, collection string, filter *model.Filter) error {
	if filter == nil || len(filter.Any) == 0 {
		return goerr.New("delete requires a non-empty filter", goerr.V("collection", collection))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}

	kept := c.order[:0]
	for _, id := range c.order {
		if filter.Match(c.points[id].Payload) {
			delete(c.points, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return nil
}

func (m *Memory) Scroll(ctx context.Context, collection string, filter *model.Filter, limit int) ([]*model.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	var points []*model.Point
	for _, id := range c.order {
		if limit > 0 && len(points) >= limit {
			break
		}
		p := c.points[id]
		if filter.Match(p.Payload) {
			points = append(points, clonePoint(p, false))
		}
	}
	return points, nil
}

func (m *Memory) Close() error {
	return nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func clonePayload(p model.Payload) model.Payload {
	out := make(model.Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func clonePoint(p *model.Point, withVector bool) *model.Point {
	out := &model.Point{
		ID:      p.ID,
		Payload: clonePayload(p.Payload),
	}
	if withVector {
		out.Vector = append([]float32(nil), p.Vector...)
	}
	return out
}
