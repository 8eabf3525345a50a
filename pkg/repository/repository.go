package repository

import (
	"context"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// VectorStore is the contract every vector database backend fulfils
type VectorStore interface {
	// EnsureCollection creates the collection if absent and is a no-op otherwise
	EnsureCollection(ctx context.Context, spec model.CollectionSpec) error

	// Upsert writes points. A vector of the wrong dimension fails the whole batch
	// before anything is written. Returns model.ErrCollectionNotFound for unknown collections.
	Upsert(ctx context.Context, collection string, points []*model.Point) error

	// Query returns up to limit points ordered by descending similarity.
	// Returns model.ErrCollectionNotFound for unknown collections.
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredPoint, error)

	// DeleteByFilter removes points matching filter. No match is not an error.
	DeleteByFilter(ctx context.Context, collection string, filter *model.Filter) error

	// Scroll lists up to limit points matching filter (nil matches all) without vectors
	Scroll(ctx context.Context, collection string, filter *model.Filter, limit int) ([]*model.Point, error)

	// Close releases the underlying connection
	Close() error
}

// Bootstrap creates the default collections. Calling it repeatedly is safe.
func Bootstrap(ctx context.Context, store VectorStore) error {
	for _, spec := range model.DefaultCollections() {
		if err := store.EnsureCollection(ctx, spec); err != nil {
			return goerr.Wrap(err, "failed to ensure collection", goerr.V("name", spec.Name))
		}
		logging.From(ctx).Debug("collection ready", "name", spec.Name, "dimension", spec.Dimension)
	}
	return nil
}

// checkPoints validates every point against spec so a batch fails as a whole
func checkPoints(spec model.CollectionSpec, points []*model.Point) error {
	for _, p := range points {
		if p.ID == "" {
			return goerr.New("point id is empty", goerr.V("collection", spec.Name))
		}
		if err := spec.CheckVector(p.ID, p.Vector); err != nil {
			return err
		}
	}
	return nil
}
