package repository

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	firestoreMetaCollection = "vector_collections"
	firestoreVectorField    = "embedding"
	firestorePayloadField   = "payload"
	firestoreDistanceField  = "vector_distance"
)

// Firestore is a VectorStore using Firestore native vector search.
// Each vector collection maps to a Firestore collection; declared dimensions
// live in documents of the vector_collections collection. FindNearest needs a
// single-field vector index on "embedding" per collection, created with
// `gcloud firestore indexes composite create --field-config=vector-config=...`.
type Firestore struct {
	client *firestore.Client
}

var _ VectorStore = (*Firestore)(nil)

type firestoreCollectionMeta struct {
	Dimension int    `firestore:"dimension"`
	Distance  string `firestore:"distance"`
}

// NewFirestore creates a Firestore backed vector store
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client", goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (f *Firestore) meta(ctx context.Context, collection string) (model.CollectionSpec, error) {
	doc, err := f.client.Collection(firestoreMetaCollection).Doc(collection).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return model.CollectionSpec{}, goerr.Wrap(model.ErrCollectionNotFound, "unknown collection", goerr.V("name", collection))
		}
		return model.CollectionSpec{}, goerr.Wrap(err, "failed to get collection metadata", goerr.V("name", collection))
	}

	var m firestoreCollectionMeta
	if err := doc.DataTo(&m); err != nil {
		return model.CollectionSpec{}, goerr.Wrap(err, "failed to decode collection metadata", goerr.V("name", collection))
	}

	return model.CollectionSpec{
		Name:      collection,
		Dimension: m.Dimension,
		Distance:  model.Distance(m.Distance),
	}, nil
}

func (f *Firestore) EnsureCollection(ctx context.Context, spec model.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	_, err := f.client.Collection(firestoreMetaCollection).Doc(spec.Name).Create(ctx, firestoreCollectionMeta{
		Dimension: spec.Dimension,
		Distance:  string(spec.Distance),
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return goerr.Wrap(err, "failed to create collection metadata", goerr.V("name", spec.Name))
	}
	return nil
}

func (f *Firestore) Upsert(ctx context.Context, collection string, points []*model.Point) error {
	if len(points) == 0 {
		return nil
	}

	spec, err := f.meta(ctx, collection)
	if err != nil {
		return err
	}
	if err := checkPoints(spec, points); err != nil {
		return err
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(points))
	for _, p := range points {
		job, err := bw.Set(f.client.Collection(collection).Doc(p.ID), map[string]any{
			firestoreVectorField:  firestore.Vector32(p.Vector),
			firestorePayloadField: map[string]any(p.Payload),
		})
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue point", goerr.V("collection", collection), goerr.V("point_id", p.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	return collectJobErrors(jobs, collection)
}

func (f *Firestore) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredPoint, error) {
	spec, err := f.meta(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := spec.CheckVector("query", vector); err != nil {
		return nil, err
	}

	vq := f.client.Collection(collection).FindNearest(
		firestoreVectorField,
		firestore.Vector32(vector),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: firestoreDistanceField},
	)

	iter := vq.Documents(ctx)
	defer iter.Stop()

	var results []*model.ScoredPoint
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate nearest documents", goerr.V("collection", collection))
		}

		data := doc.Data()
		distance, _ := data[firestoreDistanceField].(float64)
		results = append(results, &model.ScoredPoint{
			ID: doc.Ref.ID,
			// cosine distance in Firestore is 1 - cosine similarity
			Score:   1 - distance,
			Payload: payloadOf(data),
		})
	}
	return results, nil
}

func (f *Firestore) filtered(collection string, filter *model.Filter) firestore.Query {
	q := f.client.Collection(collection).Query
	if filter != nil {
		values := make([]any, 0, len(filter.Any))
		for _, v := range filter.Any {
			values = append(values, v)
		}
		q = q.Where(firestorePayloadField+"."+filter.Key, "in", values)
	}
	return q
}

func (f *Firestore) DeleteByFilter(ctx context.Context, collection string, filter *model.Filter) error {
	if filter == nil || len(filter.Any) == 0 {
		return goerr.New("delete requires a non-empty filter", goerr.V("collection", collection))
	}
	if _, err := f.meta(ctx, collection); err != nil {
		return err
	}

	docs, err := f.filtered(collection, filter).Documents(ctx).GetAll()
	if err != nil {
		return goerr.Wrap(err, "failed to list documents to delete", goerr.V("collection", collection))
	}
	if len(docs) == 0 {
		return nil
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue delete", goerr.V("collection", collection), goerr.V("point_id", doc.Ref.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	return collectJobErrors(jobs, collection)
}

func (f *Firestore) Scroll(ctx context.Context, collection string, filter *model.Filter, limit int) ([]*model.Point, error) {
	if _, err := f.meta(ctx, collection); err != nil {
		return nil, err
	}

	q := f.filtered(collection, filter)
	if limit > 0 {
		q = q.Limit(limit)
	}

	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scroll documents", goerr.V("collection", collection))
	}

	points := make([]*model.Point, 0, len(docs))
	for _, doc := range docs {
		points = append(points, &model.Point{
			ID:      doc.Ref.ID,
			Payload: payloadOf(doc.Data()),
		})
	}
	return points, nil
}

func (f *Firestore) Close() error {
	if err := f.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func payloadOf(data map[string]any) model.Payload {
	raw, _ := data[firestorePayloadField].(map[string]any)
	return model.Payload(raw)
}

func collectJobErrors(jobs []*firestore.BulkWriterJob, collection string) error {
	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return goerr.Wrap(errors.Join(errs...), "bulk write failed",
			goerr.V("collection", collection),
			goerr.V("failed", len(errs)),
			goerr.V("total", len(jobs)),
		)
	}
	return nil
}
