package repository

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	qdrantRESTPort = 6333
	qdrantGRPCPort = 6334
)

// QdrantEndpoint is the gRPC address derived from a Qdrant URL
type QdrantEndpoint struct {
	Host   string
	Port   int
	UseTLS bool
}

// ParseQdrantURL accepts the REST style URL Qdrant Cloud hands out
// (https://xyz.cloud.qdrant.io:6333) and returns the matching gRPC endpoint.
func ParseQdrantURL(raw string) (*QdrantEndpoint, error) {
	if raw == "" {
		return nil, goerr.New("qdrant url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid qdrant url", goerr.V("url", raw))
	}
	if u.Hostname() == "" {
		return nil, goerr.New("qdrant url has no host", goerr.V("url", raw))
	}

	ep := &QdrantEndpoint{
		Host:   u.Hostname(),
		Port:   qdrantGRPCPort,
		UseTLS: u.Scheme == "https",
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid qdrant port", goerr.V("url", raw))
		}
		if port != qdrantRESTPort {
			ep.Port = port
		}
	}

	return ep, nil
}

// Qdrant is a VectorStore backed by a Qdrant server over gRPC
type Qdrant struct {
	client *qdrant.Client

	dimMu sync.Mutex
	dims  map[string]int
}

var _ VectorStore = (*Qdrant)(nil)

// NewQdrant connects to the Qdrant instance at rawURL
func NewQdrant(rawURL, apiKey string) (*Qdrant, error) {
	ep, err := ParseQdrantURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   ep.Host,
		Port:   ep.Port,
		APIKey: apiKey,
		UseTLS: ep.UseTLS,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create qdrant client", goerr.V("host", ep.Host), goerr.V("port", ep.Port))
	}

	return &Qdrant{
		client: client,
		dims:   make(map[string]int),
	}, nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (q *Qdrant) wrapErr(err error, msg, collection string) error {
	if isNotFound(err) {
		return goerr.Wrap(model.ErrCollectionNotFound, msg, goerr.V("collection", collection), goerr.V("cause", err.Error()))
	}
	return goerr.Wrap(err, msg, goerr.V("collection", collection))
}

func (q *Qdrant) EnsureCollection(ctx context.Context, spec model.CollectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	exists, err := q.client.CollectionExists(ctx, spec.Name)
	if err != nil {
		return goerr.Wrap(err, "failed to check collection", goerr.V("name", spec.Name))
	}

	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: spec.Name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(spec.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// another process may have created it between the check and the create
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return goerr.Wrap(err, "failed to create collection", goerr.V("name", spec.Name))
		}
	}

	q.dimMu.Lock()
	q.dims[spec.Name] = spec.Dimension
	q.dimMu.Unlock()
	return nil
}

// dimension returns the declared vector size, asking the server once per collection
func (q *Qdrant) dimension(ctx context.Context, collection string) (int, error) {
	q.dimMu.Lock()
	dim, ok := q.dims[collection]
	q.dimMu.Unlock()
	if ok {
		return dim, nil
	}

	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, q.wrapErr(err, "failed to get collection info", collection)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, goerr.New("collection has no single unnamed vector", goerr.V("collection", collection))
	}

	dim = int(params.GetSize())
	q.dimMu.Lock()
	q.dims[collection] = dim
	q.dimMu.Unlock()
	return dim, nil
}

func (q *Qdrant) spec(ctx context.Context, collection string) (model.CollectionSpec, error) {
	dim, err := q.dimension(ctx, collection)
	if err != nil {
		return model.CollectionSpec{}, err
	}
	return model.CollectionSpec{Name: collection, Dimension: dim, Distance: model.DistanceCosine}, nil
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, points []*model.Point) error {
	if len(points) == 0 {
		return nil
	}

	spec, err := q.spec(ctx, collection)
	if err != nil {
		return err
	}
	if err := checkPoints(spec, points); err != nil {
		return err
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return goerr.Wrap(err, "failed to convert payload", goerr.V("point_id", p.ID))
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	}); err != nil {
		return q.wrapErr(err, "failed to upsert points", collection)
	}
	return nil
}

func (q *Qdrant) Query(ctx context.Context, collection string, vector []float32, limit int) ([]*model.ScoredPoint, error) {
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, q.wrapErr(err, "failed to query points", collection)
	}

	results := make([]*model.ScoredPoint, 0, len(hits))
	for _, h := range hits {
		results = append(results, &model.ScoredPoint{
			ID:      pointIDString(h.GetId()),
			Score:   float64(h.GetScore()),
			Payload: fromValueMap(h.GetPayload()),
		})
	}
	return results, nil
}

func toQdrantFilter(filter *model.Filter) *qdrant.Filter {
	if filter == nil {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeywords(filter.Key, filter.Any...),
		},
	}
}

func (q *Qdrant) DeleteByFilter(ctx context.Context, collection string, filter *model.Filter) error {
	if filter == nil || len(filter.Any) == 0 {
		return goerr.New("delete requires a non-empty filter", goerr.V("collection", collection))
	}

	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(filter)),
	}); err != nil {
		return q.wrapErr(err, "failed to delete points", collection)
	}
	return nil
}

func (q *Qdrant) Scroll(ctx context.Context, collection string, filter *model.Filter, limit int) ([]*model.Point, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if limit > 0 {
		req.Limit = qdrant.PtrOf(uint32(limit))
	}

	records, err := q.client.Scroll(ctx, req)
	if err != nil {
		return nil, q.wrapErr(err, "failed to scroll points", collection)
	}

	points := make([]*model.Point, 0, len(records))
	for _, r := range records {
		points = append(points, &model.Point{
			ID:      pointIDString(r.GetId()),
			Payload: fromValueMap(r.GetPayload()),
		})
	}
	return points, nil
}

func (q *Qdrant) Close() error {
	if err := q.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close qdrant client")
	}
	return nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func fromValueMap(m map[string]*qdrant.Value) model.Payload {
	out := make(model.Payload, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		var list []any
		for _, item := range kind.ListValue.GetValues() {
			list = append(list, fromValue(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return map[string]any(fromValueMap(kind.StructValue.GetFields()))
	default:
		return nil
	}
}
