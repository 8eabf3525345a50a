package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrCollectionNotFound = goerr.New("collection not found")
	ErrDimensionMismatch  = goerr.New("vector dimension mismatch")
)

type Distance string

const (
	DistanceCosine Distance = "cosine"
)

// CollectionSpec declares a named vector collection
type CollectionSpec struct {
	Name      string
	Dimension int
	Distance  Distance
}

const (
	MemoryCollectionName   = "user_episodic_memory"
	EvidenceCollectionName = "disaster_multimodal"

	MemoryDimension   = 384
	EvidenceDimension = 512
)

var (
	MemoryCollection = CollectionSpec{
		Name:      MemoryCollectionName,
		Dimension: MemoryDimension,
		Distance:  DistanceCosine,
	}
	EvidenceCollection = CollectionSpec{
		Name:      EvidenceCollectionName,
		Dimension: EvidenceDimension,
		Distance:  DistanceCosine,
	}
)

// DefaultCollections returns the collections created on startup
func DefaultCollections() []CollectionSpec {
	return []CollectionSpec{MemoryCollection, EvidenceCollection}
}

// Validate checks the collection declaration
func (c CollectionSpec) Validate() error {
	if c.Name == "" {
		return goerr.New("collection name is empty")
	}
	if c.Dimension <= 0 {
		return goerr.New("collection dimension must be positive", goerr.V("name", c.Name), goerr.V("dimension", c.Dimension))
	}
	switch c.Distance {
	case DistanceCosine:
		return nil
	default:
		return goerr.New("unsupported distance metric", goerr.V("name", c.Name), goerr.V("distance", c.Distance))
	}
}

// CheckVector returns ErrDimensionMismatch if the vector length differs from the declared dimension
func (c CollectionSpec) CheckVector(id string, vector []float32) error {
	if len(vector) != c.Dimension {
		return goerr.Wrap(ErrDimensionMismatch, "vector does not fit collection",
			goerr.V("collection", c.Name),
			goerr.V("point_id", id),
			goerr.V("expected", c.Dimension),
			goerr.V("actual", len(vector)),
		)
	}
	return nil
}
