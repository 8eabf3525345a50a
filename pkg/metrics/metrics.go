package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crisisops"

var (
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by outcome",
		},
		[]string{"status"}, // "ok" / "generation_error" / "persist_error"
	)

	RetrievalHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_hits_total",
			Help:      "Retrieved points that passed the score threshold",
		},
		[]string{"modality"}, // "text" / "image"
	)

	RetrievalErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_errors_total",
			Help:      "Retrieval failures degraded to empty results",
		},
		[]string{"modality"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of the hosted generation call",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
	)

	IngestedPointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_points_total",
			Help:      "Points written by bulk ingestion",
		},
		[]string{"collection", "result"}, // "uploaded" / "skipped"
	)
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TurnsTotal,
			RetrievalHitsTotal,
			RetrievalErrorsTotal,
			GenerationDuration,
			IngestedPointsTotal,
		)
	})
}
