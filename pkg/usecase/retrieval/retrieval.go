package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/metrics"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
)

const (
	textLimit  = 2
	imageLimit = 1

	// A hit must score strictly above these to be used
	textScoreThreshold  float32 = 0.40
	imageScoreThreshold float32 = 0.25

	NoTextContext   = "NO RELEVANT DATA FOUND IN DATABASE."
	NoVisualContext = "No relevant images found."

	visualContextPrefix = "A relevant image was found showing: "
)

// negativeImagePhrases signal that the user does not want to see a photo
var negativeImagePhrases = []string{"don't", "dont", "no photo", "no image", "stop showing"}

// WantsNoImage reports whether the query asks to suppress image display
func WantsNoImage(query string) bool {
	q := strings.ToLower(query)
	for _, phrase := range negativeImagePhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

// Result is the fused text and image evidence for one query
type Result struct {
	// Context is the newline-joined memory text, or NoTextContext
	Context string
	// Sources are the memory texts that passed the threshold, best first
	Sources []string

	// VisualContext describes the matched image, or NoVisualContext
	VisualContext string
	Image         *model.EvidencePoint
	ImageScore    float64

	// SuppressImage is set when the user asked not to be shown photos
	SuppressImage bool
}

// HasImage reports whether an image passed the threshold
func (r *Result) HasImage() bool {
	return r.Image != nil
}

// ShowImage reports whether the matched image should be displayed
func (r *Result) ShowImage() bool {
	return r.HasImage() && !r.SuppressImage
}

// UseCase queries the memory and evidence collections and fuses the hits
type UseCase struct {
	store         repository.VectorStore
	textEmbedder  adapter.Embedder
	imageEmbedder adapter.Embedder
}

// New creates a retrieval UseCase. imageEmbedder must encode text into the image collection's space.
func New(store repository.VectorStore, textEmbedder, imageEmbedder adapter.Embedder) *UseCase {
	return &UseCase{
		store:         store,
		textEmbedder:  textEmbedder,
		imageEmbedder: imageEmbedder,
	}
}

// Retrieve never fails: an embedding or query error on either modality is
// logged and treated as zero results for that modality.
func (u *UseCase) Retrieve(ctx context.Context, query string) *Result {
	result := &Result{
		Context:       NoTextContext,
		VisualContext: NoVisualContext,
		SuppressImage: WantsNoImage(query),
	}

	textHits := u.search(ctx, "text", u.textEmbedder, model.MemoryCollectionName, query, textLimit)
	for _, h := range textHits {
		if aboveThreshold(h.Score, textScoreThreshold) {
			result.Sources = append(result.Sources, h.Payload.String(model.PayloadChatText))
		}
	}
	if len(result.Sources) > 0 {
		result.Context = strings.Join(result.Sources, "\n")
		metrics.RetrievalHitsTotal.WithLabelValues("text").Add(float64(len(result.Sources)))
	}

	imageHits := u.search(ctx, "image", u.imageEmbedder, model.EvidenceCollectionName, query, imageLimit)
	if len(imageHits) > 0 && aboveThreshold(imageHits[0].Score, imageScoreThreshold) {
		top := imageHits[0]
		result.Image = model.EvidenceFromPayload(top.ID, top.Payload)
		result.ImageScore = top.Score
		result.VisualContext = visualContextPrefix + result.Image.Description
		metrics.RetrievalHitsTotal.WithLabelValues("image").Inc()
	}

	logging.From(ctx).Debug("retrieval done",
		"text_sources", len(result.Sources),
		"image", result.HasImage(),
		"suppress_image", result.SuppressImage,
	)

	return result
}

// aboveThreshold compares at float32 precision, the precision vector stores
// score in, so a stored 0.40 is not lifted above 0.40 by widening.
func aboveThreshold(score float64, threshold float32) bool {
	return float32(score) > threshold
}

func (u *UseCase) search(ctx context.Context, modality string, embedder adapter.Embedder, collection, query string, limit int) []*model.ScoredPoint {
	logger := logging.From(ctx).With("modality", modality, "collection", collection)

	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalErrorsTotal.WithLabelValues(modality).Inc()
		logger.Warn("failed to embed query, continuing without this modality", "error", err)
		return nil
	}

	hits, err := u.store.Query(ctx, collection, vec, limit)
	if err != nil {
		metrics.RetrievalErrorsTotal.WithLabelValues(modality).Inc()
		logger.Warn("vector query failed, continuing without this modality", "error", err)
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	return hits
}
