package cli

import (
	"context"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	backendQdrant    = "qdrant"
	backendFirestore = "firestore"
	backendMemory    = "memory"

	textEmbedderOpenAI = "openai"
	textEmbedderGemini = "gemini"
)

// config holds configuration values
type config struct {
	// Vector store
	backend      string
	qdrantURL    string
	qdrantAPIKey string
	project      string
	database     string

	// Gemini
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	geminiEmbedder string

	// Embedding providers
	textEmbedder        string
	textEmbeddingURL    string
	textEmbeddingModel  string
	textEmbeddingDims   int64
	embeddingAPIKey     string
	imageEmbeddingURL   string
	imageEmbeddingModel string
}

// storeFlags returns flags selecting and configuring the vector store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vector-backend",
			Usage:       "Vector store backend (qdrant, firestore, memory)",
			Value:       backendQdrant,
			Sources:     cli.EnvVars("CRISISOPS_VECTOR_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "qdrant-url",
			Usage:       "Qdrant URL (REST or gRPC port)",
			Sources:     cli.EnvVars("QDRANT_URL"),
			Destination: &cfg.qdrantURL,
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Usage:       "Qdrant API key",
			Sources:     cli.EnvVars("QDRANT_API_KEY"),
			Destination: &cfg.qdrantAPIKey,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID (firestore backend)",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// llmFlags returns flags for Gemini
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI (used when no API key is set)",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model used to answer",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Gemini embedding model (text-embedder=gemini)",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiEmbedder,
		},
	}
}

// embeddingFlags returns flags for the text and image encoders
func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "text-embedder",
			Usage:       "Text embedding provider (openai, gemini)",
			Value:       textEmbedderOpenAI,
			Sources:     cli.EnvVars("CRISISOPS_TEXT_EMBEDDER"),
			Destination: &cfg.textEmbedder,
		},
		&cli.StringFlag{
			Name:        "text-embedding-url",
			Usage:       "Base URL of an OpenAI compatible embedding API",
			Sources:     cli.EnvVars("TEXT_EMBEDDING_URL"),
			Destination: &cfg.textEmbeddingURL,
		},
		&cli.StringFlag{
			Name:        "text-embedding-model",
			Usage:       "Text embedding model (must produce 384 dimensions)",
			Value:       "sentence-transformers/all-MiniLM-L6-v2",
			Sources:     cli.EnvVars("TEXT_EMBEDDING_MODEL"),
			Destination: &cfg.textEmbeddingModel,
		},
		&cli.IntFlag{
			Name:        "text-embedding-dimensions",
			Usage:       "Request truncated vectors of this size (only for models that support it; 0 leaves it unset)",
			Sources:     cli.EnvVars("TEXT_EMBEDDING_DIMENSIONS"),
			Destination: &cfg.textEmbeddingDims,
		},
		&cli.StringFlag{
			Name:        "embedding-api-key",
			Usage:       "API key for the embedding servers",
			Sources:     cli.EnvVars("EMBEDDING_API_KEY"),
			Destination: &cfg.embeddingAPIKey,
		},
		&cli.StringFlag{
			Name:        "image-embedding-url",
			Usage:       "Base URL of the CLIP embedding server",
			Sources:     cli.EnvVars("IMAGE_EMBEDDING_URL"),
			Destination: &cfg.imageEmbeddingURL,
		},
		&cli.StringFlag{
			Name:        "image-embedding-model",
			Usage:       "CLIP model (must produce 512 dimensions)",
			Value:       "clip-ViT-B-32",
			Sources:     cli.EnvVars("IMAGE_EMBEDDING_MODEL"),
			Destination: &cfg.imageEmbeddingModel,
		},
	}
}

// newVectorStore creates the configured vector store
func (cfg *config) newVectorStore(ctx context.Context) (repository.VectorStore, error) {
	switch cfg.backend {
	case backendQdrant:
		if cfg.qdrantURL == "" {
			return nil, goerr.New("qdrant-url is required")
		}
		store, err := repository.NewQdrant(cfg.qdrantURL, cfg.qdrantAPIKey)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create qdrant store")
		}
		return store, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		store, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create firestore store")
		}
		return store, nil

	case backendMemory:
		return repository.NewMemory(), nil

	default:
		return nil, goerr.New("unknown vector backend", goerr.V("backend", cfg.backend))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiAPIKey == "" && cfg.geminiProject == "" {
		return nil, goerr.New("gemini-api-key or gemini-project is required")
	}

	gemini, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
		APIKey:   cfg.geminiAPIKey,
		Project:  cfg.geminiProject,
		Location: cfg.geminiLocation,
	},
		adapter.WithGenerativeModel(cfg.geminiModel),
		adapter.WithEmbeddingModel(cfg.geminiEmbedder),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newTextEmbedder creates the 384-dim text encoder
func (cfg *config) newTextEmbedder(ctx context.Context) (adapter.Embedder, error) {
	switch cfg.textEmbedder {
	case textEmbedderOpenAI:
		if cfg.textEmbeddingURL == "" {
			return nil, goerr.New("text-embedding-url is required")
		}
		return adapter.NewOpenAIEmbedder(adapter.OpenAIEmbedderConfig{
			APIKey:     cfg.embeddingAPIKey,
			BaseURL:    cfg.textEmbeddingURL,
			Model:      cfg.textEmbeddingModel,
			Dimensions: int(cfg.textEmbeddingDims),
		}), nil

	case textEmbedderGemini:
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		return adapter.NewGeminiEmbedder(gemini, model.MemoryDimension), nil

	default:
		return nil, goerr.New("unknown text embedder", goerr.V("text_embedder", cfg.textEmbedder))
	}
}

// newImageEmbedder creates the 512-dim CLIP encoder
func (cfg *config) newImageEmbedder() (adapter.ImageEmbedder, error) {
	if cfg.imageEmbeddingURL == "" {
		return nil, goerr.New("image-embedding-url is required")
	}
	return adapter.NewCLIPClient(cfg.imageEmbeddingURL, cfg.imageEmbeddingModel,
		adapter.WithCLIPAPIKey(cfg.embeddingAPIKey),
	), nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// closeStore closes the store and logs instead of failing the command
func closeStore(ctx context.Context, store repository.VectorStore) {
	if err := store.Close(); err != nil {
		logging.From(ctx).Warn("failed to close vector store", "error", err)
	}
}

// clients bundles the external clients shared by one command run
type clients struct {
	store         repository.VectorStore
	gemini        adapter.Gemini
	textEmbedder  adapter.Embedder
	imageEmbedder adapter.ImageEmbedder
}

// newClients builds every client once and makes sure both collections exist.
// gemini is skipped when withGemini is false.
func (cfg *config) newClients(ctx context.Context, withGemini bool) (*clients, error) {
	c := &clients{}

	textEmbedder, err := cfg.newTextEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	c.textEmbedder = textEmbedder

	imageEmbedder, err := cfg.newImageEmbedder()
	if err != nil {
		return nil, err
	}
	c.imageEmbedder = imageEmbedder

	if withGemini {
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		c.gemini = gemini
	}

	store, err := cfg.newVectorStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := repository.Bootstrap(ctx, store); err != nil {
		closeStore(ctx, store)
		return nil, goerr.Wrap(err, "failed to prepare collections")
	}
	c.store = store

	return c, nil
}
