package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/metrics"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/m-mizutani/crisisops/pkg/usecase/generation"
	"github.com/m-mizutani/crisisops/pkg/usecase/retrieval"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrEmptyMessage = goerr.New("message is empty")
	// ErrPersistTurn means the answer was produced but the turn could not be written to memory
	ErrPersistTurn = goerr.New("failed to persist turn to memory")
)

// Session manages one conversation: it owns the transcript and writes each turn back to episodic memory
type Session struct {
	store        repository.VectorStore
	textEmbedder adapter.Embedder
	retrieval    *retrieval.UseCase
	generation   *generation.UseCase
	storage      adapter.Storage

	mu         sync.Mutex
	transcript *model.Transcript
}

// NewInput contains parameters for creating a new chat session
type NewInput struct {
	Store         repository.VectorStore
	TextEmbedder  adapter.Embedder
	ImageEmbedder adapter.Embedder
	Gemini        adapter.Gemini
	Storage       adapter.Storage   // Optional: transcripts are archived when set
	SessionID     *model.SessionID // Optional: resume an archived transcript (requires Storage)
}

func New(ctx context.Context, input NewInput) (*Session, error) {
	s := &Session{
		store:        input.Store,
		textEmbedder: input.TextEmbedder,
		retrieval:    retrieval.New(input.Store, input.TextEmbedder, input.ImageEmbedder),
		generation:   generation.New(input.Gemini),
		storage:      input.Storage,
	}

	if input.SessionID != nil {
		if input.Storage == nil {
			return nil, goerr.New("storage is required to resume a session", goerr.V("session_id", *input.SessionID))
		}
		transcript, err := LoadTranscript(ctx, input.Storage, *input.SessionID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to resume session", goerr.V("session_id", *input.SessionID))
		}
		s.transcript = transcript
		return s, nil
	}

	now := time.Now()
	s.transcript = &model.Transcript{
		ID:        model.NewSessionID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s, nil
}

func (s *Session) ID() model.SessionID {
	return s.transcript.ID
}

// Send runs one turn. On ErrPersistTurn the returned entry is still valid and already in the transcript.
func (s *Session) Send(ctx context.Context, message string) (*model.TranscriptEntry, error) {
	if strings.TrimSpace(message) == "" {
		return nil, goerr.Wrap(ErrEmptyMessage, "nothing to send")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.From(ctx).With("session_id", s.transcript.ID)

	s.appendEntry(&model.TranscriptEntry{Role: model.RoleUser, Content: message})

	evidence := s.retrieval.Retrieve(ctx, message)

	answer, err := s.generation.Generate(ctx, message, evidence)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("generation_error").Inc()
		return nil, goerr.Wrap(err, "failed to answer message")
	}

	entry := &model.TranscriptEntry{
		Role:            model.RoleAssistant,
		Content:         answer,
		Sources:         evidence.Sources,
		ImageSuppressed: evidence.SuppressImage,
	}
	if evidence.ShowImage() {
		entry.Image = evidence.Image.Filename
		entry.Score = evidence.ImageScore
		entry.Reasoning = evidence.Image.Description
	}
	s.appendEntry(entry)

	if err := s.persistTurn(ctx, message, answer); err != nil {
		metrics.TurnsTotal.WithLabelValues("persist_error").Inc()
		logger.Warn("turn answered but not stored in memory", "error", err)
		return entry, err
	}

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	logger.Debug("turn completed", "sources", len(entry.Sources), "image", entry.Image)
	return entry, nil
}

// persistTurn writes both sides of the turn in one batch so memory never holds half a turn
func (s *Session) persistTurn(ctx context.Context, question, answer string) error {
	var points []*model.Point
	for _, turn := range []struct {
		text string
		role model.Role
	}{
		{question, model.RoleUser},
		{answer, model.RoleAssistant},
	} {
		vec, err := s.textEmbedder.Embed(ctx, turn.text)
		if err != nil {
			return errors.Join(ErrPersistTurn, goerr.Wrap(err, "failed to embed turn", goerr.V("role", turn.role)))
		}
		points = append(points, model.NewMemoryPoint(turn.text, turn.role, vec).Point())
	}

	if err := s.store.Upsert(ctx, model.MemoryCollectionName, points); err != nil {
		return errors.Join(ErrPersistTurn, goerr.Wrap(err, "failed to upsert turn"))
	}
	return nil
}

// Reset starts a new scenario: conversational memories are deleted and the
// transcript is cleared. system_report memories and images are kept. The
// transcript is cleared even when the delete fails.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript.Entries = nil
	s.transcript.UpdatedAt = time.Now()

	if err := s.store.DeleteByFilter(ctx, model.MemoryCollectionName, model.ConversationalFilter()); err != nil {
		if errors.Is(err, model.ErrCollectionNotFound) {
			return nil
		}
		return goerr.Wrap(err, "failed to delete conversational memory")
	}

	logging.From(ctx).Info("conversational memory cleared", "session_id", s.transcript.ID)
	return nil
}

// Transcript returns a copy of the current entries
func (s *Session) Transcript() []*model.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*model.TranscriptEntry, len(s.transcript.Entries))
	for i, e := range s.transcript.Entries {
		copied := *e
		copied.Sources = append([]string(nil), e.Sources...)
		entries[i] = &copied
	}
	return entries
}

// Archive stores the transcript in Cloud Storage. It does nothing when no storage is configured.
func (s *Session) Archive(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := saveTranscript(ctx, s.storage, s.transcript); err != nil {
		return goerr.Wrap(err, "failed to archive transcript", goerr.V("session_id", s.transcript.ID))
	}
	return nil
}

func (s *Session) appendEntry(entry *model.TranscriptEntry) {
	s.transcript.Entries = append(s.transcript.Entries, entry)
	s.transcript.UpdatedAt = time.Now()
}
