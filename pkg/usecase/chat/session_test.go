package chat_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/usecase/chat"
	"github.com/m-mizutani/crisisops/pkg/usecase/retrieval"
	"github.com/m-mizutani/crisisops/pkg/usecase/testtools"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockStorage struct {
	data map[string][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		data: make(map[string][]byte),
	}
}

func (m *mockStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &mockWriteCloser{
		Buffer:  &bytes.Buffer{},
		storage: m,
		key:     key,
	}, nil
}

type mockWriteCloser struct {
	*bytes.Buffer
	storage *mockStorage
	key     string
}

func (m *mockWriteCloser) Close() error {
	m.storage.data[m.key] = m.Buffer.Bytes()
	return nil
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, goerr.New("data not found", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fixture struct {
	store   *testtools.Store
	text    *testtools.Embedder
	image   *testtools.Embedder
	gemini  *testtools.Gemini
	storage *mockStorage
}

func newFixture() *fixture {
	return &fixture{
		store:   testtools.NewStore(),
		text:    &testtools.Embedder{Dim: model.MemoryDimension},
		image:   &testtools.Embedder{Dim: model.EvidenceDimension},
		gemini:  &testtools.Gemini{Reply: "Zone A is flooded. Use the north bridge."},
		storage: newMockStorage(),
	}
}

func (f *fixture) newSession(t *testing.T) *chat.Session {
	t.Helper()
	session, err := chat.New(context.Background(), chat.NewInput{
		Store:         f.store,
		TextEmbedder:  f.text,
		ImageEmbedder: f.image,
		Gemini:        f.gemini,
		Storage:       f.storage,
	})
	gt.NoError(t, err)
	return session
}

func scrollMemory(t *testing.T, store *testtools.Store) []*model.Point {
	t.Helper()
	points, err := store.Scroll(context.Background(), model.MemoryCollectionName, nil, 0)
	gt.NoError(t, err)
	return points
}

func TestSendPersistsBothTurns(t *testing.T) {
	f := newFixture()
	f.store.Hits[model.MemoryCollectionName] = []*model.ScoredPoint{
		testtools.MemoryHit("Zone A: water level 1.2m above road", model.RoleSystemReport, 0.55),
		testtools.MemoryHit("Zone C shelter open", model.RoleSystemReport, 0.30),
	}
	session := f.newSession(t)

	entry, err := session.Send(context.Background(), "Is there flooding in Zone A?")
	gt.NoError(t, err)
	gt.Equal(t, entry.Role, model.RoleAssistant)
	gt.Equal(t, entry.Content, "Zone A is flooded. Use the north bridge.")
	gt.Equal(t, entry.Sources, []string{"Zone A: water level 1.2m above road"})
	gt.Equal(t, entry.Image, "")

	// one batch for both turns
	gt.Equal(t, f.store.Upserts, 1)

	points := scrollMemory(t, f.store)
	gt.A(t, points).Length(2)
	roles := map[string]string{}
	for _, p := range points {
		roles[p.Payload.String(model.PayloadRole)] = p.Payload.String(model.PayloadChatText)
	}
	// query first, then both sides of the turn
	gt.Equal(t, f.text.Texts, []string{
		"Is there flooding in Zone A?",
		"Is there flooding in Zone A?",
		"Zone A is flooded. Use the north bridge.",
	})
	gt.Equal(t, roles[string(model.RoleUser)], "Is there flooding in Zone A?")
	gt.Equal(t, roles[string(model.RoleAssistant)], "Zone A is flooded. Use the north bridge.")

	transcript := session.Transcript()
	gt.A(t, transcript).Length(2)
	gt.Equal(t, transcript[0].Role, model.RoleUser)
	gt.Equal(t, transcript[1].Role, model.RoleAssistant)

	gt.S(t, f.gemini.LastPrompt()).Contains("Zone A: water level 1.2m above road")
	gt.S(t, f.gemini.LastPrompt()).NotContains("Zone C shelter open")
	gt.S(t, f.gemini.LastPrompt()).Contains(retrieval.NoVisualContext)
}

func TestSendShowsImage(t *testing.T) {
	f := newFixture()
	f.store.Hits[model.EvidenceCollectionName] = []*model.ScoredPoint{
		testtools.EvidenceHit("data_images/guwahati_flood_zoo_road.jpg", "guwahati flood zoo road", 0.33),
	}
	session := f.newSession(t)

	entry, err := session.Send(context.Background(), "show the zoo road")
	gt.NoError(t, err)
	gt.Equal(t, entry.Image, "data_images/guwahati_flood_zoo_road.jpg")
	gt.Equal(t, entry.Score, 0.33)
	gt.Equal(t, entry.Reasoning, "guwahati flood zoo road")
	gt.A(t, entry.Sources).Length(0)
}

func TestSendSuppressesImage(t *testing.T) {
	f := newFixture()
	f.store.Hits[model.EvidenceCollectionName] = []*model.ScoredPoint{
		testtools.EvidenceHit("data_images/bridge.jpg", "bridge", 0.9),
	}
	session := f.newSession(t)

	entry, err := session.Send(context.Background(), "don't show photos, is the bridge open?")
	gt.NoError(t, err)
	gt.Equal(t, entry.Image, "")
	gt.Equal(t, entry.Score, 0.0)
	gt.True(t, entry.ImageSuppressed)
	gt.S(t, f.gemini.LastPrompt()).Contains("A relevant image was found showing: bridge")
}

func TestSendGenerationFailure(t *testing.T) {
	f := newFixture()
	f.gemini.Err = goerr.New("service unavailable")
	session := f.newSession(t)

	_, err := session.Send(context.Background(), "Is there flooding in Zone A?")
	gt.Error(t, err)
	gt.Equal(t, f.store.Upserts, 0)
	gt.A(t, scrollMemory(t, f.store)).Length(0)

	// the question stays visible so the user can retry
	transcript := session.Transcript()
	gt.A(t, transcript).Length(1)
	gt.Equal(t, transcript[0].Role, model.RoleUser)
}

func TestSendPersistFailure(t *testing.T) {
	f := newFixture()
	f.store.UpsertErr = goerr.New("qdrant unreachable")
	session := f.newSession(t)

	entry, err := session.Send(context.Background(), "status of Zone B?")
	gt.True(t, errors.Is(err, chat.ErrPersistTurn))
	gt.V(t, entry).NotNil()
	gt.Equal(t, entry.Content, "Zone A is flooded. Use the north bridge.")
	gt.A(t, session.Transcript()).Length(2)
}

func TestSendEmptyAnswerIsPersisted(t *testing.T) {
	f := newFixture()
	f.gemini.Reply = ""
	session := f.newSession(t)

	entry, err := session.Send(context.Background(), "Is there flooding in Zone A?")
	gt.NoError(t, err)
	gt.Equal(t, entry.Content, "")
	gt.Equal(t, f.store.Upserts, 1)

	points := scrollMemory(t, f.store)
	gt.A(t, points).Length(2)
}

func TestSendPersistFailureKeepsCause(t *testing.T) {
	f := newFixture()
	f.store.UpsertErr = goerr.Wrap(model.ErrCollectionNotFound, "collection dropped")
	session := f.newSession(t)

	_, err := session.Send(context.Background(), "status of Zone B?")
	gt.True(t, errors.Is(err, chat.ErrPersistTurn))
	gt.True(t, errors.Is(err, model.ErrCollectionNotFound))
}

func TestSendEmbedFailureStoresNothing(t *testing.T) {
	f := newFixture()
	f.text.FailOn = []string{"north bridge"}
	session := f.newSession(t)

	_, err := session.Send(context.Background(), "where to go?")
	gt.True(t, errors.Is(err, chat.ErrPersistTurn))
	gt.A(t, scrollMemory(t, f.store)).Length(0)
}

func TestSendEmptyMessage(t *testing.T) {
	f := newFixture()
	session := f.newSession(t)

	_, err := session.Send(context.Background(), "   ")
	gt.True(t, errors.Is(err, chat.ErrEmptyMessage))
	gt.A(t, session.Transcript()).Length(0)
}

func TestResetKeepsSystemReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	report := model.NewMemoryPoint("Zone A: water level 1.2m above road", model.RoleSystemReport, make([]float32, model.MemoryDimension))
	gt.NoError(t, f.store.Memory.Upsert(ctx, model.MemoryCollectionName, []*model.Point{report.Point()}))

	session := f.newSession(t)
	_, err := session.Send(ctx, "Is there flooding in Zone A?")
	gt.NoError(t, err)
	gt.A(t, scrollMemory(t, f.store)).Length(3)

	gt.NoError(t, session.Reset(ctx))

	points := scrollMemory(t, f.store)
	gt.A(t, points).Length(1)
	gt.Equal(t, points[0].Payload.String(model.PayloadRole), string(model.RoleSystemReport))
	gt.A(t, session.Transcript()).Length(0)
}

func TestResetClearsTranscriptOnDeleteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	session := f.newSession(t)
	_, err := session.Send(ctx, "hello")
	gt.NoError(t, err)

	f.store.DeleteErr = goerr.New("timeout")
	gt.Error(t, session.Reset(ctx))
	gt.A(t, session.Transcript()).Length(0)
}

func TestTranscriptIsCopy(t *testing.T) {
	f := newFixture()
	session := f.newSession(t)
	_, err := session.Send(context.Background(), "hello")
	gt.NoError(t, err)

	entries := session.Transcript()
	entries[0].Content = "tampered"
	gt.Equal(t, session.Transcript()[0].Content, "hello")
}

func TestArchiveAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	session := f.newSession(t)
	_, err := session.Send(ctx, "Is there flooding in Zone A?")
	gt.NoError(t, err)
	gt.NoError(t, session.Archive(ctx))

	_, ok := f.storage.data["transcripts/"+string(session.ID())+".json"]
	gt.True(t, ok)

	id := session.ID()
	resumed, err := chat.New(ctx, chat.NewInput{
		Store:         f.store,
		TextEmbedder:  f.text,
		ImageEmbedder: f.image,
		Gemini:        f.gemini,
		Storage:       f.storage,
		SessionID:     &id,
	})
	gt.NoError(t, err)
	gt.Equal(t, resumed.ID(), id)

	transcript := resumed.Transcript()
	gt.A(t, transcript).Length(2)
	gt.Equal(t, transcript[0].Content, "Is there flooding in Zone A?")
}

func TestResumeUnknownSession(t *testing.T) {
	f := newFixture()
	id := model.NewSessionID()
	_, err := chat.New(context.Background(), chat.NewInput{
		Store:         f.store,
		TextEmbedder:  f.text,
		ImageEmbedder: f.image,
		Gemini:        f.gemini,
		Storage:       f.storage,
		SessionID:     &id,
	})
	gt.Error(t, err)
}

func TestArchiveWithoutStorage(t *testing.T) {
	f := newFixture()
	session, err := chat.New(context.Background(), chat.NewInput{
		Store:         f.store,
		TextEmbedder:  f.text,
		ImageEmbedder: f.image,
		Gemini:        f.gemini,
	})
	gt.NoError(t, err)
	gt.NoError(t, session.Archive(context.Background()))
}
