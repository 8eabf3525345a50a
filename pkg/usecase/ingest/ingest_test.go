package ingest_test

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/m-mizutani/crisisops/pkg/usecase/ingest"
	"github.com/m-mizutani/crisisops/pkg/usecase/testtools"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestDescribe(t *testing.T) {
	testCases := map[string]string{
		"guwahati_flood_zoo_road.jpg":     "guwahati flood zoo road",
		"data_images/bridge-collapse.png": "bridge collapse",
		"zone_a.v2.jpeg":                  "zone a",
		"shelter":                         "shelter",
	}
	for in, want := range testCases {
		t.Run(in, func(t *testing.T) {
			gt.Equal(t, ingest.Describe(in), want)
		})
	}
}

func writeImage(t *testing.T, path string) {
	t.Helper()
	img := imaging.New(320, 240, color.NRGBA{R: 20, G: 80, B: 200, A: 255})
	gt.NoError(t, imaging.Save(img, path))
}

func setupData(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	imageDir := filepath.Join(dir, "data_images")
	gt.NoError(t, os.Mkdir(imageDir, 0o755))

	writeImage(t, filepath.Join(imageDir, "guwahati_flood_zoo_road.jpg"))
	writeImage(t, filepath.Join(imageDir, "bridge-collapse.PNG"))
	gt.NoError(t, os.WriteFile(filepath.Join(imageDir, "broken.jpeg"), []byte("not an image"), 0o600))
	gt.NoError(t, os.WriteFile(filepath.Join(imageDir, "notes.txt"), []byte("ignored"), 0o600))

	logFile := filepath.Join(dir, "data_logs.txt")
	gt.NoError(t, os.WriteFile(logFile, []byte(
		"Zone A: water level 1.2m above road\n\n   \n  Zone C shelter open, capacity 200  \nNH-27 closed near Jorabat\n",
	), 0o600))

	return imageDir, logFile
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	imageDir, logFile := setupData(t)
	store := testtools.NewStore()
	image := &testtools.Embedder{Dim: model.EvidenceDimension}

	uc := ingest.New(store,
		&testtools.Embedder{Dim: model.MemoryDimension},
		image,
		ingest.WithImageDir(imageDir),
		ingest.WithLogFile(logFile),
	)
	report, err := uc.Ingest(ctx)
	gt.NoError(t, err)

	gt.True(t, report.ImageDirFound)
	gt.Equal(t, report.ImagesFound, 3)
	gt.Equal(t, report.ImagesUploaded, 2)
	gt.Equal(t, report.ImagesSkipped, 1)
	gt.Equal(t, image.Images, 2)

	gt.True(t, report.LogFileFound)
	gt.Equal(t, report.LogsFound, 3)
	gt.Equal(t, report.LogsUploaded, 3)
	gt.Equal(t, report.LogsSkipped, 0)

	// one batch per collection
	gt.Equal(t, store.Upserts, 2)

	evidence, err := store.Scroll(ctx, model.EvidenceCollectionName, nil, 0)
	gt.NoError(t, err)
	gt.A(t, evidence).Length(2)
	descriptions := map[string]string{}
	for _, p := range evidence {
		e := model.EvidenceFromPayload(p.ID, p.Payload)
		descriptions[e.Description] = e.Filename
		gt.Equal(t, e.Type, model.EvidenceTypePhoto)
	}
	gt.Equal(t, descriptions["guwahati flood zoo road"], filepath.Join(imageDir, "guwahati_flood_zoo_road.jpg"))
	gt.Equal(t, descriptions["bridge collapse"], filepath.Join(imageDir, "bridge-collapse.PNG"))

	reports, err := store.Scroll(ctx, model.MemoryCollectionName, nil, 0)
	gt.NoError(t, err)
	gt.A(t, reports).Length(3)
	gt.Equal(t, reports[1].Payload.String(model.PayloadChatText), "Zone C shelter open, capacity 200")
	for _, p := range reports {
		gt.Equal(t, p.Payload.String(model.PayloadRole), string(model.RoleSystemReport))
	}
}

func TestIngestSkipsFailedLines(t *testing.T) {
	ctx := context.Background()
	imageDir, logFile := setupData(t)
	store := testtools.NewStore()

	uc := ingest.New(store,
		&testtools.Embedder{Dim: model.MemoryDimension, FailOn: []string{"NH-27"}},
		&testtools.Embedder{Dim: model.EvidenceDimension},
		ingest.WithImageDir(imageDir),
		ingest.WithLogFile(logFile),
	)
	report, err := uc.Ingest(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.LogsUploaded, 2)
	gt.Equal(t, report.LogsSkipped, 1)
}

func TestIngestMissingImageDir(t *testing.T) {
	ctx := context.Background()
	_, logFile := setupData(t)
	store := testtools.NewStore()

	uc := ingest.New(store,
		&testtools.Embedder{Dim: model.MemoryDimension},
		&testtools.Embedder{Dim: model.EvidenceDimension},
		ingest.WithImageDir(filepath.Join(t.TempDir(), "missing")),
		ingest.WithLogFile(logFile),
	)
	report, err := uc.Ingest(ctx)
	gt.NoError(t, err)
	gt.False(t, report.ImageDirFound)
	gt.Equal(t, report.ImagesFound, 0)
	gt.Equal(t, report.LogsUploaded, 3)
}

func TestIngestMissingLogFile(t *testing.T) {
	ctx := context.Background()
	imageDir, _ := setupData(t)
	store := testtools.NewStore()

	uc := ingest.New(store,
		&testtools.Embedder{Dim: model.MemoryDimension},
		&testtools.Embedder{Dim: model.EvidenceDimension},
		ingest.WithImageDir(imageDir),
		ingest.WithLogFile(filepath.Join(t.TempDir(), "missing.txt")),
	)
	report, err := uc.Ingest(ctx)
	gt.NoError(t, err)
	gt.False(t, report.LogFileFound)
	gt.Equal(t, report.ImagesUploaded, 2)
}

func TestIngestUpsertFailure(t *testing.T) {
	ctx := context.Background()
	imageDir, logFile := setupData(t)
	store := testtools.NewStore()
	store.UpsertErr = goerr.New("connection refused")

	uc := ingest.New(store,
		&testtools.Embedder{Dim: model.MemoryDimension},
		&testtools.Embedder{Dim: model.EvidenceDimension},
		ingest.WithImageDir(imageDir),
		ingest.WithLogFile(logFile),
	)
	report, err := uc.Ingest(ctx)
	gt.Error(t, err)
	gt.V(t, report).NotNil()
	gt.Equal(t, report.ImagesUploaded, 0)
	gt.Equal(t, report.LogsUploaded, 0)
	// both halves were attempted
	gt.Equal(t, store.Upserts, 2)
}

func TestIngestDoesNotCreateCollections(t *testing.T) {
	ctx := context.Background()
	imageDir, logFile := setupData(t)
	store := repository.NewMemory()

	uc := ingest.New(store,
		&testtools.Embedder{Dim: model.MemoryDimension},
		&testtools.Embedder{Dim: model.EvidenceDimension},
		ingest.WithImageDir(imageDir),
		ingest.WithLogFile(logFile),
	)
	report, err := uc.Ingest(ctx)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrCollectionNotFound))
	gt.Equal(t, report.ImagesUploaded, 0)
	gt.Equal(t, report.LogsUploaded, 0)
}
