package ingest

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/crisisops/pkg/adapter"
	"github.com/m-mizutani/crisisops/pkg/metrics"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/repository"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultImageDir = "data_images"
	DefaultLogFile  = "data_logs.txt"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Describe derives an image caption from its file name:
// everything before the first "." with "_" and "-" turned into spaces.
func Describe(filename string) string {
	base := filepath.Base(filename)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(base)
}

// Report summarizes one ingestion run
type Report struct {
	ImageDirFound  bool `json:"image_dir_found"`
	ImagesFound    int  `json:"images_found"`
	ImagesUploaded int  `json:"images_uploaded"`
	ImagesSkipped  int  `json:"images_skipped"`

	LogFileFound bool `json:"log_file_found"`
	LogsFound    int  `json:"logs_found"`
	LogsUploaded int  `json:"logs_uploaded"`
	LogsSkipped  int  `json:"logs_skipped"`
}

// UseCase loads captioned images and situation reports into the vector store
type UseCase struct {
	store         repository.VectorStore
	textEmbedder  adapter.Embedder
	imageEmbedder adapter.ImageEmbedder
	imageDir      string
	logFile       string
}

type Option func(*UseCase)

func WithImageDir(dir string) Option {
	return func(u *UseCase) {
		if dir != "" {
			u.imageDir = dir
		}
	}
}

func WithLogFile(path string) Option {
	return func(u *UseCase) {
		if path != "" {
			u.logFile = path
		}
	}
}

func New(store repository.VectorStore, textEmbedder adapter.Embedder, imageEmbedder adapter.ImageEmbedder, opts ...Option) *UseCase {
	u := &UseCase{
		store:         store,
		textEmbedder:  textEmbedder,
		imageEmbedder: imageEmbedder,
		imageDir:      DefaultImageDir,
		logFile:       DefaultLogFile,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Ingest runs the image half then the text half. Both collections must exist.
// A missing source only skips its own half; a failed batch upsert is returned
// after both halves ran.
func (u *UseCase) Ingest(ctx context.Context) (*Report, error) {
	report := &Report{}
	var errs []error

	if err := u.ingestImages(ctx, report); err != nil {
		errs = append(errs, err)
	}
	if err := u.ingestLogs(ctx, report); err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

func (u *UseCase) ingestImages(ctx context.Context, report *Report) error {
	logger := logging.From(ctx).With("image_dir", u.imageDir)

	entries, err := os.ReadDir(u.imageDir)
	if err != nil {
		logger.Warn("image directory not available, skipping images", "error", err)
		return nil
	}
	report.ImageDirFound = true

	var points []*model.Point
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		report.ImagesFound++

		path := filepath.Join(u.imageDir, entry.Name())
		point, err := u.embedImage(ctx, path)
		if err != nil {
			report.ImagesSkipped++
			logger.Warn("skipped image", "file", entry.Name(), "error", err)
			continue
		}
		points = append(points, point)
	}
	logger.Info("images processed", "found", report.ImagesFound, "encoded", len(points))

	if len(points) == 0 {
		return nil
	}
	if err := u.store.Upsert(ctx, model.EvidenceCollectionName, points); err != nil {
		report.ImagesSkipped += len(points)
		metrics.IngestedPointsTotal.WithLabelValues(model.EvidenceCollectionName, "skipped").Add(float64(report.ImagesSkipped))
		return goerr.Wrap(err, "failed to upload images", goerr.V("count", len(points)))
	}

	report.ImagesUploaded = len(points)
	metrics.IngestedPointsTotal.WithLabelValues(model.EvidenceCollectionName, "uploaded").Add(float64(report.ImagesUploaded))
	metrics.IngestedPointsTotal.WithLabelValues(model.EvidenceCollectionName, "skipped").Add(float64(report.ImagesSkipped))
	return nil
}

func (u *UseCase) embedImage(ctx context.Context, path string) (*model.Point, error) {
	img, err := adapter.LoadImage(path)
	if err != nil {
		return nil, err
	}
	vec, err := u.imageEmbedder.EmbedImage(ctx, img)
	if err != nil {
		return nil, err
	}

	evidence := &model.EvidencePoint{
		ID:          model.NewPointID(),
		Vector:      vec,
		Filename:    path,
		Description: Describe(path),
		Type:        model.EvidenceTypePhoto,
	}
	return evidence.Point(), nil
}

func (u *UseCase) ingestLogs(ctx context.Context, report *Report) error {
	logger := logging.From(ctx).With("log_file", u.logFile)

	lines, err := readLines(u.logFile)
	if err != nil {
		logger.Warn("log file not available, skipping text logs", "error", err)
		return nil
	}
	report.LogFileFound = true
	report.LogsFound = len(lines)

	var points []*model.Point
	for _, line := range lines {
		vec, err := u.textEmbedder.Embed(ctx, line)
		if err != nil {
			report.LogsSkipped++
			logger.Warn("skipped log line", "line", line, "error", err)
			continue
		}
		points = append(points, model.NewMemoryPoint(line, model.RoleSystemReport, vec).Point())
	}
	logger.Info("text logs processed", "found", report.LogsFound, "encoded", len(points))

	if len(points) == 0 {
		return nil
	}
	if err := u.store.Upsert(ctx, model.MemoryCollectionName, points); err != nil {
		report.LogsSkipped += len(points)
		metrics.IngestedPointsTotal.WithLabelValues(model.MemoryCollectionName, "skipped").Add(float64(report.LogsSkipped))
		return goerr.Wrap(err, "failed to upload text logs", goerr.V("count", len(points)))
	}

	report.LogsUploaded = len(points)
	metrics.IngestedPointsTotal.WithLabelValues(model.MemoryCollectionName, "uploaded").Add(float64(report.LogsUploaded))
	metrics.IngestedPointsTotal.WithLabelValues(model.MemoryCollectionName, "skipped").Add(float64(report.LogsSkipped))
	return nil
}

// readLines returns the trimmed non-empty lines of the file
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open log file", goerr.V("path", path))
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read log file", goerr.V("path", path))
	}
	return lines, nil
}
