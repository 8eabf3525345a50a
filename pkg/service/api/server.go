package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/crisisops/pkg/metrics"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/usecase/chat"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat is the conversation the server drives. *chat.Session implements it.
type Chat interface {
	Send(ctx context.Context, message string) (*model.TranscriptEntry, error)
	Reset(ctx context.Context) error
	Transcript() []*model.TranscriptEntry
}

var _ Chat = (*chat.Session)(nil)

type Server struct {
	chat     Chat
	imageDir string
	router   chi.Router
}

type Option func(*Server)

// WithImageDir sets the directory evidence images are served from
func WithImageDir(dir string) Option {
	return func(s *Server) {
		s.imageDir = dir
	}
}

func New(c Chat, opts ...Option) *Server {
	s := &Server{
		chat:     c,
		imageDir: "data_images",
	}
	for _, opt := range opts {
		opt(s)
	}

	metrics.Register()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withLogger)
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/transcript", s.handleTranscript)
		r.Delete("/memory", s.handleReset)
	})
	r.Get("/evidence/{name}", s.handleEvidence)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- goerr.Wrap(err, "HTTP server failed", goerr.V("addr", addr))
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down HTTP server")
	}
	logging.From(ctx).Info("HTTP server stopped")
	return nil
}

func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.Default().With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logging.With(r.Context(), logger)))
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

type entryResponse struct {
	*model.TranscriptEntry
	ImageURL string `json:"image_url,omitempty"`
}

type chatResponse struct {
	Entry   *entryResponse `json:"entry"`
	Warning string         `json:"warning,omitempty"`
}

type transcriptResponse struct {
	Entries []*entryResponse `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toEntryResponse(entry *model.TranscriptEntry) *entryResponse {
	resp := &entryResponse{TranscriptEntry: entry}
	if entry.Image != "" {
		resp.ImageURL = "/evidence/" + filepath.Base(entry.Image)
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, goerr.Wrap(err, "invalid request body"))
		return
	}

	entry, err := s.chat.Send(r.Context(), req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, &chatResponse{Entry: toEntryResponse(entry)})
	case errors.Is(err, chat.ErrPersistTurn) && entry != nil:
		logging.From(r.Context()).Warn("answered without persisting turn", "error", err)
		writeJSON(w, http.StatusOK, &chatResponse{
			Entry:   toEntryResponse(entry),
			Warning: "turn was not saved to memory",
		})
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(r.Context(), w, http.StatusBadRequest, err)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	resp := &transcriptResponse{Entries: []*entryResponse{}}
	for _, entry := range s.chat.Transcript() {
		resp.Entries = append(resp.Entries, toEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Reset(r.Context()); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var evidenceContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

func (s *Server) handleEvidence(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	contentType, ok := evidenceContentTypes[strings.ToLower(filepath.Ext(name))]
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || !ok {
		writeError(r.Context(), w, http.StatusBadRequest, goerr.New("invalid evidence name", goerr.V("name", name)))
		return
	}

	path := filepath.Join(s.imageDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, goerr.Wrap(err, "evidence not found", goerr.V("name", name)))
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		logging.From(ctx).Error("request failed", "error", err)
	} else {
		logging.From(ctx).Debug("bad request", "error", err)
	}
	writeJSON(w, status, &errorResponse{Error: err.Error()})
}
