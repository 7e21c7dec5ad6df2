package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/elonfeng/subledger/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Reader is the read side of the store served over HTTP.
type Reader interface {
	Stats(ctx context.Context) (*store.Stats, error)
	GetCommunity(ctx context.Context, name string) (*store.Community, error)
	GetAuthor(ctx context.Context, username string) (*store.Author, error)
	GetPost(ctx context.Context, id string) (*store.Post, error)
	ListSnapshots(ctx context.Context, username string, limit int) ([]store.AuthorSnapshot, error)
	ListPostsByAuthor(ctx context.Context, username string, limit int) ([]store.Post, error)
	ListReplies(ctx context.Context, postID string) ([]store.Reply, error)
}

// Server provides the read-only HTTP API.
type Server struct {
	reader Reader
	logger *zap.Logger
	port   int
}

// New creates a new HTTP server.
func New(r Reader, logger *zap.Logger, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		reader: r,
		logger: logger.Named("server"),
		port:   port,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/communities/{name}", s.handleCommunity)
	mux.HandleFunc("GET /api/v1/authors/{name}", s.handleAuthor)
	mux.HandleFunc("GET /api/v1/authors/{name}/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/v1/posts/{id}", s.handlePost)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.reader.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCommunity(w http.ResponseWriter, r *http.Request) {
	c, err := s.reader.GetCommunity(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAuthor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	author, err := s.reader.GetAuthor(ctx, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	snaps, err := s.reader.ListSnapshots(ctx, name, 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	posts, err := s.reader.ListPostsByAuthor(ctx, name, limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{
		"author": author,
		"posts":  posts,
	}
	if len(snaps) > 0 {
		resp["latest_snapshot"] = snaps[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	if _, err := s.reader.GetAuthor(ctx, name); err != nil {
		s.writeError(w, err)
		return
	}
	snaps, err := s.reader.ListSnapshots(ctx, name, limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  snaps,
		"count": len(snaps),
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	post, err := s.reader.GetPost(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	replies, err := s.reader.ListReplies(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"post":    post,
		"replies": replies,
		"count":   len(replies),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
