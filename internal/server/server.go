// Package server exposes the orchestration pipeline, paper store, and search
// engine over a small JSON HTTP API. Chat supports server-sent events for
// streamed turns.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cosci/internal/logging"
	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// DEPENDENCY SURFACES
// =============================================================================

// ChatHandler runs one chat turn through the orchestration pipeline.
type ChatHandler interface {
	Handle(ctx context.Context, req types.ChatRequest) (*types.ChatData, error)
	HandleStream(ctx context.Context, req types.ChatRequest) <-chan types.StreamChunk
}

// Searcher serves the standalone search endpoint.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Recommender serves the recommendations endpoint.
type Recommender interface {
	FromSurvey(ctx context.Context, sessionID string, topK int) ([]types.SearchResult, error)
	SimilarPapers(ctx context.Context, paperID string, topK int) ([]types.SearchResult, error)
	Popular(ctx context.Context, limit int) ([]types.Paper, error)
}

// PaperStore covers the paper and survey persistence the API exposes.
type PaperStore interface {
	UpsertPaper(ctx context.Context, p types.Paper) error
	GetPaper(ctx context.Context, id string) (types.Paper, error)
	ListPapers(ctx context.Context, opts store.ListOptions) ([]types.Paper, error)
	DeletePaper(ctx context.Context, id string) error
	AddVote(ctx context.Context, paperID string) error
	SaveSurveyResponses(ctx context.Context, sessionID, paperID string, responses []types.SurveyResponse) error
	GetSurveyResponses(ctx context.Context, sessionID, paperID string) ([]types.SurveyResponse, error)
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP front of the platform core.
type Server struct {
	chat        ChatHandler
	searcher    Searcher
	recommender Recommender
	store       PaperStore
	mux         *http.ServeMux
}

// New builds the server and registers all routes. Any dependency may be nil;
// its endpoints then answer 503.
func New(chat ChatHandler, searcher Searcher, recommender Recommender, st PaperStore) *Server {
	s := &Server{
		chat:        chat,
		searcher:    searcher,
		recommender: recommender,
		store:       st,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/v1/papers", s.handleListPapers)
	s.mux.HandleFunc("POST /api/v1/papers", s.handleUpsertPaper)
	s.mux.HandleFunc("GET /api/v1/papers/{id}", s.handleGetPaper)
	s.mux.HandleFunc("DELETE /api/v1/papers/{id}", s.handleDeletePaper)
	s.mux.HandleFunc("POST /api/v1/papers/{id}/vote", s.handleVote)
	s.mux.HandleFunc("POST /api/v1/papers/{id}/survey", s.handleSubmitSurvey)
	s.mux.HandleFunc("GET /api/v1/papers/{id}/survey", s.handleGetSurvey)
	s.mux.HandleFunc("GET /api/v1/recommendations", s.handleRecommendations)
}

// ServeHTTP makes the server mountable and testable as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logging.Server("shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

type envelope struct {
	Success bool             `json:"success"`
	Data    any              `json:"data,omitempty"`
	Error   *types.ChatError `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		logging.Get(logging.CategoryServer).Warn("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &types.ChatError{Code: code, Message: fmt.Sprintf(format, args...)},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "failed to parse request body: %v", err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
