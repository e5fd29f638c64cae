package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"cosci/internal/logging"
	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// CHAT
// =============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "chat pipeline is not configured")
		return
	}

	var req types.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session", "session_id is required")
		return
	}

	if req.Stream || wantsSSE(r) {
		s.streamChat(w, r, req)
		return
	}

	data, err := s.chat.Handle(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chat_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamChat forwards pipeline events as server-sent events, one JSON chunk
// per event.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req types.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_stream", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range s.chat.HandleStream(r.Context(), req) {
		payload, err := json.Marshal(chunk)
		if err != nil {
			logging.Get(logging.CategoryServer).Warn("failed to marshal stream chunk: %v", err)
			continue
		}
		if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			logging.Get(logging.CategoryServer).Warn("client dropped stream: %v", err)
			return
		}
		flusher.Flush()
	}
}

// =============================================================================
// SEARCH
// =============================================================================

type searchRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	VectorWeight  float64 `json:"vector_weight,omitempty"`
	KeywordWeight float64 `json:"keyword_weight,omitempty"`
	PaperID       string  `json:"paper_id,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "search engine is not configured")
		return
	}

	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}

	opts := search.DefaultOptions()
	if req.TopK > 0 {
		opts.TopK = req.TopK
	}
	if req.Threshold > 0 {
		opts.Threshold = req.Threshold
	}
	if req.VectorWeight != 0 || req.KeywordWeight != 0 {
		opts.VectorWeight = req.VectorWeight
		opts.KeywordWeight = req.KeywordWeight
	}
	opts.PaperID = req.PaperID

	hits, err := s.searcher.Search(r.Context(), req.Query, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "search_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": search.ContextResults(hits),
		"count":   len(hits),
	})
}

// =============================================================================
// PAPERS
// =============================================================================

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}

	q := r.URL.Query()
	opts := store.ListOptions{
		Tag:    q.Get("tag"),
		SortBy: q.Get("sort"),
	}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))

	papers, err := s.store.ListPapers(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers, "count": len(papers)})
}

func (s *Server) handleUpsertPaper(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}

	var paper types.Paper
	if !decodeBody(w, r, &paper) {
		return
	}
	if paper.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_title", "title is required")
		return
	}
	if paper.ID == "" {
		paper.ID = uuid.NewString()
	}

	if err := s.store.UpsertPaper(r.Context(), paper); err != nil {
		writeError(w, http.StatusInternalServerError, "upsert_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": paper.ID})
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}

	paper, err := s.store.GetPaper(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not_found", "paper %s not found", r.PathValue("id"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}
	if err := s.store.DeletePaper(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}

	err := s.store.AddVote(r.Context(), r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not_found", "paper %s not found", r.PathValue("id"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "vote_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

// =============================================================================
// SURVEYS
// =============================================================================

type surveyRequest struct {
	SessionID string                 `json:"session_id"`
	Responses []types.SurveyResponse `json:"responses"`
}

func (s *Server) handleSubmitSurvey(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}

	var req surveyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session", "session_id is required")
		return
	}
	if len(req.Responses) == 0 {
		writeError(w, http.StatusBadRequest, "missing_responses", "responses are required")
		return
	}

	if err := s.store.SaveSurveyResponses(r.Context(), req.SessionID, r.PathValue("id"), req.Responses); err != nil {
		writeError(w, http.StatusInternalServerError, "survey_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Responses)})
}

func (s *Server) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "paper store is not configured")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session", "session_id is required")
		return
	}

	responses, err := s.store.GetSurveyResponses(r.Context(), sessionID, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "survey_failed", "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if s.recommender == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "recommender is not configured")
		return
	}

	q := r.URL.Query()
	topK, _ := strconv.Atoi(q.Get("top_k"))
	if topK <= 0 {
		topK = 5
	}

	switch {
	case q.Get("paper_id") != "":
		recs, err := s.recommender.SimilarPapers(r.Context(), q.Get("paper_id"), topK)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "recommend_failed", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
	case q.Get("session_id") != "":
		recs, err := s.recommender.FromSurvey(r.Context(), q.Get("session_id"), topK)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "recommend_failed", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
	default:
		papers, err := s.recommender.Popular(r.Context(), topK)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "recommend_failed", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"popular": papers})
	}
}
