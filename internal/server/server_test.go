package server

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeChat struct {
	data   *types.ChatData
	err    error
	chunks []types.StreamChunk
	gotReq types.ChatRequest
}

func (f *fakeChat) Handle(ctx context.Context, req types.ChatRequest) (*types.ChatData, error) {
	f.gotReq = req
	return f.data, f.err
}

func (f *fakeChat) HandleStream(ctx context.Context, req types.ChatRequest) <-chan types.StreamChunk {
	f.gotReq = req
	out := make(chan types.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out
}

type fakeSearcher struct {
	results []search.Result
	err     error
	gotOpts search.Options
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	f.gotOpts = opts
	return f.results, f.err
}

type fakeRecommender struct {
	recs    []types.SearchResult
	popular []types.Paper
	gotID   string
}

func (f *fakeRecommender) FromSurvey(ctx context.Context, sessionID string, topK int) ([]types.SearchResult, error) {
	f.gotID = sessionID
	return f.recs, nil
}

func (f *fakeRecommender) SimilarPapers(ctx context.Context, paperID string, topK int) ([]types.SearchResult, error) {
	f.gotID = paperID
	return f.recs, nil
}

func (f *fakeRecommender) Popular(ctx context.Context, limit int) ([]types.Paper, error) {
	return f.popular, nil
}

type fakePaperStore struct {
	papers    map[string]types.Paper
	deleted   []string
	votes     []string
	surveys   map[string][]types.SurveyResponse
	lastSaved types.Paper
}

func newFakePaperStore() *fakePaperStore {
	return &fakePaperStore{
		papers:  make(map[string]types.Paper),
		surveys: make(map[string][]types.SurveyResponse),
	}
}

func (f *fakePaperStore) UpsertPaper(ctx context.Context, p types.Paper) error {
	f.papers[p.ID] = p
	f.lastSaved = p
	return nil
}

func (f *fakePaperStore) GetPaper(ctx context.Context, id string) (types.Paper, error) {
	p, ok := f.papers[id]
	if !ok {
		return types.Paper{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakePaperStore) ListPapers(ctx context.Context, opts store.ListOptions) ([]types.Paper, error) {
	var out []types.Paper
	for _, p := range f.papers {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePaperStore) DeletePaper(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePaperStore) AddVote(ctx context.Context, paperID string) error {
	if _, ok := f.papers[paperID]; !ok {
		return sql.ErrNoRows
	}
	f.votes = append(f.votes, paperID)
	return nil
}

func (f *fakePaperStore) SaveSurveyResponses(ctx context.Context, sessionID, paperID string, responses []types.SurveyResponse) error {
	f.surveys[sessionID+"/"+paperID] = responses
	return nil
}

func (f *fakePaperStore) GetSurveyResponses(ctx context.Context, sessionID, paperID string) ([]types.SurveyResponse, error) {
	return f.surveys[sessionID+"/"+paperID], nil
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) {
	t.Helper()
	var env struct {
		Success bool             `json:"success"`
		Data    json.RawMessage  `json:"data"`
		Error   *types.ChatError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success, "error: %+v", env.Error)
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
}

// =============================================================================
// CHAT
// =============================================================================

func TestChatRequiresSession(t *testing.T) {
	s := New(&fakeChat{}, nil, nil, nil)
	rec := postJSON(t, s, "/api/v1/chat", types.ChatRequest{Message: "안녕"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_id")
}

func TestChatJSONResponse(t *testing.T) {
	chat := &fakeChat{data: &types.ChatData{
		Message: "환영합니다",
		SkillID: "greeting",
		Signals: types.DefaultSignals(),
	}}
	s := New(chat, nil, nil, nil)

	rec := postJSON(t, s, "/api/v1/chat", types.ChatRequest{
		SessionID: "sess",
		Message:   "안녕하세요",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.ChatData
	decodeEnvelope(t, rec, &got)

	want := types.ChatData{Message: "환영합니다", SkillID: "greeting", Signals: types.DefaultSignals()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("chat data mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "안녕하세요", chat.gotReq.Message)
}

func TestChatStreamSSE(t *testing.T) {
	chat := &fakeChat{chunks: []types.StreamChunk{
		{Type: types.ChunkContent, Data: "안녕"},
		{Type: types.ChunkContent, Data: "하세요"},
		{Type: types.ChunkDone, Data: types.DonePayload{Content: "안녕하세요", Signals: types.DefaultSignals()}},
	}}
	s := New(chat, nil, nil, nil)

	rec := postJSON(t, s, "/api/v1/chat", types.ChatRequest{
		SessionID: "sess",
		Message:   "안녕",
		Stream:    true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	var events []types.StreamChunkType
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk struct {
			Type types.StreamChunkType `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		events = append(events, chunk.Type)
	}
	assert.Equal(t, []types.StreamChunkType{
		types.ChunkContent, types.ChunkContent, types.ChunkDone,
	}, events)
}

func TestChatStreamViaAcceptHeader(t *testing.T) {
	chat := &fakeChat{chunks: []types.StreamChunk{
		{Type: types.ChunkDone, Data: types.DonePayload{Content: "ok"}},
	}}
	s := New(chat, nil, nil, nil)

	raw, _ := json.Marshal(types.ChatRequest{SessionID: "sess"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewReader(raw))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, rec.Body.String(), "data: ")
}

func TestChatRejectsBadJSON(t *testing.T) {
	s := New(&fakeChat{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SEARCH
// =============================================================================

func TestSearchEndpoint(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Result{
		{Paper: types.Paper{ID: "p1", Title: "Paper One"}, Score: 0.8},
	}}
	s := New(nil, searcher, nil, nil)

	rec := postJSON(t, s, "/api/v1/search", searchRequest{Query: "transformer", TopK: 3})
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Results []types.SearchResult `json:"results"`
		Count   int                  `json:"count"`
	}
	decodeEnvelope(t, rec, &got)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "p1", got.Results[0].PaperID)
	assert.Equal(t, 3, searcher.gotOpts.TopK)
}

func TestSearchRequiresQuery(t *testing.T) {
	s := New(nil, &fakeSearcher{}, nil, nil)
	rec := postJSON(t, s, "/api/v1/search", searchRequest{Query: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUnavailable(t *testing.T) {
	s := New(nil, nil, nil, nil)
	rec := postJSON(t, s, "/api/v1/search", searchRequest{Query: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// PAPERS
// =============================================================================

func TestPaperCRUD(t *testing.T) {
	st := newFakePaperStore()
	s := New(nil, nil, nil, st)

	// Create without an ID gets one assigned.
	rec := postJSON(t, s, "/api/v1/papers", types.Paper{Title: "New Paper"})
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	decodeEnvelope(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "New Paper", st.lastSaved.Title)

	// Fetch it back.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/papers/"+created.ID, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	// Unknown paper is a 404.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/papers/nope", nil)
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Delete.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/papers/"+created.ID, nil)
	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{created.ID}, st.deleted)
}

func TestUpsertPaperRequiresTitle(t *testing.T) {
	s := New(nil, nil, nil, newFakePaperStore())
	rec := postJSON(t, s, "/api/v1/papers", types.Paper{ID: "p1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVote(t *testing.T) {
	st := newFakePaperStore()
	st.papers["p1"] = types.Paper{ID: "p1", Title: "a"}
	s := New(nil, nil, nil, st)

	rec := postJSON(t, s, "/api/v1/papers/p1/vote", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1"}, st.votes)

	rec = postJSON(t, s, "/api/v1/papers/ghost/vote", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SURVEYS
// =============================================================================

func TestSubmitAndGetSurvey(t *testing.T) {
	st := newFakePaperStore()
	s := New(nil, nil, nil, st)

	responses := []types.SurveyResponse{{QuestionID: "1", Answer: "유익했다"}}
	rec := postJSON(t, s, "/api/v1/papers/p1/survey", surveyRequest{
		SessionID: "sess",
		Responses: responses,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/papers/p1/survey?session_id=sess", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Responses []types.SurveyResponse `json:"responses"`
	}
	decodeEnvelope(t, rr, &got)
	if diff := cmp.Diff(responses, got.Responses); diff != "" {
		t.Errorf("survey responses mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitSurveyValidation(t *testing.T) {
	s := New(nil, nil, nil, newFakePaperStore())

	rec := postJSON(t, s, "/api/v1/papers/p1/survey", surveyRequest{Responses: []types.SurveyResponse{{QuestionID: "1"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "session_id is required")

	rec = postJSON(t, s, "/api/v1/papers/p1/survey", surveyRequest{SessionID: "sess"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "responses are required")
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

func TestRecommendationsBySession(t *testing.T) {
	rc := &fakeRecommender{recs: []types.SearchResult{{PaperID: "p1", Title: "a"}}}
	s := New(nil, nil, rc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recommendations?session_id=sess", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess", rc.gotID)
}

func TestRecommendationsByPaper(t *testing.T) {
	rc := &fakeRecommender{recs: []types.SearchResult{{PaperID: "p2", Title: "b"}}}
	s := New(nil, nil, rc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recommendations?paper_id=p1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", rc.gotID)
}

func TestRecommendationsPopularFallback(t *testing.T) {
	rc := &fakeRecommender{popular: []types.Paper{{ID: "p1", Title: "a"}}}
	s := New(nil, nil, rc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recommendations", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "popular")
}

func TestHealth(t *testing.T) {
	s := New(nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
