package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cosci/internal/executor"
	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type execCall struct {
	skillID string
	pack    string
	message string
}

type fakeExec struct {
	results []executor.Result
	calls   []execCall
}

func (f *fakeExec) next() executor.Result {
	if len(f.results) == 0 {
		return executor.Result{Content: "응답", Signals: types.DefaultSignals()}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func (f *fakeExec) Execute(ctx context.Context, skillID, pack, message string, history []types.ConversationMessage) executor.Result {
	f.calls = append(f.calls, execCall{skillID: skillID, pack: pack, message: message})
	return f.next()
}

func (f *fakeExec) ExecuteStream(ctx context.Context, skillID, pack, message string, history []types.ConversationMessage) <-chan types.StreamChunk {
	f.calls = append(f.calls, execCall{skillID: skillID, pack: pack, message: message})
	r := f.next()
	out := make(chan types.StreamChunk, 4)
	out <- types.StreamChunk{Type: types.ChunkContent, Data: r.Content}
	out <- types.StreamChunk{Type: types.ChunkDone, Data: types.DonePayload{
		Content:       r.Content,
		Signals:       r.Signals,
		PromptButtons: r.PromptButtons,
	}}
	close(out)
	return out
}

type fakeLoopSearcher struct {
	results  []search.Result
	err      error
	gotQuery string
	gotOpts  search.Options
	calls    int
}

func (f *fakeLoopSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	f.calls++
	f.gotQuery = query
	f.gotOpts = opts
	return f.results, f.err
}

type fakeRecommender struct {
	surveyRecs  []types.SearchResult
	similarRecs []types.SearchResult
	surveyCalls int
	similarID   string
}

func (f *fakeRecommender) FromSurvey(ctx context.Context, sessionID string, topK int) ([]types.SearchResult, error) {
	f.surveyCalls++
	return f.surveyRecs, nil
}

func (f *fakeRecommender) SimilarPapers(ctx context.Context, paperID string, topK int) ([]types.SearchResult, error) {
	f.similarID = paperID
	return f.similarRecs, nil
}

type fakePapers struct {
	paper     types.Paper
	chunks    []store.Chunk
	responses []types.SurveyResponse
}

func (f *fakePapers) GetPaper(ctx context.Context, id string) (types.Paper, error) {
	return f.paper, nil
}

func (f *fakePapers) GetChunks(ctx context.Context, paperID string) ([]store.Chunk, error) {
	return f.chunks, nil
}

func (f *fakePapers) GetSurveyResponses(ctx context.Context, sessionID, paperID string) ([]types.SurveyResponse, error) {
	return f.responses, nil
}

func newTestPipeline(exec Executor, searcher Searcher, rec Recommender, papers PaperSource) *Pipeline {
	return NewPipeline(NewRegistry(), nil, exec, searcher, rec, papers)
}

func result(content string, signals types.ExecutionSignals) executor.Result {
	return executor.Result{Content: content, Signals: signals}
}

// =============================================================================
// SINGLE-TURN HANDLING
// =============================================================================

func TestHandleRequiresSessionID(t *testing.T) {
	p := newTestPipeline(&fakeExec{}, nil, nil, nil)
	_, err := p.Handle(context.Background(), types.ChatRequest{Message: "음"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_id")
}

func TestHandleGeneralChat(t *testing.T) {
	exec := &fakeExec{results: []executor.Result{
		result("일반 답변", types.DefaultSignals()),
	}}
	p := newTestPipeline(exec, nil, nil, nil)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Message:   "음, 그냥 이야기하고 싶어",
	})
	require.NoError(t, err)

	assert.Equal(t, SkillGeneralChat, got.SkillID)
	assert.Equal(t, "일반 답변", got.Message)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "음, 그냥 이야기하고 싶어", exec.calls[0].message)
}

func TestHandleSearchTurn(t *testing.T) {
	searcher := &fakeLoopSearcher{results: []search.Result{
		{Paper: types.Paper{ID: "p1", Title: "Paper One"}, Score: 0.8},
	}}
	exec := &fakeExec{results: []executor.Result{
		result("검색 결과입니다", types.DefaultSignals()),
	}}
	p := newTestPipeline(exec, searcher, nil, nil)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Trigger:   types.TriggerSearchQuery,
		Message:   "transformer 논문",
	})
	require.NoError(t, err)

	assert.Equal(t, SkillPaperSearch, got.SkillID)
	require.Len(t, got.SearchResults, 1)
	assert.Equal(t, "p1", got.SearchResults[0].PaperID)
	assert.Equal(t, 1, got.Signals.SearchResultCount, "count backfilled from actual results")

	assert.Equal(t, "transformer 논문", searcher.gotQuery)
	assert.Equal(t, 10, searcher.gotOpts.TopK)
	assert.InDelta(t, 0.5, searcher.gotOpts.Threshold, 1e-9)
	assert.InDelta(t, 0.7, searcher.gotOpts.VectorWeight, 1e-9)

	assert.Contains(t, exec.calls[0].pack, "Paper One", "search results reach the context pack")
}

func TestHandleSearchFailureDegrades(t *testing.T) {
	searcher := &fakeLoopSearcher{err: assert.AnError}
	exec := &fakeExec{}
	p := newTestPipeline(exec, searcher, nil, nil)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Trigger:   types.TriggerSearchQuery,
		Message:   "무엇이든",
	})
	require.NoError(t, err)
	assert.Empty(t, got.SearchResults)
	assert.Contains(t, exec.calls[0].pack, "(검색 결과 없음)")
}

func TestHandleExplainLoadsPaper(t *testing.T) {
	papers := &fakePapers{
		paper: types.Paper{ID: "p1", Title: "Attention", Authors: []string{"Vaswani"}},
		chunks: []store.Chunk{
			{ChunkIndex: 0, Content: "본문 첫 청크"},
		},
	}
	exec := &fakeExec{}
	p := newTestPipeline(exec, nil, nil, papers)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID:    "sess",
		Trigger:      types.TriggerExplainRequest,
		PaperContext: &types.PaperContext{PaperID: "p1"},
	})
	require.NoError(t, err)

	assert.Equal(t, SkillPaperExplain, got.SkillID)
	assert.Contains(t, exec.calls[0].pack, "Attention")
	assert.Contains(t, exec.calls[0].pack, "본문 첫 청크")
}

func TestHandleRecommendFromSurvey(t *testing.T) {
	rec := &fakeRecommender{surveyRecs: []types.SearchResult{
		{PaperID: "p9", Title: "Next Paper", Score: 0.7},
	}}
	p := newTestPipeline(&fakeExec{}, nil, rec, nil)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Trigger:   types.TriggerAskRecommendation,
	})
	require.NoError(t, err)

	assert.Equal(t, SkillRecommendNext, got.SkillID)
	require.Len(t, got.RecommendedPapers, 1)
	assert.Equal(t, 1, got.Signals.RecommendationsCount)
	assert.Equal(t, 1, rec.surveyCalls)
}

func TestHandleRecommendSimilarWhenPaperAnchored(t *testing.T) {
	rec := &fakeRecommender{similarRecs: []types.SearchResult{
		{PaperID: "p2", Title: "Follow Up", Score: 0.8},
	}}
	p := newTestPipeline(&fakeExec{}, nil, rec, nil)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID:    "sess",
		Trigger:      types.TriggerPaperReadComplete,
		PaperContext: &types.PaperContext{PaperID: "p1", Title: "Source"},
	})
	require.NoError(t, err)

	assert.Equal(t, "p1", rec.similarID)
	assert.Zero(t, rec.surveyCalls)
	require.Len(t, got.RecommendedPapers, 1)
}

func TestHandleSurveyLoadsResponses(t *testing.T) {
	papers := &fakePapers{responses: []types.SurveyResponse{
		{QuestionID: "1", Answer: "유익했다"},
	}}
	rec := &fakeRecommender{similarRecs: []types.SearchResult{
		{PaperID: "p2", Title: "Follow Up", Score: 0.8},
	}}
	exec := &fakeExec{}
	p := newTestPipeline(exec, nil, rec, papers)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID:    "sess",
		Trigger:      types.TriggerSurveySubmitted,
		PaperContext: &types.PaperContext{PaperID: "p1", Title: "Source"},
	})
	require.NoError(t, err)

	assert.Equal(t, SkillSurveyComplete, got.SkillID)
	assert.Contains(t, exec.calls[0].pack, "유익했다")
}

// =============================================================================
// CHAINING
// =============================================================================

func TestHandleChainsOnKnowledgeGap(t *testing.T) {
	gap := true
	exec := &fakeExec{results: []executor.Result{
		result("잘 모르겠어요", types.ExecutionSignals{
			Coverage:       types.CoverageEnough,
			Confidence:     types.ConfidenceMedium,
			NextActionHint: types.HintStop,
			KnowledgeGap:   &gap,
		}),
		result("검색해서 찾았어요", types.DefaultSignals()),
	}}
	searcher := &fakeLoopSearcher{}
	p := newTestPipeline(exec, searcher, nil, nil)

	got, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Message:   "음, 그 내용이 궁금해",
	})
	require.NoError(t, err)

	require.Len(t, exec.calls, 2)
	assert.Equal(t, SkillGeneralChat, exec.calls[0].skillID)
	assert.Equal(t, SkillPaperSearch, exec.calls[1].skillID)
	assert.Equal(t, "검색해서 찾았어요", got.Message)
	assert.Equal(t, SkillPaperSearch, got.SkillID)
}

func TestHandleChainDepthCapped(t *testing.T) {
	reroute := types.ExecutionSignals{
		Coverage:         types.CoverageEnough,
		Confidence:       types.ConfidenceHigh,
		NextActionHint:   types.HintReroute,
		SuggestedSkillID: SkillGeneralChat,
	}
	exec := &fakeExec{results: []executor.Result{
		result("1", reroute), result("2", reroute), result("3", reroute),
		result("4", reroute), result("5", reroute),
	}}
	p := newTestPipeline(exec, nil, nil, nil)

	_, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Message:   "음",
	})
	require.NoError(t, err)
	assert.Len(t, exec.calls, MaxChainDepth, "the chain never exceeds the depth cap")
}

func TestHandleChainCarriesPreviousResponse(t *testing.T) {
	exec := &fakeExec{results: []executor.Result{
		result("첫 번째 응답", types.ExecutionSignals{
			Coverage:         types.CoverageEnough,
			Confidence:       types.ConfidenceHigh,
			NextActionHint:   types.HintReroute,
			SuggestedSkillID: SkillGeneralChat,
		}),
		result("두 번째 응답", types.DefaultSignals()),
	}}
	p := newTestPipeline(exec, nil, nil, nil)

	_, err := p.Handle(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Message:   "음",
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 2)
}

// =============================================================================
// STREAMING
// =============================================================================

func TestHandleStreamEventOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	exec := &fakeExec{results: []executor.Result{
		{Content: "스트림 응답", Signals: types.DefaultSignals(), PromptButtons: []string{"더 보기"}},
	}}
	p := newTestPipeline(exec, nil, nil, nil)

	var chunks []types.StreamChunk
	for c := range p.HandleStream(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Message:   "음",
	}) {
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 4)
	assert.Equal(t, types.ChunkContent, chunks[0].Type)
	assert.Equal(t, types.ChunkSignals, chunks[1].Type)
	assert.Equal(t, types.ChunkButtons, chunks[2].Type)
	assert.Equal(t, types.ChunkDone, chunks[3].Type)

	done, ok := chunks[3].Data.(types.DonePayload)
	require.True(t, ok)
	assert.Equal(t, "스트림 응답", done.Content)
	assert.Equal(t, []string{"더 보기"}, done.PromptButtons)
}

func TestHandleStreamMissingSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	p := newTestPipeline(&fakeExec{}, nil, nil, nil)
	var chunks []types.StreamChunk
	for c := range p.HandleStream(context.Background(), types.ChatRequest{Message: "음"}) {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkError, chunks[0].Type)
}

func TestHandleStreamChains(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	exec := &fakeExec{results: []executor.Result{
		result("중간 응답", types.ExecutionSignals{
			Coverage:         types.CoverageEnough,
			Confidence:       types.ConfidenceHigh,
			NextActionHint:   types.HintReroute,
			SuggestedSkillID: SkillGeneralChat,
		}),
		result("최종 응답", types.DefaultSignals()),
	}}
	p := newTestPipeline(exec, nil, nil, nil)

	var contents []string
	var last types.StreamChunk
	for c := range p.HandleStream(context.Background(), types.ChatRequest{
		SessionID: "sess",
		Message:   "음",
	}) {
		if c.Type == types.ChunkContent {
			contents = append(contents, c.Data.(string))
		}
		last = c
	}

	assert.Equal(t, []string{"중간 응답", "최종 응답"}, contents)
	done, ok := last.Data.(types.DonePayload)
	require.True(t, ok)
	assert.Equal(t, "최종 응답", done.Content)
}
