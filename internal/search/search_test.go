package search

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeStore struct {
	matches  []store.ChunkMatch
	matchErr error

	keyword    []types.Paper
	keywordErr error

	papers map[string]types.Paper

	gotMatchCount int
	gotThreshold  float64
	gotLimit      int
}

func (f *fakeStore) MatchChunks(ctx context.Context, emb []float32, threshold float64, matchCount int, paperID string) ([]store.ChunkMatch, error) {
	f.gotThreshold = threshold
	f.gotMatchCount = matchCount
	return f.matches, f.matchErr
}

func (f *fakeStore) KeywordSearch(ctx context.Context, query string, limit int, paperID string) ([]types.Paper, error) {
	f.gotLimit = limit
	return f.keyword, f.keywordErr
}

func (f *fakeStore) GetPaper(ctx context.Context, id string) (types.Paper, error) {
	p, ok := f.papers[id]
	if !ok {
		return types.Paper{}, sql.ErrNoRows
	}
	return p, nil
}

func paper(id, title string) types.Paper {
	return types.Paper{ID: id, Title: title, Authors: []string{"author"}}
}

// =============================================================================
// FUSION
// =============================================================================

func TestSearchFusesBothLegs(t *testing.T) {
	st := &fakeStore{
		matches: []store.ChunkMatch{
			{PaperID: "A", ChunkIndex: 0, Content: "chunk a", Similarity: 0.87},
			{PaperID: "B", ChunkIndex: 0, Content: "chunk b", Similarity: 0.6},
		},
		keyword: []types.Paper{paper("B", "Paper B"), paper("C", "Paper C")},
		papers:  map[string]types.Paper{"A": paper("A", "Paper A")},
	}
	eng := New(st, &fakeEmbedder{vec: []float32{1, 0}})

	opts := DefaultOptions()
	opts.Threshold = 0.5
	results, err := eng.Search(context.Background(), "transformer", opts)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// A: vector only, 0.6 * 0.87.
	assert.Equal(t, "A", results[0].Paper.ID)
	assert.Equal(t, MatchVector, results[0].MatchType)
	assert.InDelta(t, 0.522, results[0].Score, 1e-6)
	assert.Equal(t, "Paper A", results[0].Paper.Title)
	assert.Equal(t, []string{"chunk a"}, results[0].Snippets)

	// B: both legs, 0.6*0.6 + 0.4/(60+2).
	assert.Equal(t, "B", results[1].Paper.ID)
	assert.Equal(t, MatchHybrid, results[1].MatchType)
	assert.InDelta(t, 0.36+0.4/62, results[1].Score, 1e-6)
	assert.Equal(t, 2, results[1].KeywordRank)

	// C: keyword only, 0.4/(60+1).
	assert.Equal(t, "C", results[2].Paper.ID)
	assert.Equal(t, MatchKeyword, results[2].MatchType)
	assert.InDelta(t, 0.4/61, results[2].Score, 1e-6)

	// Candidate oversampling reaches the store.
	assert.Equal(t, 50, st.gotMatchCount)
	assert.Equal(t, 20, st.gotLimit)
	assert.InDelta(t, 0.5, st.gotThreshold, 1e-9)
}

func TestSearchAggregatesChunksPerPaper(t *testing.T) {
	st := &fakeStore{
		matches: []store.ChunkMatch{
			{PaperID: "A", ChunkIndex: 0, Content: "c0", Similarity: 0.9},
			{PaperID: "A", ChunkIndex: 1, Content: "c1", Similarity: 0.8},
			{PaperID: "A", ChunkIndex: 2, Content: "c2", Similarity: 0.7},
			{PaperID: "A", ChunkIndex: 3, Content: "c3", Similarity: 0.7},
		},
		papers: map[string]types.Paper{"A": paper("A", "Paper A")},
	}
	eng := New(st, &fakeEmbedder{vec: []float32{1}})

	results, err := eng.Search(context.Background(), "q", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)

	// 0.7*max + 0.3*avg = 0.7*0.9 + 0.3*0.775.
	assert.InDelta(t, 0.63+0.3*0.775, results[0].VectorSim, 1e-6)
	assert.Equal(t, []string{"c0", "c1", "c2"}, results[0].Snippets, "snippets keep the top three chunks")
}

func TestSearchTopKCapsResults(t *testing.T) {
	var papers []types.Paper
	for _, id := range []string{"a", "b", "c", "d"} {
		papers = append(papers, paper(id, "Paper "+id))
	}
	st := &fakeStore{keyword: papers}
	eng := New(st, &fakeEmbedder{vec: []float32{1}})

	opts := DefaultOptions()
	opts.TopK = 2
	results, err := eng.Search(context.Background(), "q", opts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Paper.ID, "earlier keyword hits rank higher")
	assert.Equal(t, "b", results[1].Paper.ID)
}

// =============================================================================
// VALIDATION AND DEGRADATION
// =============================================================================

func TestSearchRejectsBadWeights(t *testing.T) {
	eng := New(&fakeStore{}, &fakeEmbedder{vec: []float32{1}})

	opts := DefaultOptions()
	opts.VectorWeight = 0.8
	opts.KeywordWeight = 0.4
	_, err := eng.Search(context.Background(), "q", opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights")
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1}}
	eng := New(&fakeStore{}, emb)

	_, err := eng.Search(context.Background(), "   ", DefaultOptions())
	require.Error(t, err)
	assert.Zero(t, emb.calls, "empty query fails before embedding")
}

func TestSearchSurvivesVectorLegFailure(t *testing.T) {
	st := &fakeStore{keyword: []types.Paper{paper("A", "Paper A")}}
	eng := New(st, &fakeEmbedder{err: errors.New("embedding down")})

	results, err := eng.Search(context.Background(), "q", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, MatchKeyword, results[0].MatchType)
}

func TestSearchSurvivesKeywordLegFailure(t *testing.T) {
	st := &fakeStore{
		matches:    []store.ChunkMatch{{PaperID: "A", Content: "c", Similarity: 0.9}},
		keywordErr: errors.New("db locked"),
		papers:     map[string]types.Paper{"A": paper("A", "Paper A")},
	}
	eng := New(st, &fakeEmbedder{vec: []float32{1}})

	results, err := eng.Search(context.Background(), "q", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, MatchVector, results[0].MatchType)
}

func TestSearchDropsHitsForUnknownPapers(t *testing.T) {
	st := &fakeStore{
		matches: []store.ChunkMatch{{PaperID: "ghost", Content: "c", Similarity: 0.9}},
	}
	eng := New(st, &fakeEmbedder{vec: []float32{1}})

	results, err := eng.Search(context.Background(), "q", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, results)
}

// =============================================================================
// SINGLE-LEG MODES
// =============================================================================

func TestVectorOnlySkipsKeywordLeg(t *testing.T) {
	st := &fakeStore{
		matches: []store.ChunkMatch{{PaperID: "A", Content: "c", Similarity: 0.9}},
		keyword: []types.Paper{paper("B", "Paper B")},
		papers:  map[string]types.Paper{"A": paper("A", "Paper A")},
	}
	eng := New(st, &fakeEmbedder{vec: []float32{1}})

	results, err := eng.VectorOnly(context.Background(), "q", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Paper.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
}

func TestKeywordOnlySkipsVectorLeg(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1}}
	st := &fakeStore{keyword: []types.Paper{paper("B", "Paper B")}}
	eng := New(st, emb)

	results, err := eng.KeywordOnly(context.Background(), "q", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].Paper.ID)
	assert.Zero(t, emb.calls)
}

// =============================================================================
// CONVERSION
// =============================================================================

func TestContextResults(t *testing.T) {
	results := []Result{
		{Paper: paper("A", "Paper A"), Score: 0.8, Snippets: []string{"first", "second"}},
		{Paper: types.Paper{ID: "B", Title: "Paper B", Abstract: "the abstract"}, Score: 0.5},
	}

	out := ContextResults(results)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Snippet)
	assert.InDelta(t, 0.8, out[0].Score, 1e-9)
	assert.Equal(t, "the abstract", out[1].Snippet, "keyword hits fall back to the abstract")
}
