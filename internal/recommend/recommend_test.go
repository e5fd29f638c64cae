package recommend

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeEmbedder struct {
	vec     []float32
	err     error
	gotText string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.gotText = text
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
	papers   map[string]types.Paper
	chunks   map[string][]store.Chunk
	matches  []store.ChunkMatch
	surveyed []string
	popular  []types.Paper

	gotMatchCount int
}

func (f *fakeStore) GetPaper(ctx context.Context, id string) (types.Paper, error) {
	p, ok := f.papers[id]
	if !ok {
		return types.Paper{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetChunks(ctx context.Context, paperID string) ([]store.Chunk, error) {
	return f.chunks[paperID], nil
}

func (f *fakeStore) MatchChunks(ctx context.Context, emb []float32, threshold float64, matchCount int, paperID string) ([]store.ChunkMatch, error) {
	f.gotMatchCount = matchCount
	return f.matches, nil
}

func (f *fakeStore) RecentSurveyedPaperIDs(ctx context.Context, sessionID string, limit int) ([]string, error) {
	return f.surveyed, nil
}

func (f *fakeStore) PopularPapers(ctx context.Context, limit int) ([]types.Paper, error) {
	if limit < len(f.popular) {
		return f.popular[:limit], nil
	}
	return f.popular, nil
}

type fakeSearcher struct {
	results  []search.Result
	err      error
	gotQuery string
	gotOpts  search.Options
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	f.gotQuery = query
	f.gotOpts = opts
	return f.results, f.err
}

func paper(id, title string, tags ...string) types.Paper {
	return types.Paper{ID: id, Title: title, Tags: tags}
}

func hit(id, title string, score float64) search.Result {
	return search.Result{Paper: paper(id, title), Score: score}
}

// =============================================================================
// SIMILAR PAPERS
// =============================================================================

func TestSimilarPapers(t *testing.T) {
	st := &fakeStore{
		papers: map[string]types.Paper{
			"src": paper("src", "Source"),
			"a":   paper("a", "Paper A"),
			"b":   paper("b", "Paper B"),
		},
		chunks: map[string][]store.Chunk{
			"src": {{ChunkIndex: 0, Content: "intro text"}},
		},
		matches: []store.ChunkMatch{
			{PaperID: "src", Content: "self", Similarity: 0.99},
			{PaperID: "a", Content: "snippet a", Similarity: 0.9},
			{PaperID: "a", Content: "later", Similarity: 0.7},
			{PaperID: "b", Content: "snippet b", Similarity: 0.85},
		},
	}
	eng := New(st, &fakeEmbedder{vec: []float32{1}}, nil)

	got, err := eng.SimilarPapers(context.Background(), "src", 5)
	require.NoError(t, err)
	require.Len(t, got, 2, "the source paper is excluded")

	// b: 0.85 beats a's average (0.9+0.7)/2 = 0.8.
	assert.Equal(t, "b", got[0].PaperID)
	assert.InDelta(t, 0.85, got[0].Score, 1e-6)
	assert.Equal(t, "a", got[1].PaperID)
	assert.InDelta(t, 0.8, got[1].Score, 1e-6)
	assert.Equal(t, "snippet a", got[1].Snippet, "snippet comes from the best chunk")

	assert.Equal(t, 50, st.gotMatchCount)
}

func TestSimilarPapersNoChunks(t *testing.T) {
	eng := New(&fakeStore{}, &fakeEmbedder{vec: []float32{1}}, nil)
	_, err := eng.SimilarPapers(context.Background(), "missing", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no indexed chunks")
}

func TestSimilarPapersBoundsSourceText(t *testing.T) {
	long := strings.Repeat("가", 900)
	st := &fakeStore{
		chunks: map[string][]store.Chunk{
			"src": {
				{ChunkIndex: 0, Content: long},
				{ChunkIndex: 1, Content: long},
				{ChunkIndex: 2, Content: long},
				{ChunkIndex: 3, Content: "never reached"},
				{ChunkIndex: 4, Content: "never reached"},
				{ChunkIndex: 5, Content: "sixth chunk is ignored"},
			},
		},
	}
	emb := &fakeEmbedder{vec: []float32{1}}
	eng := New(st, emb, nil)

	_, err := eng.SimilarPapers(context.Background(), "src", 5)
	require.NoError(t, err)
	assert.Len(t, []rune(emb.gotText), 2000)
	assert.NotContains(t, emb.gotText, "sixth chunk")
}

func TestSimilarPapersEmbedError(t *testing.T) {
	st := &fakeStore{chunks: map[string][]store.Chunk{"src": {{Content: "x"}}}}
	eng := New(st, &fakeEmbedder{err: errors.New("down")}, nil)
	_, err := eng.SimilarPapers(context.Background(), "src", 5)
	require.Error(t, err)
}

// =============================================================================
// SURVEY-DRIVEN
// =============================================================================

func TestFromSurveyBuildsTagQuery(t *testing.T) {
	st := &fakeStore{
		surveyed: []string{"p1", "p2"},
		papers: map[string]types.Paper{
			"p1": paper("p1", "a", "nlp", "transformers"),
			"p2": paper("p2", "b", "nlp", "attention"),
		},
	}
	searcher := &fakeSearcher{results: []search.Result{
		hit("p1", "a", 0.9), // surveyed, excluded
		hit("p3", "c", 0.8),
		hit("p4", "d", 0.7),
	}}
	eng := New(st, nil, searcher)

	got, err := eng.FromSurvey(context.Background(), "sess", 5)
	require.NoError(t, err)

	assert.Equal(t, "nlp transformers attention", searcher.gotQuery, "tags stay unique and ordered")
	assert.InDelta(t, 0.6, searcher.gotOpts.Threshold, 1e-9)

	require.Len(t, got, 2)
	assert.Equal(t, "p3", got[0].PaperID)
	assert.Equal(t, "p4", got[1].PaperID)
}

func TestFromSurveyFallbackQuery(t *testing.T) {
	searcher := &fakeSearcher{}
	eng := New(&fakeStore{}, nil, searcher)

	_, err := eng.FromSurvey(context.Background(), "sess", 5)
	require.NoError(t, err)
	assert.Equal(t, "AI machine learning", searcher.gotQuery)
}

func TestFromSurveyTagLimit(t *testing.T) {
	st := &fakeStore{
		surveyed: []string{"p1"},
		papers: map[string]types.Paper{
			"p1": paper("p1", "a", "t1", "t2", "t3", "t4", "t5", "t6", "t7"),
		},
	}
	searcher := &fakeSearcher{}
	eng := New(st, nil, searcher)

	_, err := eng.FromSurvey(context.Background(), "sess", 5)
	require.NoError(t, err)
	assert.Equal(t, "t1 t2 t3 t4 t5", searcher.gotQuery)
}

func TestFromSurveyCapsAtTopK(t *testing.T) {
	searcher := &fakeSearcher{results: []search.Result{
		hit("a", "a", 0.9), hit("b", "b", 0.8), hit("c", "c", 0.7),
	}}
	eng := New(&fakeStore{}, nil, searcher)

	got, err := eng.FromSurvey(context.Background(), "sess", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFromSurveySearchError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("search down")}
	eng := New(&fakeStore{}, nil, searcher)
	_, err := eng.FromSurvey(context.Background(), "sess", 5)
	require.Error(t, err)
}

// =============================================================================
// POPULAR
// =============================================================================

func TestPopular(t *testing.T) {
	st := &fakeStore{popular: []types.Paper{paper("a", "a"), paper("b", "b")}}
	eng := New(st, nil, nil)

	got, err := eng.Popular(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
