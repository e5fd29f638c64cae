// Package search implements hybrid paper retrieval: a semantic vector leg
// over chunk embeddings and a keyword leg over paper metadata, fused into a
// single ranked result list.
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"cosci/internal/embedding"
	"cosci/internal/logging"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// rrfOffset dampens the keyword rank contribution so a single keyword
	// hit cannot dominate a strong semantic match.
	rrfOffset = 60

	// vectorCandidateFactor oversamples chunk matches so per-paper
	// aggregation still fills topK papers.
	vectorCandidateFactor = 5

	// keywordCandidateFactor oversamples keyword hits ahead of fusion.
	keywordCandidateFactor = 2

	// snippetChunks is how many top chunks back a result's snippet.
	snippetChunks = 3

	// maxWeightDrift tolerates float error when validating weights.
	maxWeightDrift = 0.01
)

// MatchType records which retrieval leg produced a result.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchKeyword MatchType = "keyword"
	MatchHybrid  MatchType = "hybrid"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options tunes a single search call. Zero values fall back to defaults.
type Options struct {
	TopK          int
	Threshold     float64
	VectorWeight  float64
	KeywordWeight float64

	// PaperID restricts both legs to a single paper.
	PaperID string
}

// DefaultOptions returns the balanced hybrid configuration.
func DefaultOptions() Options {
	return Options{
		TopK:          10,
		Threshold:     0.7,
		VectorWeight:  0.6,
		KeywordWeight: 0.4,
	}
}

func (o Options) normalized() Options {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.VectorWeight == 0 && o.KeywordWeight == 0 {
		o.VectorWeight = 0.6
		o.KeywordWeight = 0.4
	}
	return o
}

// =============================================================================
// RESULT
// =============================================================================

// Result is a fused search hit with per-leg provenance.
type Result struct {
	Paper       types.Paper
	Score       float64
	VectorSim   float64
	KeywordRank int
	MatchType   MatchType
	Snippets    []string
}

// ContextResults converts fused hits into the shape the context composer
// renders. Similarity is reported as the fused score.
func ContextResults(results []Result) []types.SearchResult {
	out := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		sr := types.SearchResult{
			PaperID: r.Paper.ID,
			Title:   r.Paper.Title,
			Authors: r.Paper.Authors,
			Score:   r.Score,
			Tags:    r.Paper.Tags,
		}
		if len(r.Snippets) > 0 {
			sr.Snippet = r.Snippets[0]
		} else if r.Paper.Abstract != "" {
			sr.Snippet = r.Paper.Abstract
		}
		out = append(out, sr)
	}
	return out
}

// =============================================================================
// ENGINE
// =============================================================================

// PaperStore is the persistence surface the engine searches over.
type PaperStore interface {
	KeywordSearch(ctx context.Context, query string, limit int, paperID string) ([]types.Paper, error)
	MatchChunks(ctx context.Context, queryEmbedding []float32, threshold float64, matchCount int, paperID string) ([]store.ChunkMatch, error)
	GetPaper(ctx context.Context, id string) (types.Paper, error)
}

// Engine runs both retrieval legs concurrently and fuses their rankings.
type Engine struct {
	store    PaperStore
	embedder embedding.Engine
}

// New creates a search engine over the given store and embedder.
func New(st PaperStore, embedder embedding.Engine) *Engine {
	return &Engine{store: st, embedder: embedder}
}

// Search runs hybrid retrieval for the query. A failed leg degrades to an
// empty contribution instead of failing the whole search.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Search")
	defer timer.Stop()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	opts = opts.normalized()
	if math.Abs(opts.VectorWeight+opts.KeywordWeight-1) > maxWeightDrift {
		return nil, fmt.Errorf("search weights must sum to 1: vector=%.2f keyword=%.2f",
			opts.VectorWeight, opts.KeywordWeight)
	}

	logging.Search("Hybrid search: query=%q topK=%d threshold=%.2f vw=%.2f kw=%.2f",
		query, opts.TopK, opts.Threshold, opts.VectorWeight, opts.KeywordWeight)

	var (
		vectorHits  map[string]*vectorHit
		keywordHits []keywordHit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.vectorLeg(gctx, query, opts)
		if err != nil {
			logging.Get(logging.CategorySearch).Warn("Vector leg failed, continuing keyword-only: %v", err)
			return nil
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.keywordLeg(gctx, query, opts)
		if err != nil {
			logging.Get(logging.CategorySearch).Warn("Keyword leg failed, continuing vector-only: %v", err)
			return nil
		}
		keywordHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := e.fuse(ctx, vectorHits, keywordHits, opts)
	if err != nil {
		return nil, err
	}

	logging.Search("Hybrid search done: query=%q results=%d (vector=%d keyword=%d)",
		query, len(results), len(vectorHits), len(keywordHits))
	return results, nil
}

// VectorOnly searches with the semantic leg alone.
func (e *Engine) VectorOnly(ctx context.Context, query string, opts Options) ([]Result, error) {
	opts = opts.normalized()
	opts.VectorWeight = 1
	opts.KeywordWeight = 0
	return e.Search(ctx, query, opts)
}

// KeywordOnly searches with the keyword leg alone. The similarity threshold
// does not apply to keyword matches.
func (e *Engine) KeywordOnly(ctx context.Context, query string, opts Options) ([]Result, error) {
	opts = opts.normalized()
	opts.VectorWeight = 0
	opts.KeywordWeight = 1
	opts.Threshold = 0
	return e.Search(ctx, query, opts)
}

// =============================================================================
// RETRIEVAL LEGS
// =============================================================================

type vectorHit struct {
	similarity float64
	snippets   []string
}

type keywordHit struct {
	paper types.Paper
	rank  int
}

// vectorLeg embeds the query, retrieves nearest chunks, and aggregates them
// per paper. Paper similarity blends the best chunk with the average so one
// lucky chunk does not outrank consistently relevant papers.
func (e *Engine) vectorLeg(ctx context.Context, query string, opts Options) (map[string]*vectorHit, error) {
	if opts.VectorWeight == 0 {
		return nil, nil
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}

	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := e.store.MatchChunks(ctx, queryEmbedding, opts.Threshold, opts.TopK*vectorCandidateFactor, opts.PaperID)
	if err != nil {
		return nil, fmt.Errorf("chunk match failed: %w", err)
	}

	type agg struct {
		max   float64
		sum   float64
		count int
		top   []store.ChunkMatch
	}
	byPaper := make(map[string]*agg)
	for _, m := range matches {
		a := byPaper[m.PaperID]
		if a == nil {
			a = &agg{}
			byPaper[m.PaperID] = a
		}
		if m.Similarity > a.max {
			a.max = m.Similarity
		}
		a.sum += m.Similarity
		a.count++
		if len(a.top) < snippetChunks {
			a.top = append(a.top, m)
		}
	}

	hits := make(map[string]*vectorHit, len(byPaper))
	for paperID, a := range byPaper {
		snippets := make([]string, 0, len(a.top))
		for _, m := range a.top {
			snippets = append(snippets, m.Content)
		}
		hits[paperID] = &vectorHit{
			similarity: 0.7*a.max + 0.3*a.sum/float64(a.count),
			snippets:   snippets,
		}
	}
	return hits, nil
}

// keywordLeg runs a LIKE search over paper metadata. Rank counts down from
// the number of hits so earlier results contribute more after fusion.
func (e *Engine) keywordLeg(ctx context.Context, query string, opts Options) ([]keywordHit, error) {
	if opts.KeywordWeight == 0 {
		return nil, nil
	}

	papers, err := e.store.KeywordSearch(ctx, query, opts.TopK*keywordCandidateFactor, opts.PaperID)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]keywordHit, 0, len(papers))
	for i, p := range papers {
		hits = append(hits, keywordHit{paper: p, rank: len(papers) - i})
	}
	return hits, nil
}

// =============================================================================
// FUSION
// =============================================================================

// fuse merges the two legs: score = vw*similarity + kw*(1/(rrfOffset+rank)).
func (e *Engine) fuse(ctx context.Context, vectorHits map[string]*vectorHit, keywordHits []keywordHit, opts Options) ([]Result, error) {
	merged := make(map[string]*Result)

	for paperID, hit := range vectorHits {
		merged[paperID] = &Result{
			Paper:     types.Paper{ID: paperID},
			Score:     opts.VectorWeight * hit.similarity,
			VectorSim: hit.similarity,
			MatchType: MatchVector,
			Snippets:  hit.snippets,
		}
	}

	for _, hit := range keywordHits {
		contribution := opts.KeywordWeight / float64(rrfOffset+hit.rank)
		if r, ok := merged[hit.paper.ID]; ok {
			r.Score += contribution
			r.KeywordRank = hit.rank
			r.MatchType = MatchHybrid
			r.Paper = hit.paper
		} else {
			merged[hit.paper.ID] = &Result{
				Paper:       hit.paper,
				Score:       contribution,
				KeywordRank: hit.rank,
				MatchType:   MatchKeyword,
			}
		}
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		// Vector-only hits carry just a paper ID until here.
		if r.Paper.Title == "" {
			paper, err := e.store.GetPaper(ctx, r.Paper.ID)
			if err != nil {
				logging.Get(logging.CategorySearch).Warn("Dropping hit for unknown paper %s: %v", r.Paper.ID, err)
				continue
			}
			r.Paper = paper
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Paper.ID < results[j].Paper.ID
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}
