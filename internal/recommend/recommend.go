// Package recommend suggests papers to read next, either by content
// similarity to a paper the user just finished or by the interests their
// survey answers reveal.
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cosci/internal/embedding"
	"cosci/internal/logging"
	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// sourceChunkLimit bounds how many leading chunks describe the source
	// paper when embedding it for similarity lookup.
	sourceChunkLimit = 5

	// sourceTextLimit caps the embedded source text in runes.
	sourceTextLimit = 2000

	// candidateFactor oversamples chunk matches ahead of per-paper
	// aggregation.
	candidateFactor = 10

	// similarityThreshold filters weak chunk matches for SimilarPapers.
	similarityThreshold = 0.5

	// surveyThreshold filters survey-driven search results.
	surveyThreshold = 0.6

	// surveyTagLimit bounds how many distinct tags seed the survey query.
	surveyTagLimit = 5

	// recentSurveyCount is how many recently surveyed papers contribute
	// tags.
	recentSurveyCount = 5

	// fallbackQuery seeds recommendations for users with no tagged survey
	// history.
	fallbackQuery = "AI machine learning"
)

// =============================================================================
// ENGINE
// =============================================================================

// PaperStore is the persistence surface recommendations read from.
type PaperStore interface {
	GetPaper(ctx context.Context, id string) (types.Paper, error)
	GetChunks(ctx context.Context, paperID string) ([]store.Chunk, error)
	MatchChunks(ctx context.Context, queryEmbedding []float32, threshold float64, matchCount int, paperID string) ([]store.ChunkMatch, error)
	RecentSurveyedPaperIDs(ctx context.Context, sessionID string, limit int) ([]string, error)
	PopularPapers(ctx context.Context, limit int) ([]types.Paper, error)
}

// Searcher runs a hybrid search, used for survey-driven recommendations.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Engine produces paper recommendations.
type Engine struct {
	store    PaperStore
	embedder embedding.Engine
	searcher Searcher
}

// New creates a recommendation engine.
func New(st PaperStore, embedder embedding.Engine, searcher Searcher) *Engine {
	return &Engine{store: st, embedder: embedder, searcher: searcher}
}

// =============================================================================
// SIMILAR PAPERS
// =============================================================================

// SimilarPapers recommends papers whose chunks embed close to the source
// paper's opening chunks. The source paper itself is excluded.
func (e *Engine) SimilarPapers(ctx context.Context, paperID string, topK int) ([]types.SearchResult, error) {
	timer := logging.StartTimer(logging.CategorySearch, "SimilarPapers")
	defer timer.Stop()

	if topK <= 0 {
		topK = 5
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("no embedding engine configured")
	}

	chunks, err := e.store.GetChunks(ctx, paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for %s: %w", paperID, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("paper %s has no indexed chunks", paperID)
	}

	sourceText := sourceText(chunks)
	queryEmbedding, err := e.embedder.Embed(ctx, sourceText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed source paper: %w", err)
	}

	matches, err := e.store.MatchChunks(ctx, queryEmbedding, similarityThreshold, topK*candidateFactor, "")
	if err != nil {
		return nil, fmt.Errorf("chunk match failed: %w", err)
	}

	type agg struct {
		sum     float64
		count   int
		snippet string
	}
	byPaper := make(map[string]*agg)
	for _, m := range matches {
		if m.PaperID == paperID {
			continue
		}
		a := byPaper[m.PaperID]
		if a == nil {
			a = &agg{snippet: m.Content}
			byPaper[m.PaperID] = a
		}
		a.sum += m.Similarity
		a.count++
	}

	results := make([]types.SearchResult, 0, len(byPaper))
	for id, a := range byPaper {
		paper, err := e.store.GetPaper(ctx, id)
		if err != nil {
			logging.Get(logging.CategorySearch).Warn("Skipping similar paper %s: %v", id, err)
			continue
		}
		results = append(results, types.SearchResult{
			PaperID: id,
			Title:   paper.Title,
			Authors: paper.Authors,
			Score:   a.sum / float64(a.count),
			Snippet: a.snippet,
			Tags:    paper.Tags,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PaperID < results[j].PaperID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	logging.Search("SimilarPapers: source=%s candidates=%d results=%d", paperID, len(matches), len(results))
	return results, nil
}

// sourceText joins the paper's leading chunks into a bounded query text.
func sourceText(chunks []store.Chunk) string {
	n := len(chunks)
	if n > sourceChunkLimit {
		n = sourceChunkLimit
	}
	parts := make([]string, 0, n)
	for _, c := range chunks[:n] {
		parts = append(parts, c.Content)
	}
	text := strings.Join(parts, "\n\n")
	runes := []rune(text)
	if len(runes) > sourceTextLimit {
		text = string(runes[:sourceTextLimit])
	}
	return text
}

// =============================================================================
// SURVEY-DRIVEN RECOMMENDATIONS
// =============================================================================

// FromSurvey recommends papers matching the tags of the user's recently
// surveyed papers. Already surveyed papers are excluded. Users with no
// tagged history fall back to a generic query.
func (e *Engine) FromSurvey(ctx context.Context, sessionID string, topK int) ([]types.SearchResult, error) {
	timer := logging.StartTimer(logging.CategorySearch, "FromSurvey")
	defer timer.Stop()

	if topK <= 0 {
		topK = 5
	}
	if e.searcher == nil {
		return nil, fmt.Errorf("no search engine configured")
	}

	surveyed, err := e.store.RecentSurveyedPaperIDs(ctx, sessionID, recentSurveyCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load survey history: %w", err)
	}

	query := e.tagQuery(ctx, surveyed)
	if query == "" {
		query = fallbackQuery
	}
	logging.Search("FromSurvey: session=%s surveyed=%d query=%q", sessionID, len(surveyed), query)

	opts := search.DefaultOptions()
	opts.TopK = topK + len(surveyed)
	opts.Threshold = surveyThreshold
	hits, err := e.searcher.Search(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("recommendation search failed: %w", err)
	}

	seen := make(map[string]bool, len(surveyed))
	for _, id := range surveyed {
		seen[id] = true
	}

	var results []types.SearchResult
	for _, r := range search.ContextResults(hits) {
		if seen[r.PaperID] {
			continue
		}
		results = append(results, r)
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// tagQuery collects distinct tags from the surveyed papers, oldest dropped
// first once the limit is reached.
func (e *Engine) tagQuery(ctx context.Context, paperIDs []string) string {
	var tags []string
	seen := make(map[string]bool)
	for _, id := range paperIDs {
		paper, err := e.store.GetPaper(ctx, id)
		if err != nil {
			continue
		}
		for _, tag := range paper.Tags {
			if seen[tag] || len(tags) >= surveyTagLimit {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return strings.Join(tags, " ")
}

// =============================================================================
// POPULAR PAPERS
// =============================================================================

// Popular lists the most voted papers.
func (e *Engine) Popular(ctx context.Context, limit int) ([]types.Paper, error) {
	if limit <= 0 {
		limit = 10
	}
	return e.store.PopularPapers(ctx, limit)
}
