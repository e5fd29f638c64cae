package orchestrator

import (
	"context"
	"fmt"

	"cosci/internal/composer"
	"cosci/internal/executor"
	"cosci/internal/logging"
	"cosci/internal/search"
	"cosci/internal/store"
	"cosci/internal/types"
)

// =============================================================================
// PIPELINE DEPENDENCIES
// =============================================================================

// Executor runs one skill against the model.
type Executor interface {
	Execute(ctx context.Context, skillID, contextPack, userMessage string, history []types.ConversationMessage) executor.Result
	ExecuteStream(ctx context.Context, skillID, contextPack, userMessage string, history []types.ConversationMessage) <-chan types.StreamChunk
}

// Searcher runs a hybrid paper search.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Recommender produces paper recommendations.
type Recommender interface {
	FromSurvey(ctx context.Context, sessionID string, topK int) ([]types.SearchResult, error)
	SimilarPapers(ctx context.Context, paperID string, topK int) ([]types.SearchResult, error)
}

// PaperSource loads paper data the caller did not supply.
type PaperSource interface {
	GetPaper(ctx context.Context, id string) (types.Paper, error)
	GetChunks(ctx context.Context, paperID string) ([]store.Chunk, error)
	GetSurveyResponses(ctx context.Context, sessionID, paperID string) ([]types.SurveyResponse, error)
}

// =============================================================================
// PIPELINE
// =============================================================================

// chatSearchOptions are the looser search settings used inside a chat turn.
// The chat flow prefers recall over precision: weak semantic hits still give
// the model something to ground its answer in.
func chatSearchOptions(topK int) search.Options {
	opts := search.DefaultOptions()
	opts.TopK = topK
	opts.Threshold = 0.5
	opts.VectorWeight = 0.7
	opts.KeywordWeight = 0.3
	return opts
}

// Pipeline runs the full turn loop: route, gather, compose, execute, and
// chain until the post-execution rules stop it.
type Pipeline struct {
	registry    *Registry
	composer    *composer.Composer
	exec        Executor
	searcher    Searcher
	recommender Recommender
	papers      PaperSource
}

// NewPipeline wires the turn loop. searcher, recommender, and papers may be
// nil; skills that need them degrade to empty context modules.
func NewPipeline(registry *Registry, comp *composer.Composer, exec Executor, searcher Searcher, recommender Recommender, papers PaperSource) *Pipeline {
	if comp == nil {
		comp = composer.New(nil)
	}
	return &Pipeline{
		registry:    registry,
		composer:    comp,
		exec:        exec,
		searcher:    searcher,
		recommender: recommender,
		papers:      papers,
	}
}

// turn is the mutable state carried across chained skill executions.
type turn struct {
	req     types.ChatRequest
	trigger types.TriggerEvent
	data    types.AdditionalData

	searchResults     []types.SearchResult
	recommendedPapers []types.SearchResult
}

func newTurn(req types.ChatRequest) *turn {
	t := &turn{req: req, trigger: req.Trigger}
	if t.trigger == "" {
		t.trigger = types.TriggerDefault
	}
	if req.AdditionalData != nil {
		t.data = *req.AdditionalData
	}
	if t.data.Paper == nil {
		t.data.Paper = req.PaperContext
	}
	return t
}

// Handle runs one complete turn and returns the final aggregated result.
func (p *Pipeline) Handle(ctx context.Context, req types.ChatRequest) (*types.ChatData, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	timer := logging.StartTimer(logging.CategoryRouting, "Handle")
	defer timer.Stop()

	t := newTurn(req)
	var last executor.Result
	var lastSkillID string

	for depth := 0; ; depth++ {
		skill, route := p.routeTurn(t)
		lastSkillID = skill.ID
		logging.Routing("turn depth=%d skill=%s trigger=%s (%s)", depth, skill.ID, t.trigger, route.Reason)

		p.gather(ctx, skill, t)

		pack := p.composer.Compose(skill, t.trigger, t.req.UserContext, &t.data, t.req.History)
		last = p.exec.Execute(ctx, skill.ID, pack, t.req.Message, t.req.History)
		p.fillSignalCounts(skill.ID, &last.Signals, t)

		decision := p.registry.Decide(last.Signals, skill.ID)
		logging.Routing("post depth=%d skill=%s action=%s next=%s (%s)",
			depth, skill.ID, decision.Action, decision.NextSkillID, decision.Reason)

		if !p.continueChain(t, last, decision, depth) {
			break
		}
	}

	return &types.ChatData{
		Message:           last.Content,
		SkillID:           lastSkillID,
		Signals:           last.Signals,
		PromptButtons:     last.PromptButtons,
		SearchResults:     t.searchResults,
		RecommendedPapers: t.recommendedPapers,
	}, nil
}

// HandleStream runs one complete turn, forwarding content deltas as they
// arrive. Intermediate chained executions stream their content too; the
// terminal events (signals, buttons, done) describe only the final skill.
func (p *Pipeline) HandleStream(ctx context.Context, req types.ChatRequest) <-chan types.StreamChunk {
	out := make(chan types.StreamChunk, 32)
	go func() {
		defer close(out)
		if req.SessionID == "" {
			out <- types.StreamChunk{Type: types.ChunkError, Data: types.ErrorPayload{Message: "session_id is required"}}
			return
		}

		t := newTurn(req)
		for depth := 0; ; depth++ {
			skill, _ := p.routeTurn(t)
			p.gather(ctx, skill, t)

			pack := p.composer.Compose(skill, t.trigger, t.req.UserContext, &t.data, t.req.History)

			last, failed := p.forwardStream(ctx, out, skill.ID, pack, t.req.Message, t)
			if failed {
				return
			}
			p.fillSignalCounts(skill.ID, &last.Signals, t)

			decision := p.registry.Decide(last.Signals, skill.ID)
			if p.continueChain(t, last, decision, depth) {
				continue
			}

			out <- types.StreamChunk{Type: types.ChunkSignals, Data: last.Signals}
			if len(last.PromptButtons) > 0 {
				out <- types.StreamChunk{Type: types.ChunkButtons, Data: last.PromptButtons}
			}
			out <- types.StreamChunk{Type: types.ChunkDone, Data: types.DonePayload{
				Content:       last.Content,
				Signals:       last.Signals,
				PromptButtons: last.PromptButtons,
			}}
			return
		}
	}()
	return out
}

// forwardStream runs one skill execution, forwarding its content deltas and
// collecting the terminal result. Error events pass through and end the turn.
func (p *Pipeline) forwardStream(ctx context.Context, out chan<- types.StreamChunk, skillID, pack, message string, t *turn) (executor.Result, bool) {
	var result executor.Result
	for chunk := range p.exec.ExecuteStream(ctx, skillID, pack, message, t.req.History) {
		switch chunk.Type {
		case types.ChunkContent:
			out <- chunk
		case types.ChunkDone:
			if done, ok := chunk.Data.(types.DonePayload); ok {
				result.Content = done.Content
				result.Signals = done.Signals
				result.PromptButtons = done.PromptButtons
			}
		case types.ChunkError:
			out <- chunk
			return result, true
		}
	}
	return result, false
}

// routeTurn routes the current state to a skill. Unknown skill IDs fall back
// to general chat.
func (p *Pipeline) routeTurn(t *turn) (types.Skill, RouteDecision) {
	route := p.registry.Route(t.trigger, t.req.Message, t.req.UserContext, t.req.History, t.data.PreviousSignals)
	skill, ok := p.registry.Get(route.SkillID)
	if !ok {
		skill, _ = p.registry.Get(SkillGeneralChat)
	}
	return skill, route
}

// continueChain applies the post-execution decision. When the chain goes on
// it resets the trigger and threads the previous execution into the next
// context pack.
func (p *Pipeline) continueChain(t *turn, last executor.Result, decision Decision, depth int) bool {
	signals := last.Signals
	switch decision.Action {
	case types.HintReroute:
		signals.NextActionHint = types.HintReroute
		signals.SuggestedSkillID = decision.NextSkillID
	case types.HintStop:
		signals.NextActionHint = types.HintStop
	}
	if !ShouldContinue(signals, depth+1) {
		return false
	}

	t.data.PreviousSignals = &signals
	t.data.PreviousResponse = last.Content
	t.trigger = types.TriggerDefault
	return true
}

// =============================================================================
// DATA GATHERING
// =============================================================================

// gather fills the additional data modules the skill requires. Missing
// backends leave modules empty; the composer renders placeholders.
func (p *Pipeline) gather(ctx context.Context, skill types.Skill, t *turn) {
	if skill.RequiresModule(types.ModulePaperChunks) || skill.RequiresModule(types.ModulePaperMetadata) {
		p.gatherPaper(ctx, t)
	}

	switch skill.ID {
	case SkillPaperSearch:
		p.gatherSearchResults(ctx, skill, t)
	case SkillSurveyComplete:
		p.gatherSurveyResponses(ctx, t)
		p.gatherRecommendations(ctx, skill, t)
	case SkillRecommendNext:
		p.gatherRecommendations(ctx, skill, t)
	}
}

func (p *Pipeline) gatherPaper(ctx context.Context, t *turn) {
	if p.papers == nil || t.data.Paper == nil || t.data.Paper.PaperID == "" {
		return
	}
	pc := t.data.Paper
	if pc.Title == "" {
		paper, err := p.papers.GetPaper(ctx, pc.PaperID)
		if err != nil {
			logging.Get(logging.CategoryRouting).Warn("failed to load paper %s: %v", pc.PaperID, err)
		} else {
			pc.Title = paper.Title
			pc.Authors = paper.Authors
			pc.Abstract = paper.Abstract
			pc.Tags = paper.Tags
		}
	}
	if len(pc.Chunks) == 0 {
		chunks, err := p.papers.GetChunks(ctx, pc.PaperID)
		if err != nil {
			logging.Get(logging.CategoryRouting).Warn("failed to load chunks for %s: %v", pc.PaperID, err)
			return
		}
		for _, c := range chunks {
			pc.Chunks = append(pc.Chunks, c.Content)
		}
	}
}

func (p *Pipeline) gatherSearchResults(ctx context.Context, skill types.Skill, t *turn) {
	if p.searcher == nil {
		return
	}
	query := t.req.Message
	if query == "" {
		return
	}
	hits, err := p.searcher.Search(ctx, query, chatSearchOptions(skill.Budget.SearchTopK))
	if err != nil {
		logging.Get(logging.CategorySearch).Warn("chat search failed: %v", err)
		return
	}
	results := search.ContextResults(hits)
	t.data.SearchResults = results
	t.searchResults = append(t.searchResults, results...)
}

func (p *Pipeline) gatherSurveyResponses(ctx context.Context, t *turn) {
	if len(t.data.SurveyResponses) > 0 || p.papers == nil || t.data.Paper == nil {
		return
	}
	responses, err := p.papers.GetSurveyResponses(ctx, t.req.SessionID, t.data.Paper.PaperID)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to load survey responses: %v", err)
		return
	}
	t.data.SurveyResponses = responses
}

// gatherRecommendations prefers content similarity when the turn is anchored
// to a paper and falls back to the user's survey interests otherwise.
func (p *Pipeline) gatherRecommendations(ctx context.Context, skill types.Skill, t *turn) {
	if p.recommender == nil {
		return
	}
	topK := skill.Budget.CandidatesTopK
	if topK <= 0 {
		topK = 5
	}

	var (
		recs []types.SearchResult
		err  error
	)
	if t.data.Paper != nil && t.data.Paper.PaperID != "" {
		recs, err = p.recommender.SimilarPapers(ctx, t.data.Paper.PaperID, topK)
		if err != nil {
			logging.Get(logging.CategorySearch).Warn("similar-paper recommendation failed, falling back to survey: %v", err)
			recs, err = p.recommender.FromSurvey(ctx, t.req.SessionID, topK)
		}
	} else {
		recs, err = p.recommender.FromSurvey(ctx, t.req.SessionID, topK)
	}
	if err != nil {
		logging.Get(logging.CategorySearch).Warn("recommendation failed: %v", err)
		return
	}

	t.data.SearchResults = recs
	t.recommendedPapers = append(t.recommendedPapers, recs...)
}

// fillSignalCounts backfills count signals the model omitted so the
// post-execution rules see what actually happened this turn.
func (p *Pipeline) fillSignalCounts(skillID string, signals *types.ExecutionSignals, t *turn) {
	switch skillID {
	case SkillPaperSearch:
		if signals.SearchResultCount == 0 {
			signals.SearchResultCount = len(t.data.SearchResults)
		}
	case SkillSurveyComplete, SkillRecommendNext:
		if signals.RecommendationsCount == 0 {
			signals.RecommendationsCount = len(t.recommendedPapers)
		}
	}
}
