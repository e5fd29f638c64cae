// Package types defines the shared domain types for the cosci orchestration
// pipeline: trigger events, context inputs, execution signals, and the
// caller-facing chat wire types.
package types

import "time"

// =============================================================================
// TRIGGER EVENTS
// =============================================================================

// TriggerEvent is the caller-supplied reason a turn is happening.
type TriggerEvent string

const (
	TriggerSiteEnter         TriggerEvent = "site_enter"
	TriggerFirstVisit        TriggerEvent = "first_visit"
	TriggerSearchQuery       TriggerEvent = "search_query"
	TriggerUserQuestion      TriggerEvent = "user_question"
	TriggerPaperSelect       TriggerEvent = "paper_select"
	TriggerPaperOpen         TriggerEvent = "paper_open"
	TriggerExplainRequest    TriggerEvent = "explain_request"
	TriggerSurveySubmitted   TriggerEvent = "survey_submitted"
	TriggerPaperReadComplete TriggerEvent = "paper_read_complete"
	TriggerAskRecommendation TriggerEvent = "ask_recommendation"
	TriggerDefault           TriggerEvent = "default"
)

// =============================================================================
// CONTEXT MODULES
// =============================================================================

// ContextModule identifies one section of a context pack. The set is closed:
// a skill declares which modules it requires and the composer renders exactly
// those, in a fixed order.
type ContextModule string

const (
	ModuleUserState           ContextModule = "user_state"
	ModulePaperMetadata       ContextModule = "paper_metadata"
	ModulePaperChunks         ContextModule = "paper_chunks"
	ModuleSearchResults       ContextModule = "search_results"
	ModuleSurveyResponses     ContextModule = "survey_responses"
	ModuleConversationHistory ContextModule = "conversation_history"
	ModuleReadingHistory      ContextModule = "reading_history"
	ModulePreviousResponse    ContextModule = "previous_response"
)

// =============================================================================
// CALLER-SUPPLIED CONTEXT
// =============================================================================

// UserContext describes the user for one turn. It is supplied by the caller
// per call; the core never persists it.
type UserContext struct {
	SessionID         string   `json:"session_id"`
	IsFirstVisit      bool     `json:"is_first_visit"`
	VisitCount        int      `json:"visit_count"`
	UserName          string   `json:"user_name,omitempty"`
	PreferredLanguage string   `json:"preferred_language,omitempty"`
	ReadingHistory    []string `json:"reading_history,omitempty"`
	SurveyHistory     []string `json:"survey_history,omitempty"`
}

// PaperContext carries paper data fetched by the caller (or by the loop on
// the caller's behalf) for skills that declare paper modules.
type PaperContext struct {
	PaperID  string   `json:"paper_id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Abstract string   `json:"abstract,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Chunks   []string `json:"chunks,omitempty"`
}

// ConversationMessage is one turn of chat history.
type ConversationMessage struct {
	Role      string `json:"role"` // user, assistant, system
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SurveyResponse is one answered survey question.
type SurveyResponse struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SearchResult is one ranked paper from the hybrid search engine.
type SearchResult struct {
	PaperID string   `json:"paper_id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Score   float64  `json:"score"`
	Snippet string   `json:"snippet,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// AdditionalData bundles the optional per-turn data sources the composer can
// draw from.
type AdditionalData struct {
	Paper            *PaperContext     `json:"paper,omitempty"`
	SearchResults    []SearchResult    `json:"search_results,omitempty"`
	SurveyResponses  []SurveyResponse  `json:"survey_responses,omitempty"`
	PreviousSignals  *ExecutionSignals `json:"previous_signals,omitempty"`
	PreviousResponse string            `json:"previous_response,omitempty"`
}

// =============================================================================
// EXECUTION SIGNALS
// =============================================================================

// Coverage describes how completely a skill execution answered the turn.
type Coverage string

const (
	CoverageEnough  Coverage = "enough"
	CoveragePartial Coverage = "partial"
	CoverageNone    Coverage = "none"
)

// Confidence describes how sure the model was of its answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ActionHint is the model's suggestion for what the orchestrator should do next.
type ActionHint string

const (
	HintStop    ActionHint = "stop"
	HintReroute ActionHint = "reroute"
)

// ExecutionSignals is the structured block a skill execution emits describing
// how well it answered and whether the chain should continue.
type ExecutionSignals struct {
	Coverage         Coverage   `json:"coverage"`
	Confidence       Confidence `json:"confidence"`
	NextActionHint   ActionHint `json:"next_action_hint"`
	SuggestedSkillID string     `json:"suggested_skill_id,omitempty"`

	// Skill-specific optional signals.
	KnowledgeGap         *bool  `json:"knowledge_gap,omitempty"`
	GapReason            string `json:"gap_reason,omitempty"`
	ExplanationComplete  *bool  `json:"explanation_complete,omitempty"`
	IntentClarified      *bool  `json:"intent_clarified,omitempty"`
	RecommendationsCount int    `json:"recommendations_count,omitempty"`
	SearchResultCount    int    `json:"search_result_count,omitempty"`
}

// DefaultSignals is the conservative fallback used when the model emitted no
// parseable signals block.
func DefaultSignals() ExecutionSignals {
	return ExecutionSignals{
		Coverage:       CoverageEnough,
		Confidence:     ConfidenceMedium,
		NextActionHint: HintStop,
	}
}

// FailureSignals terminates the chain cleanly after a provider failure.
func FailureSignals() ExecutionSignals {
	return ExecutionSignals{
		Coverage:       CoverageNone,
		Confidence:     ConfidenceLow,
		NextActionHint: HintStop,
	}
}

// =============================================================================
// PAPERS (store rows)
// =============================================================================

// Paper is a stored paper row.
type Paper struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Authors   []string   `json:"authors"`
	Abstract  string     `json:"abstract,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	VoteCount int        `json:"vote_count"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// =============================================================================
// CHAT WIRE TYPES
// =============================================================================

// ChatRequest is the caller-facing input for one turn.
type ChatRequest struct {
	Message        string                `json:"message,omitempty"`
	Trigger        TriggerEvent          `json:"trigger,omitempty"`
	SessionID      string                `json:"session_id"`
	History        []ConversationMessage `json:"history,omitempty"`
	UserContext    *UserContext          `json:"user_context,omitempty"`
	PaperContext   *PaperContext         `json:"paper_context,omitempty"`
	AdditionalData *AdditionalData       `json:"additional_data,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
}

// ChatData is the success payload of a non-streaming turn.
type ChatData struct {
	Message           string           `json:"message"`
	SkillID           string           `json:"skill_id"`
	Signals           ExecutionSignals `json:"signals"`
	PromptButtons     []string         `json:"prompt_buttons,omitempty"`
	SearchResults     []SearchResult   `json:"search_results,omitempty"`
	RecommendedPapers []SearchResult   `json:"recommended_papers,omitempty"`
}

// ChatError is the failure payload.
type ChatError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatResponse is the caller-facing output envelope.
type ChatResponse struct {
	Success bool       `json:"success"`
	Data    *ChatData  `json:"data,omitempty"`
	Error   *ChatError `json:"error,omitempty"`
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamChunkType labels one event of a streamed turn.
type StreamChunkType string

const (
	ChunkContent StreamChunkType = "content"
	ChunkSignals StreamChunkType = "signals"
	ChunkButtons StreamChunkType = "buttons"
	ChunkDone    StreamChunkType = "done"
	ChunkError   StreamChunkType = "error"
)

// StreamChunk is one event of a streamed turn. Data holds a string for
// content events, ExecutionSignals for signals, []string for buttons,
// DonePayload for done, and ErrorPayload for error.
type StreamChunk struct {
	Type StreamChunkType `json:"type"`
	Data any             `json:"data"`
}

// DonePayload is the terminal event of a successful stream.
type DonePayload struct {
	Content       string           `json:"content"`
	Signals       ExecutionSignals `json:"signals"`
	PromptButtons []string         `json:"prompt_buttons,omitempty"`
}

// ErrorPayload is the terminal event of a failed stream.
type ErrorPayload struct {
	Message string `json:"message"`
}
