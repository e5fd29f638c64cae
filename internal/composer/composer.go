// Package composer assembles the token-budgeted context pack handed to a
// skill execution. A pack is a sequence of delimited sections, one per
// context module the skill declares, rendered in a fixed order and then
// truncated as a whole to the skill's context budget.
package composer

import (
	"fmt"
	"strings"

	"cosci/internal/logging"
	"cosci/internal/types"
)

// =============================================================================
// COMPOSER
// =============================================================================

// Composer builds context packs. The zero value is not usable; call New.
type Composer struct {
	est Estimator
}

// New returns a Composer backed by the given estimator. Passing nil selects
// the heuristic estimator.
func New(est Estimator) *Composer {
	if est == nil {
		est = NewHeuristicEstimator()
	}
	return &Composer{est: est}
}

// chunkBudgetCap bounds the PaperChunks sub-budget regardless of how large
// the skill's overall context budget is.
const chunkBudgetCap = 4000

// Compose builds the full context pack for one skill execution. userCtx,
// data, and history may each be nil/empty; modules render placeholders or
// nothing accordingly. The returned pack never exceeds the skill's
// context_tokens budget under the composer's estimator.
func (c *Composer) Compose(
	skill types.Skill,
	trigger types.TriggerEvent,
	userCtx *types.UserContext,
	data *types.AdditionalData,
	history []types.ConversationMessage,
) string {
	var b strings.Builder
	b.WriteString(buildHeader(skill.ID, trigger, userCtx))

	if skill.RequiresModule(types.ModuleUserState) {
		b.WriteString(buildUserStateModule(userCtx))
	}
	if skill.RequiresModule(types.ModulePaperMetadata) {
		b.WriteString(buildPaperMetadataModule(paperOf(data)))
	}
	if skill.RequiresModule(types.ModulePaperChunks) {
		chunkBudget := int(float64(skill.Budget.ContextTokens) * 0.6)
		if chunkBudget > chunkBudgetCap {
			chunkBudget = chunkBudgetCap
		}
		b.WriteString(c.buildPaperChunksModule(paperOf(data), chunkBudget))
	}
	if skill.RequiresModule(types.ModuleSearchResults) {
		b.WriteString(buildSearchResultsModule(data))
	}
	if skill.RequiresModule(types.ModuleSurveyResponses) {
		b.WriteString(buildSurveyResponsesModule(data))
	}
	if skill.RequiresModule(types.ModuleConversationHistory) {
		b.WriteString(buildConversationHistoryModule(history, skill.Budget.HistoryTurns))
	}
	if skill.RequiresModule(types.ModuleReadingHistory) {
		b.WriteString(buildReadingHistoryModule(userCtx))
	}
	if skill.RequiresModule(types.ModulePreviousResponse) {
		b.WriteString(buildPreviousResponseModule(data))
	}

	pack := b.String()
	before := c.est.Estimate(pack)
	pack = TruncateToBudget(pack, skill.Budget.ContextTokens, c.est)
	after := c.est.Estimate(pack)

	logging.ComposerDebug("composed pack for %s: %d tokens (budget %d, pre-cut %d)",
		skill.ID, after, skill.Budget.ContextTokens, before)

	return pack
}

// ComposeMinimal builds the short pack used by skills with no context
// requirements beyond the user state. Skips the module loop entirely.
func (c *Composer) ComposeMinimal(
	skill types.Skill,
	trigger types.TriggerEvent,
	userCtx *types.UserContext,
) string {
	return buildHeader(skill.ID, trigger, userCtx) + buildUserStateModule(userCtx)
}

func paperOf(data *types.AdditionalData) *types.PaperContext {
	if data == nil {
		return nil
	}
	return data.Paper
}

// =============================================================================
// MODULE BUILDERS
// =============================================================================

func buildHeader(skillID string, trigger types.TriggerEvent, userCtx *types.UserContext) string {
	locale := "ko"
	if userCtx != nil && userCtx.PreferredLanguage != "" {
		locale = userCtx.PreferredLanguage
	}
	return fmt.Sprintf("[Trigger]\n- event: %s\n- skill_id: %s\n\n[UserInput]\n- locale: %q\n\n",
		trigger, skillID, locale)
}

func buildUserStateModule(userCtx *types.UserContext) string {
	if userCtx == nil {
		return "[UserState]\n- 세션: 익명 사용자\n- 첫 방문: 알 수 없음\n"
	}

	firstVisit := "아니오"
	if userCtx.IsFirstVisit {
		firstVisit = "예"
	}
	userName := userCtx.UserName
	if userName == "" {
		userName = "(없음)"
	}
	lang := userCtx.PreferredLanguage
	if lang == "" {
		lang = "ko"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[UserState]\n- 세션 ID: %s\n- 첫 방문: %s\n- 방문 횟수: %d회\n- 사용자 이름: %s\n- 선호 언어: %s\n",
		userCtx.SessionID, firstVisit, userCtx.VisitCount, userName, lang)
	if len(userCtx.ReadingHistory) > 0 {
		fmt.Fprintf(&b, "- 읽은 논문: %d개\n", len(userCtx.ReadingHistory))
	}
	if len(userCtx.SurveyHistory) > 0 {
		fmt.Fprintf(&b, "- 참여 설문: %d개\n", len(userCtx.SurveyHistory))
	}
	return b.String()
}

func buildPaperMetadataModule(paper *types.PaperContext) string {
	if paper == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[PaperMetadata]\n- ID: %s\n- 제목: %s\n- 저자: %s\n",
		paper.PaperID, paper.Title, strings.Join(paper.Authors, ", "))
	if paper.Abstract != "" {
		fmt.Fprintf(&b, "- 초록: %s\n", paper.Abstract)
	}
	if len(paper.Tags) > 0 {
		fmt.Fprintf(&b, "- 태그: %s\n", strings.Join(paper.Tags, ", "))
	}
	return b.String()
}

func (c *Composer) buildPaperChunksModule(paper *types.PaperContext, maxTokens int) string {
	if paper == nil || len(paper.Chunks) == 0 {
		return ""
	}

	content := strings.Join(paper.Chunks, "\n\n---\n\n")
	content = TruncateToBudget(content, maxTokens, c.est)
	return "[PaperChunks]\n" + content + "\n"
}

func buildSearchResultsModule(data *types.AdditionalData) string {
	if data == nil || len(data.SearchResults) == 0 {
		return "[SearchResults]\n(검색 결과 없음)\n"
	}

	var b strings.Builder
	b.WriteString("[SearchResults]\n")
	for i, r := range data.SearchResults {
		fmt.Fprintf(&b, "%d. [%s] %q - %s (유사도: %.1f%%)",
			i+1, r.PaperID, r.Title, strings.Join(r.Authors, ", "), r.Score*100)
		if r.Snippet != "" {
			b.WriteString("\n   " + r.Snippet)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildSurveyResponsesModule(data *types.AdditionalData) string {
	if data == nil || len(data.SurveyResponses) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("[SurveyResponses]\n")
	for _, r := range data.SurveyResponses {
		fmt.Fprintf(&b, "- Q%s: %s\n", r.QuestionID, r.Answer)
	}
	return b.String()
}

func buildConversationHistoryModule(history []types.ConversationMessage, maxTurns int) string {
	if len(history) == 0 {
		return ""
	}

	// A turn is one user+assistant pair.
	keep := maxTurns * 2
	if keep > 0 && len(history) > keep {
		history = history[len(history)-keep:]
	}

	var b strings.Builder
	b.WriteString("[ConversationHistory]\n")
	for _, m := range history {
		label := "AI"
		if m.Role == "user" {
			label = "사용자"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return b.String()
}

func buildReadingHistoryModule(userCtx *types.UserContext) string {
	if userCtx == nil || len(userCtx.ReadingHistory) == 0 {
		return "[ReadingHistory]\n(읽은 논문 없음)\n"
	}
	return "[ReadingHistory]\n읽은 논문 ID: " + strings.Join(userCtx.ReadingHistory, ", ") + "\n"
}

func buildPreviousResponseModule(data *types.AdditionalData) string {
	if data == nil || (data.PreviousSignals == nil && data.PreviousResponse == "") {
		return ""
	}

	var b strings.Builder
	b.WriteString("[PreviousResponse]\n")
	if sig := data.PreviousSignals; sig != nil {
		fmt.Fprintf(&b, "이전 스킬 Signals:\n- coverage: %s\n- confidence: %s\n- next_action_hint: %s\n",
			sig.Coverage, sig.Confidence, sig.NextActionHint)
		if sig.SuggestedSkillID != "" {
			fmt.Fprintf(&b, "- suggested_skill_id: %s\n", sig.SuggestedSkillID)
		}
	}
	if data.PreviousResponse != "" {
		b.WriteString("\n이전 응답 내용:\n" + data.PreviousResponse + "\n")
	}
	return b.String()
}
