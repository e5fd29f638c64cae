package orchestrator

import (
	"fmt"

	"cosci/internal/logging"
	"cosci/internal/types"
)

// =============================================================================
// POST-ORCHESTRATION (SIGNAL EVALUATION)
// =============================================================================

// MaxChainDepth bounds how many skill executions one user turn may chain.
// The loop terminates at this depth even if the model keeps asking to
// reroute.
const MaxChainDepth = 3

// Decision is the post-orchestrator's verdict after one skill execution.
type Decision struct {
	Action      types.ActionHint `json:"action"`
	NextSkillID string           `json:"next_skill_id,omitempty"`
	Reason      string           `json:"reason"`
}

func stop(reason string) Decision {
	return Decision{Action: types.HintStop, Reason: reason}
}

func reroute(next, reason string) Decision {
	return Decision{Action: types.HintReroute, NextSkillID: next, Reason: reason}
}

// Decide evaluates the signals a skill emitted and picks the next action.
// Rules are checked in priority order; the first match wins.
func (r *Registry) Decide(signals types.ExecutionSignals, currentSkillID string) Decision {
	d := r.decide(signals, currentSkillID)
	logging.Routing("decide %s: %s -> %s (%s)", currentSkillID, d.Action, d.NextSkillID, d.Reason)
	return d
}

func (r *Registry) decide(signals types.ExecutionSignals, currentSkillID string) Decision {
	// 1. Explicit reroute hint naming a registered skill.
	if signals.NextActionHint == types.HintReroute && signals.SuggestedSkillID != "" {
		if _, ok := r.Get(signals.SuggestedSkillID); ok {
			return reroute(signals.SuggestedSkillID,
				fmt.Sprintf("스킬이 %s로 재라우팅 요청", signals.SuggestedSkillID))
		}
	}

	// 2. Knowledge gap: fill it with a search.
	if signals.KnowledgeGap != nil && *signals.KnowledgeGap {
		switch currentSkillID {
		case SkillPaperExplain:
			return reroute(SkillPaperSearch, "논문 설명 중 지식 갭 발생, 추가 검색 필요")
		case SkillGeneralChat:
			return reroute(SkillPaperSearch, "일반 대화 중 관련 논문 검색 필요")
		}
	}

	// 3. Low coverage.
	lowCoverage := signals.Coverage == types.CoverageNone ||
		(signals.Coverage == types.CoveragePartial && signals.Confidence == types.ConfidenceLow)
	if lowCoverage {
		switch currentSkillID {
		case SkillPaperSearch:
			return stop("검색 결과 부족, 사용자 쿼리 수정 필요")
		case SkillPaperExplain:
			return stop("논문 정보 부족, 추가 정보 필요")
		case SkillRecommendNext:
			return reroute(SkillPaperSearch, "추천을 위한 정보 부족, 검색으로 전환")
		}
	}

	// 4. Survey completion hands off to recommendations unless the skill
	// already produced some.
	if currentSkillID == SkillSurveyComplete {
		if signals.RecommendationsCount > 0 {
			return stop("설문 완료 및 추천 제공, 사용자 선택 대기")
		}
		return reroute(SkillRecommendNext, "설문 완료 후 추천 스킬로 전환")
	}

	// 5. Finished explanation.
	if currentSkillID == SkillPaperExplain &&
		signals.ExplanationComplete != nil && *signals.ExplanationComplete {
		return stop("논문 설명 완료, 사용자 행동 대기")
	}

	// 6. Unclear intent needs the user, not another skill.
	if signals.IntentClarified != nil && !*signals.IntentClarified {
		return stop("의도 파악 필요, 추가 질문 대기")
	}

	// 7. Default.
	return stop(fmt.Sprintf("coverage=%s, confidence=%s로 완료", signals.Coverage, signals.Confidence))
}

// ShouldContinue gates one more iteration of the chain loop.
func ShouldContinue(signals types.ExecutionSignals, chainDepth int) bool {
	if chainDepth >= MaxChainDepth {
		logging.Routing("max chain depth %d reached, stopping", MaxChainDepth)
		return false
	}
	if signals.NextActionHint == types.HintStop {
		return false
	}
	if signals.NextActionHint == types.HintReroute && signals.SuggestedSkillID != "" {
		return true
	}
	if signals.Coverage == types.CoverageNone && signals.Confidence == types.ConfidenceLow {
		return true
	}
	return false
}

// SuggestedFollowUps lists skills worth offering the user after the current
// one, most relevant first.
func SuggestedFollowUps(currentSkillID string, signals types.ExecutionSignals) []string {
	switch currentSkillID {
	case SkillGreeting, SkillGeneralChat:
		return []string{SkillPaperSearch, SkillRecommendNext}
	case SkillPaperSearch:
		if signals.SearchResultCount > 0 {
			return []string{SkillPaperExplain, SkillRecommendNext}
		}
		return []string{SkillRecommendNext}
	case SkillPaperExplain, SkillSurveyComplete:
		return []string{SkillRecommendNext, SkillPaperSearch}
	case SkillRecommendNext:
		return []string{SkillPaperExplain, SkillPaperSearch}
	}
	return nil
}
