package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"cosci/internal/logging"
	"cosci/internal/types"
)

// =============================================================================
// PRE-ORCHESTRATION (ROUTING)
// =============================================================================

// RouteDecision names the skill selected for a turn and why.
type RouteDecision struct {
	SkillID string                `json:"skill_id"`
	Requires []types.ContextModule `json:"requires"`
	Query   string                `json:"query,omitempty"`
	Reason  string                `json:"reason"`
}

// Intent families, checked in fixed priority order so overlapping matches
// resolve deterministically.
type intent string

const (
	intentSearch    intent = "search"
	intentRecommend intent = "recommend"
	intentExplain   intent = "explain"
	intentGreeting  intent = "greeting"
	intentNone      intent = ""
)

var intentOrder = []intent{intentSearch, intentRecommend, intentExplain, intentGreeting}

var intentPatterns = map[intent][]*regexp.Regexp{
	intentSearch: {
		regexp.MustCompile(`검색`),
		regexp.MustCompile(`찾아`),
		regexp.MustCompile(`논문.*있`),
		regexp.MustCompile(`어떤.*논문`),
		regexp.MustCompile(`관련.*논문`),
		regexp.MustCompile(`search`),
		regexp.MustCompile(`find`),
		regexp.MustCompile(`paper.*about`),
	},
	intentRecommend: {
		regexp.MustCompile(`추천`),
		regexp.MustCompile(`다음`),
		regexp.MustCompile(`다른.*논문`),
		regexp.MustCompile(`뭐.*읽`),
		regexp.MustCompile(`recommend`),
		regexp.MustCompile(`suggest`),
		regexp.MustCompile(`what.*read`),
	},
	intentExplain: {
		regexp.MustCompile(`설명`),
		regexp.MustCompile(`요약`),
		regexp.MustCompile(`알려`),
		regexp.MustCompile(`뭐야`),
		regexp.MustCompile(`무엇`),
		regexp.MustCompile(`자세히`),
		regexp.MustCompile(`explain`),
		regexp.MustCompile(`summarize`),
		regexp.MustCompile(`what.*is`),
	},
	intentGreeting: {
		regexp.MustCompile(`안녕`),
		regexp.MustCompile(`반가`),
		regexp.MustCompile(`처음`),
		regexp.MustCompile(`시작`),
		regexp.MustCompile(`hello`),
		regexp.MustCompile(`hi\b`),
		regexp.MustCompile(`hey`),
	},
}

// detectIntent matches the lowercased message against each intent family in
// priority order. Returns intentNone when nothing matches.
func detectIntent(message string) intent {
	if message == "" {
		return intentNone
	}
	lower := strings.ToLower(message)
	for _, in := range intentOrder {
		for _, p := range intentPatterns[in] {
			if p.MatchString(lower) {
				return in
			}
		}
	}
	return intentNone
}

// Route selects the skill for one turn. Priority: a valid reroute hint from
// the previous execution, then the static trigger table, then intent
// detection over the message, then the first-visit greeting, then general
// chat. Every path fills Reason.
func (r *Registry) Route(
	trigger types.TriggerEvent,
	message string,
	userCtx *types.UserContext,
	_ []types.ConversationMessage,
	previousSignals *types.ExecutionSignals,
) RouteDecision {
	if previousSignals != nil &&
		previousSignals.NextActionHint == types.HintReroute &&
		previousSignals.SuggestedSkillID != "" {
		if s, ok := r.Get(previousSignals.SuggestedSkillID); ok {
			d := RouteDecision{
				SkillID:  s.ID,
				Requires: s.Requires,
				Query:    message,
				Reason:   fmt.Sprintf("이전 스킬의 reroute 힌트에 따라 %s로 전환", s.ID),
			}
			logging.Routing("route %s -> %s (%s)", trigger, d.SkillID, d.Reason)
			return d
		}
		// Unknown target: ignore the hint and fall through.
		logging.RoutingDebug("ignoring reroute hint to unknown skill %q", previousSignals.SuggestedSkillID)
	}

	d := r.ruleBasedRoute(trigger, message, userCtx)
	logging.Routing("route %s -> %s (%s)", trigger, d.SkillID, d.Reason)
	return d
}

func (r *Registry) ruleBasedRoute(
	trigger types.TriggerEvent,
	message string,
	userCtx *types.UserContext,
) RouteDecision {
	if s, ok := r.skillForTrigger(trigger); ok {
		d := RouteDecision{SkillID: s.ID, Requires: s.Requires}
		switch s.ID {
		case SkillGreeting:
			d.Reason = "사이트 방문으로 인사 스킬 선택"
		case SkillPaperExplain:
			d.Reason = "논문 선택으로 설명 스킬 선택"
		case SkillSurveyComplete:
			d.Reason = "설문 완료로 축하 스킬 선택"
		case SkillRecommendNext:
			d.Query = message
			d.Reason = "논문 읽기 완료로 추천 스킬 선택"
		case SkillPaperSearch:
			d.Query = message
			d.Reason = "검색 쿼리로 검색 스킬 선택"
		default:
			d.Query = message
			d.Reason = fmt.Sprintf("트리거 %s로 %s 스킬 선택", trigger, s.ID)
		}
		return d
	}

	if in := detectIntent(message); in != intentNone {
		switch in {
		case intentSearch:
			if s, ok := r.Get(SkillPaperSearch); ok {
				return RouteDecision{
					SkillID:  s.ID,
					Requires: s.Requires,
					Query:    message,
					Reason:   "검색 의도 감지로 검색 스킬 선택",
				}
			}
		case intentRecommend:
			if s, ok := r.Get(SkillRecommendNext); ok {
				return RouteDecision{
					SkillID:  s.ID,
					Requires: s.Requires,
					Query:    message,
					Reason:   "추천 의도 감지로 추천 스킬 선택",
				}
			}
		case intentExplain:
			if s, ok := r.Get(SkillPaperExplain); ok {
				return RouteDecision{
					SkillID:  s.ID,
					Requires: s.Requires,
					Query:    message,
					Reason:   "설명 의도 감지로 설명 스킬 선택",
				}
			}
		case intentGreeting:
			if s, ok := r.Get(SkillGreeting); ok {
				return RouteDecision{
					SkillID:  s.ID,
					Requires: s.Requires,
					Reason:   "인사 의도 감지로 인사 스킬 선택",
				}
			}
		}
	}

	if userCtx != nil && userCtx.IsFirstVisit {
		if s, ok := r.Get(SkillGreeting); ok {
			return RouteDecision{
				SkillID:  s.ID,
				Requires: s.Requires,
				Reason:   "첫 방문으로 인사 스킬 선택",
			}
		}
	}

	s, _ := r.Get(SkillGeneralChat)
	return RouteDecision{
		SkillID:  SkillGeneralChat,
		Requires: s.Requires,
		Query:    message,
		Reason:   "기본 일반 대화 스킬 선택",
	}
}
