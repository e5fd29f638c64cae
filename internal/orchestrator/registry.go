// Package orchestrator routes incoming triggers to skills, evaluates the
// signals each execution emits, and drives the bounded skill chain for one
// user turn.
package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cosci/internal/types"
)

// =============================================================================
// SKILL REGISTRY
// =============================================================================

// Registered skill IDs.
const (
	SkillGreeting       = "greeting"
	SkillPaperSearch    = "paper_search"
	SkillPaperExplain   = "paper_explain"
	SkillSurveyComplete = "survey_complete"
	SkillRecommendNext  = "recommend_next"
	SkillGeneralChat    = "general_chat"
)

// Registry is the immutable set of skills available to the router. Built
// once at startup; lookups after that are read-only.
type Registry struct {
	skills  []types.Skill
	byID    map[string]types.Skill
	trigger map[types.TriggerEvent]string
}

// NewRegistry returns the built-in skill set.
func NewRegistry() *Registry {
	return newRegistry(defaultSkills())
}

// LoadRegistry builds a registry from the built-in skills plus a YAML
// overlay. Overlay entries with a known skill_id replace the built-in
// definition; unknown IDs are appended. An empty path returns the defaults.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill registry: %w", err)
	}

	var overlay struct {
		Skills []types.Skill `yaml:"skills"`
	}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse skill registry: %w", err)
	}

	skills := defaultSkills()
	for _, s := range overlay.Skills {
		if s.ID == "" {
			return nil, fmt.Errorf("skill registry overlay: entry without skill_id")
		}
		replaced := false
		for i := range skills {
			if skills[i].ID == s.ID {
				skills[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			skills = append(skills, s)
		}
	}

	return newRegistry(skills), nil
}

func newRegistry(skills []types.Skill) *Registry {
	r := &Registry{
		skills:  skills,
		byID:    make(map[string]types.Skill, len(skills)),
		trigger: make(map[types.TriggerEvent]string),
	}
	for _, s := range skills {
		r.byID[s.ID] = s
		for _, t := range s.Triggers {
			if t == types.TriggerDefault || t == types.TriggerUserQuestion {
				// Resolved by intent detection, not the trigger table.
				continue
			}
			r.trigger[t] = s.ID
		}
	}
	return r
}

// Get returns the skill for id.
func (r *Registry) Get(id string) (types.Skill, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Skills returns all registered skills in definition order.
func (r *Registry) Skills() []types.Skill {
	return r.skills
}

// skillForTrigger resolves a concrete trigger through the static table.
func (r *Registry) skillForTrigger(t types.TriggerEvent) (types.Skill, bool) {
	id, ok := r.trigger[t]
	if !ok {
		return types.Skill{}, false
	}
	return r.byID[id], true
}

func defaultSkills() []types.Skill {
	return []types.Skill{
		{
			ID:          SkillGreeting,
			Description: "사이트 방문 시 인사 및 안내",
			Triggers:    []types.TriggerEvent{types.TriggerSiteEnter, types.TriggerFirstVisit},
			Requires:    []types.ContextModule{types.ModuleUserState},
			Budget:      types.SkillBudget{ContextTokens: 2000, HistoryTurns: 2},
		},
		{
			ID:          SkillPaperSearch,
			Description: "논문 검색 (키워드 + 벡터)",
			Triggers:    []types.TriggerEvent{types.TriggerSearchQuery, types.TriggerUserQuestion},
			Requires:    []types.ContextModule{types.ModuleSearchResults},
			Budget:      types.SkillBudget{ContextTokens: 4000, HistoryTurns: 4, SearchTopK: 10},
		},
		{
			ID:          SkillPaperExplain,
			Description: "선택된 논문 요약 및 설명",
			Triggers:    []types.TriggerEvent{types.TriggerPaperSelect, types.TriggerPaperOpen, types.TriggerExplainRequest},
			Requires:    []types.ContextModule{types.ModulePaperChunks, types.ModulePaperMetadata},
			Budget:      types.SkillBudget{ContextTokens: 8000, HistoryTurns: 4},
		},
		{
			ID:          SkillSurveyComplete,
			Description: "설문 완료 축하 및 논문 추천",
			Triggers:    []types.TriggerEvent{types.TriggerSurveySubmitted},
			Requires:    []types.ContextModule{types.ModuleSurveyResponses, types.ModuleSearchResults},
			Budget:      types.SkillBudget{ContextTokens: 4000, HistoryTurns: 2, CandidatesTopK: 5},
		},
		{
			ID:          SkillRecommendNext,
			Description: "다음 논문 추천",
			Triggers:    []types.TriggerEvent{types.TriggerPaperReadComplete, types.TriggerAskRecommendation},
			Requires:    []types.ContextModule{types.ModuleReadingHistory, types.ModuleSearchResults},
			Budget:      types.SkillBudget{ContextTokens: 4000, HistoryTurns: 4, CandidatesTopK: 5},
		},
		{
			ID:          SkillGeneralChat,
			Description: "일반 대화 및 질문 응답",
			Triggers:    []types.TriggerEvent{types.TriggerDefault},
			Requires:    []types.ContextModule{types.ModuleConversationHistory},
			Budget:      types.SkillBudget{ContextTokens: 3000, HistoryTurns: 6},
		},
	}
}
