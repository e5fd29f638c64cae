package types

// SkillBudget bounds what one skill execution may consume.
type SkillBudget struct {
	ContextTokens  int `json:"context_tokens" yaml:"context_tokens"`
	HistoryTurns   int `json:"history_turns" yaml:"history_turns"`
	SearchTopK     int `json:"search_topk,omitempty" yaml:"search_topk,omitempty"`
	CandidatesTopK int `json:"candidates_topk,omitempty" yaml:"candidates_topk,omitempty"`
}

// Skill is one immutable registry entry: a named behavior with its trigger
// conditions, required context modules, and token budget. Defined at process
// start, read-only thereafter.
type Skill struct {
	ID          string          `json:"skill_id" yaml:"skill_id"`
	Description string          `json:"description" yaml:"description"`
	Triggers    []TriggerEvent  `json:"triggers" yaml:"triggers"`
	Requires    []ContextModule `json:"requires" yaml:"requires"`
	Budget      SkillBudget     `json:"budget" yaml:"budget"`
}

// RequiresModule reports whether the skill declares the given context module.
func (s Skill) RequiresModule(m ContextModule) bool {
	for _, r := range s.Requires {
		if r == m {
			return true
		}
	}
	return false
}
