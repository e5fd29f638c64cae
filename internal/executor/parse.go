package executor

import (
	"encoding/json"
	"regexp"
	"strings"

	"cosci/internal/logging"
	"cosci/internal/types"
)

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// Tagged blocks the model appends after the user-visible text. Parsing is
// tag-delimited rather than whole-document JSON so prose around the blocks
// never breaks extraction.
var (
	signalsRe           = regexp.MustCompile(`(?s)<signals>(.*?)</signals>`)
	promptButtonsRe     = regexp.MustCompile(`(?s)<prompt_buttons>(.*?)</prompt_buttons>`)
	actionButtonsRe     = regexp.MustCompile(`(?s)<action_buttons>.*?</action_buttons>`)
	suggestionButtonsRe = regexp.MustCompile(`(?s)<suggestion_buttons>.*?</suggestion_buttons>`)
)

// parseSignals extracts the signals block. A missing tag or malformed JSON
// yields the conservative default rather than an error.
func parseSignals(response string) types.ExecutionSignals {
	defaults := types.DefaultSignals()

	m := signalsRe.FindStringSubmatch(response)
	if m == nil {
		return defaults
	}

	// Unmarshal into the defaults so absent fields keep their fallback.
	signals := defaults
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &signals); err != nil {
		logging.Executor("failed to parse signals block: %v", err)
		return defaults
	}
	return signals
}

// parsePromptButtons extracts the follow-up button labels, if any.
func parsePromptButtons(response string) []string {
	m := promptButtonsRe.FindStringSubmatch(response)
	if m == nil {
		return nil
	}

	var buttons []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &buttons); err != nil {
		logging.Executor("failed to parse prompt_buttons block: %v", err)
		return nil
	}
	return buttons
}

// cleanContent strips every tagged block from the user-visible text.
func cleanContent(response string) string {
	out := signalsRe.ReplaceAllString(response, "")
	out = promptButtonsRe.ReplaceAllString(out, "")
	out = actionButtonsRe.ReplaceAllString(out, "")
	out = suggestionButtonsRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
