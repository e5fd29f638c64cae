package composer

import (
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// Token Estimation
// =============================================================================
// Exact tokenization of the downstream model is not assumed. The heuristic
// below is the single source of truth for budget enforcement: deterministic,
// pure, and monotonic in text length. A provider-accurate tokenizer can be
// swapped in through the Estimator interface without touching truncation.

// Estimator estimates the token count of a text.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator weighs characters by script class:
// dense-script characters (Hangul) ~1.8 units, Latin words ~1.3 units each,
// numeric runs ~1 unit, whitespace ~0.1 per character, everything else ~0.5
// per character. Summed and ceiling-rounded, minimum 1 for nonempty text.
type HeuristicEstimator struct{}

// NewHeuristicEstimator returns the default estimator.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{}
}

func isHangul(r rune) bool {
	return (r >= 0xAC00 && r <= 0xD7AF) || // syllables
		(r >= 0x1100 && r <= 0x11FF) || // jamo
		(r >= 0x3130 && r <= 0x318F) // compatibility jamo
}

func isLatinLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Estimate implements Estimator.
func (e *HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	var hangulChars, latinWords, numberRuns, spaces, special int
	inWord, inNumber := false, false

	for _, r := range text {
		switch {
		case isHangul(r):
			hangulChars++
			inWord, inNumber = false, false
		case isLatinLetter(r):
			if !inWord {
				latinWords++
			}
			inWord, inNumber = true, false
		case unicode.IsDigit(r):
			if !inNumber {
				numberRuns++
			}
			inWord, inNumber = false, true
		case unicode.IsSpace(r):
			spaces++
			inWord, inNumber = false, false
		default:
			special++
			inWord, inNumber = false, false
		}
	}

	tokens := int(math.Ceil(
		float64(hangulChars)*1.8 +
			float64(latinWords)*1.3 +
			float64(numberRuns)*1.0 +
			float64(spaces)*0.1 +
			float64(special)*0.5))

	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// =============================================================================
// Budget Truncation
// =============================================================================

// ellipsisMarker is appended whenever a truncation occurred.
const ellipsisMarker = "..."

// TruncateToBudget returns the longest prefix of text whose estimated token
// count is within maxTokens, with an ellipsis marker appended when truncation
// occurred. Binary search over rune length keeps the cut deterministic.
func TruncateToBudget(text string, maxTokens int, est Estimator) string {
	if est.Estimate(text) <= maxTokens {
		return text
	}

	// Reserve room for the marker so the result itself stays within budget.
	limit := maxTokens - est.Estimate(ellipsisMarker)
	if limit < 0 {
		limit = 0
	}

	runes := []rune(text)
	low, high := 0, len(runes)
	for low < high {
		mid := (low + high + 1) / 2
		if est.Estimate(string(runes[:mid])) <= limit {
			low = mid
		} else {
			high = mid - 1
		}
	}

	return strings.TrimRight(string(runes[:low]), " ") + ellipsisMarker
}
