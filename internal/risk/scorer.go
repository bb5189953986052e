// Package risk fuses a local keyword heuristic with an external classifier
// score into a single per-message risk verdict.
package risk

import (
	"fmt"
	"strings"
)

// Per-hit score increments for the local keyword heuristic.
const (
	violentKeywordWeight = 0.20
	toxicKeywordWeight   = 0.15
)

// hardFlagOverride, when enabled, forces Safe=false whenever any keyword hit
// occurred regardless of the external classifier's opinion. Policy default is
// to trust the classifier.
const hardFlagOverride = false

var violentKeywords = []string{
	"kill", "murder", "die", "death", "violence", "fight", "attack",
	"hurt", "harm", "destroy", "eliminate", "terminate",
}

var toxicKeywords = []string{
	"hate", "stupid", "idiot", "moron", "loser", "worthless",
	"disgusting", "pathetic", "garbage", "trash",
}

// ClassifierResult is the verdict supplied by the external content classifier.
type ClassifierResult struct {
	Violence float64 `json:"violence_score"`
	Toxicity float64 `json:"toxicity_score"`
	Safe     bool    `json:"safe"`
}

// SafeDefault is the conservative substitute used when the external
// classifier is unavailable: all-zero scores, marked safe.
func SafeDefault() ClassifierResult {
	return ClassifierResult{Violence: 0, Toxicity: 0, Safe: true}
}

// Verdict is the fused risk assessment for one message.
type Verdict struct {
	Violence float64  `json:"violence_score"`
	Toxicity float64  `json:"toxicity_score"`
	Safe     bool     `json:"safe"`
	Flags    []string `json:"flags,omitempty"`
}

// Score scans text against the keyword sets and fuses the result with the
// external classifier's scores, taking the max per axis. It is pure and
// cannot fail; classifier outages must already have been converted to
// SafeDefault by the caller.
func Score(text string, external ClassifierResult) Verdict {
	lower := strings.ToLower(text)

	var localViolence, localToxicity float64
	var flags []string

	for _, kw := range violentKeywords {
		if strings.Contains(lower, kw) {
			flags = append(flags, fmt.Sprintf("violent_keyword: %s", kw))
			localViolence += violentKeywordWeight
		}
	}
	for _, kw := range toxicKeywords {
		if strings.Contains(lower, kw) {
			flags = append(flags, fmt.Sprintf("toxic_keyword: %s", kw))
			localToxicity += toxicKeywordWeight
		}
	}

	if localViolence > 1.0 {
		localViolence = 1.0
	}
	if localToxicity > 1.0 {
		localToxicity = 1.0
	}

	safe := external.Safe
	if hardFlagOverride && len(flags) > 0 {
		safe = false
	}

	return Verdict{
		Violence: max(localViolence, external.Violence),
		Toxicity: max(localToxicity, external.Toxicity),
		Safe:     safe,
		Flags:    flags,
	}
}
