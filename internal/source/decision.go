package source

import (
	"regexp"
	"strings"
)

// MaxDecisionsPerScan caps how many decision sentences one extraction pass
// may yield.
const MaxDecisionsPerScan = 10

// decisionPatterns match sentence-level commitments in reasoning or
// response text. This is a heuristic: false positives and negatives are
// accepted, covered by example-based tests.
var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI'll use\b`),
	regexp.MustCompile(`(?i)\bI'll go with\b`),
	regexp.MustCompile(`(?i)\bI've decided\b`),
	regexp.MustCompile(`(?i)\bI decided to\b`),
	regexp.MustCompile(`(?i)\bthe best approach is\b`),
	regexp.MustCompile(`(?i)\blet me create\b`),
	regexp.MustCompile(`(?i)\blet me implement\b`),
	regexp.MustCompile(`(?i)\bI will implement\b`),
	regexp.MustCompile(`(?i)\bgoing to use\b`),
	regexp.MustCompile(`(?i)\bthe plan is\b`),
	regexp.MustCompile(`(?i)\binstead of\b.*\bbecause\b`),
}

// Sentences end at terminal punctuation followed by whitespace or at a
// newline. A bare period is not a boundary: transcripts are full of dotted
// identifiers ("sync.Map", "file.py") that must survive intact.
var sentenceSplit = regexp.MustCompile(`[.!?]+(?:\s+|$)|\n+`)

// ExtractDecisionSentences scans free text for decision-indicating
// sentences and returns the matched sentences, capped at
// MaxDecisionsPerScan. Each returned string is the matching sentence, not
// the whole block.
func ExtractDecisionSentences(text string) []string {
	if text == "" {
		return nil
	}

	var out []string
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		for _, pat := range decisionPatterns {
			if pat.MatchString(sentence) {
				out = append(out, sentence)
				break
			}
		}
		if len(out) >= MaxDecisionsPerScan {
			break
		}
	}
	return out
}
