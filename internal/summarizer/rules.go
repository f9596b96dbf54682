package summarizer

import (
	"regexp"
	"sort"
	"strings"
)

const (
	NoKeywordsMessage = "No actionable keywords found."
	NoMatchMessage    = "No rule-based match."
)

var (
	keywordPattern   = regexp.MustCompile(`[A-Za-z]{4,}`)
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
)

// RuleEngine answers without a language model: it picks the context
// sentences that mention the most frequent question keywords.
type RuleEngine struct {
	maxSentences int
}

func NewRuleEngine(maxSentences int) *RuleEngine {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &RuleEngine{maxSentences: maxSentences}
}

// Answer returns up to maxSentences distinct sentences, best first, one per line.
func (r *RuleEngine) Answer(question string, contexts []string) string {
	keywords := keywordPattern.FindAllString(strings.ToLower(question), -1)
	if len(keywords) == 0 {
		return NoKeywordsMessage
	}
	freq := map[string]int{}
	for _, k := range keywords {
		freq[k]++
	}

	type scored struct {
		score    int
		sentence string
	}
	var candidates []scored
	for _, chunk := range contexts {
		for _, s := range splitSentences(chunk) {
			lower := strings.ToLower(s)
			score := 0
			for _, k := range keywords {
				if strings.Contains(lower, k) {
					score += freq[k]
				}
			}
			if score > 0 {
				candidates = append(candidates, scored{score, strings.TrimSpace(s)})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	seen := map[string]struct{}{}
	var unique []string
	for _, c := range candidates {
		if _, ok := seen[c.sentence]; ok {
			continue
		}
		seen[c.sentence] = struct{}{}
		unique = append(unique, c.sentence)
		if len(unique) >= r.maxSentences {
			break
		}
	}
	if len(unique) == 0 {
		return NoMatchMessage
	}
	return strings.Join(unique, "\n")
}

// splitSentences splits after sentence-ending punctuation followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		out = append(out, text[start:loc[0]+1])
		start = loc[1]
	}
	return append(out, text[start:])
}
