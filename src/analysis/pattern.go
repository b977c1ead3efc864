package analysis

import "strings"

// Intent categories. PatternGeneral is returned when nothing matches.
const (
	PatternCode        = "code"
	PatternAnalysis    = "analysis"
	PatternCreative    = "creative"
	PatternExplanation = "explanation"
	PatternFactual     = "factual"
	PatternReasoning   = "reasoning"
	PatternGeneral     = "general"
)

type patternRule struct {
	name     string
	keywords []string
}

// Declaration order breaks ties.
var patternRules = []patternRule{
	{PatternCode, []string{"code", "function", "bug", "implement", "program", "script", "debug", "compile"}},
	{PatternAnalysis, []string{"analyze", "analysis", "compare", "evaluate", "assess", "review", "pros and cons", "trade-off"}},
	{PatternCreative, []string{"story", "poem", "creative", "imagine", "fiction", "compose", "lyrics"}},
	{PatternExplanation, []string{"explain", "how does", "why", "what does", "describe", "meaning of"}},
	{PatternFactual, []string{"what is", "who is", "when did", "where is", "define", "list", "capital of"}},
	{PatternReasoning, []string{"solve", "calculate", "prove", "logic", "reason", "step by step", "puzzle", "deduce"}},
}

// Patterns lists every category IdentifyPattern can return, general last.
func Patterns() []string {
	out := make([]string, 0, len(patternRules)+1)
	for _, r := range patternRules {
		out = append(out, r.name)
	}
	return append(out, PatternGeneral)
}

// IdentifyPattern picks the category with the most keyword hits.
func IdentifyPattern(prompt string) string {
	lower := strings.ToLower(prompt)

	best, bestCount := PatternGeneral, 0
	for _, rule := range patternRules {
		count := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = rule.name, count
		}
	}
	return best
}
