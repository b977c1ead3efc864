package analysis

import (
	"math"
	"strings"

	"www.github.com/Wanderer0074348/HybridRouter/src/models"
	"www.github.com/Wanderer0074348/HybridRouter/src/utils"
)

const (
	// categorical mode: prompts at or above this many tokens are complex
	simpleTokenLimit = 100

	tokenScale       = 40.0
	tokenScoreCap    = 0.5
	keywordWeight    = 0.3
	keywordScoreCap  = 0.5
	simpleUpperBound = 0.3
	moderateUpper    = 0.7
)

// complexityKeywords spans analysis, code, creative work, problem solving,
// architecture and strategy. Matching is case-insensitive substring.
var complexityKeywords = []string{
	// analysis
	"analyze", "analyse", "analysis", "evaluate", "assess", "compare", "contrast",
	"examine", "investigate", "interpret", "critique", "trade-off", "tradeoff",
	// code
	"code", "function", "implement", "algorithm", "debug", "refactor", "optimize",
	"database", "sql", "script", "program", "compile", "regex", "concurrency",
	// creative
	"story", "poem", "creative", "imagine", "narrative", "brainstorm", "invent",
	"compose", "fiction", "screenplay",
	// problem solving
	"solve", "calculate", "prove", "derive", "troubleshoot", "diagnose",
	"step by step", "puzzle", "logic", "hypothesis", "equation",
	// architecture
	"architecture", "design", "scalable", "scalability", "distributed",
	"microservice", "infrastructure", "framework", "integrate", "migration",
	// strategy
	"strategy", "strategic", "roadmap", "recommend", "prioritize", "forecast",
	"business", "market", "risk", "negotiat", "long-term",
}

// Score is the continuous complexity estimate of a prompt.
type Score struct {
	Value        float64  `json:"value"`
	TokenScore   float64  `json:"token_score"`
	KeywordScore float64  `json:"keyword_score"`
	Tokens       int      `json:"tokens"`
	Keywords     []string `json:"keywords,omitempty"`
	Bucket       string   `json:"bucket"`
}

// ScoreComplexity computes the continuous score and its three-way bucket.
func ScoreComplexity(prompt string) Score {
	tokens := utils.EstimateTokenCount(prompt)
	matched := MatchKeywords(prompt)

	tokenScore := math.Min(float64(tokens)/tokenScale*0.5, tokenScoreCap)
	keywordScore := math.Min(float64(len(matched))*keywordWeight, keywordScoreCap)
	total := clamp(tokenScore+keywordScore, 0, 1)

	return Score{
		Value:        total,
		TokenScore:   tokenScore,
		KeywordScore: keywordScore,
		Tokens:       tokens,
		Keywords:     matched,
		Bucket:       BucketFor(total),
	}
}

// BucketFor maps a continuous score onto simple/moderate/complex.
// Boundaries: [0, 0.3) simple, [0.3, 0.7) moderate, [0.7, 1] complex.
func BucketFor(score float64) string {
	switch {
	case score < simpleUpperBound:
		return models.ComplexitySimple
	case score < moderateUpper:
		return models.ComplexityModerate
	default:
		return models.ComplexityComplex
	}
}

// Classify is the two-way categorical mode: "simple" only for short prompts
// with no complexity keyword at all.
func Classify(prompt string) string {
	if utils.EstimateTokenCount(prompt) < simpleTokenLimit && len(MatchKeywords(prompt)) == 0 {
		return models.ComplexitySimple
	}
	return models.ComplexityComplex
}

// MatchKeywords returns the distinct complexity keywords found in prompt.
func MatchKeywords(prompt string) []string {
	lower := strings.ToLower(prompt)
	var matched []string
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
