// Package intent classifies retrieval queries so the router can pick the
// cheapest strategy that answers them. A price lookup should hit the
// structure index directly; an "explain" query needs narrative search.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Intent is the recognized purpose of a query.
type Intent string

const (
	FactExtraction Intent = "fact_extraction"
	Explanation    Intent = "explanation"
	Comparison     Intent = "comparison"
	Enumeration    Intent = "enumeration"
	Verification   Intent = "verification"
	Procedural     Intent = "procedural"
	Unknown        Intent = "unknown"
)

// Strategy names the retrieval plan for an intent.
type Strategy string

const (
	StructureFirst     Strategy = "structure_first"
	NarrativeFirst     Strategy = "narrative_first"
	HybridParallel     Strategy = "hybrid_parallel"
	StructureAggregate Strategy = "structure_aggregate"
	StructureVerify    Strategy = "structure_verify"
	NarrativeOrdered   Strategy = "narrative_ordered"
	HybridBalanced     Strategy = "hybrid_balanced"
)

// strategyByIntent maps each intent to its retrieval strategy.
var strategyByIntent = map[Intent]Strategy{
	FactExtraction: StructureFirst,
	Explanation:    NarrativeFirst,
	Comparison:     HybridParallel,
	Enumeration:    StructureAggregate,
	Verification:   StructureVerify,
	Procedural:     NarrativeOrdered,
	Unknown:        HybridBalanced,
}

type intentRule struct {
	pattern *regexp.Regexp
	intent  Intent
	boost   float64
}

func rule(pattern string, intent Intent, boost float64) intentRule {
	return intentRule{regexp.MustCompile(pattern), intent, boost}
}

// intentRules score intents by accumulating boosts from every matching
// pattern. Queries are lowercased before matching.
var intentRules = []intentRule{
	rule(`\b(what is|what's|what are)\b`, FactExtraction, 0.3),
	rule(`\b(how much|how many|price|cost)\b`, FactExtraction, 0.4),
	rule(`\b(when did|when was|when is)\b`, FactExtraction, 0.3),
	rule(`\b(who is|who was|who are)\b`, FactExtraction, 0.3),
	rule(`\b(where is|where are)\b`, FactExtraction, 0.3),

	rule(`\b(explain|describe|tell me about)\b`, Explanation, 0.4),
	rule(`\b(why does|why is|why do)\b`, Explanation, 0.3),
	rule(`\b(how does|how do)\b`, Explanation, 0.3),
	rule(`\b(what does .+ mean)\b`, Explanation, 0.3),

	rule(`\b(compare|comparison|versus|vs\.?)\b`, Comparison, 0.5),
	rule(`\b(difference between|differ from)\b`, Comparison, 0.5),
	rule(`\b(better|worse|faster|slower) than\b`, Comparison, 0.4),
	rule(`\b(which is|which one)\b`, Comparison, 0.3),

	rule(`\b(list|enumerate|show all)\b`, Enumeration, 0.5),
	rule(`\b(what are the|what are all)\b`, Enumeration, 0.4),
	rule(`\b(how many .+ are there)\b`, Enumeration, 0.4),
	rule(`\b(all the|every)\b`, Enumeration, 0.3),

	rule(`\b(is it true|is it correct)\b`, Verification, 0.5),
	rule(`\b(does .+ (support|have|include))\b`, Verification, 0.4),
	rule(`\b(can .+ (do|be|have))\b`, Verification, 0.3),
	rule(`\b(verify|confirm|check if)\b`, Verification, 0.5),

	rule(`\b(how (do|can|to) i)\b`, Procedural, 0.5),
	rule(`\b(steps to|guide to|tutorial)\b`, Procedural, 0.5),
	rule(`\b(instructions for|how to)\b`, Procedural, 0.4),
}

// scoreOrder fixes the tie-break: when two intents score equally, the one
// listed first wins.
var scoreOrder = []Intent{
	FactExtraction, Explanation, Comparison,
	Enumeration, Verification, Procedural,
}

var (
	quotedPattern     = regexp.MustCompile(`"([^"]+)"`)
	nonWordPattern    = regexp.MustCompile(`[^\w]`)
	queryDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d{4}[-/]\d{1,2}[-/]\d{1,2})`),
		regexp.MustCompile(`(?i)((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})`),
	}
	queryPricePattern   = regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`)
	queryNumberPattern  = regexp.MustCompile(`\b(\d+)\b`)
	queryVersionPattern = regexp.MustCompile(`v?(\d+\.\d+(?:\.\d+)?)`)
)

// Constraints are concrete values mentioned in the query that the router
// can filter on.
type Constraints struct {
	Dates    []string  `json:"dates,omitempty"`
	Prices   []float64 `json:"prices,omitempty"`
	Numbers  []int     `json:"numbers,omitempty"`
	Versions []string  `json:"versions,omitempty"`
}

// Classified is the outcome of intent classification.
type Classified struct {
	Query      string      `json:"query"`
	Intent     Intent      `json:"intent"`
	Strategy   Strategy    `json:"strategy"`
	Confidence float64     `json:"confidence"`
	Entities   []string    `json:"extracted_entities,omitempty"`
	Constraint Constraints `json:"constraints"`
}

// Classifier scores queries against intent patterns. Stateless and safe for
// concurrent use.
type Classifier struct{}

// NewClassifier creates an intent classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify determines the intent, strategy, and extractable values of a
// query. Weak signals (best score below 0.2) fall back to the balanced
// hybrid strategy with low confidence.
func (c *Classifier) Classify(query string) Classified {
	lower := strings.ToLower(query)

	scores := make(map[Intent]float64, len(scoreOrder))
	for _, r := range intentRules {
		if r.pattern.MatchString(lower) {
			scores[r.intent] += r.boost
		}
	}

	best := Unknown
	bestScore := 0.0
	for _, intent := range scoreOrder {
		if scores[intent] > bestScore {
			best = intent
			bestScore = scores[intent]
		}
	}

	var confidence float64
	if bestScore < 0.2 {
		best = Unknown
		confidence = 0.3
	} else {
		confidence = 0.5 + bestScore
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	return Classified{
		Query:      query,
		Intent:     best,
		Strategy:   strategyByIntent[best],
		Confidence: confidence,
		Entities:   extractEntities(query),
		Constraint: extractConstraints(query),
	}
}

// extractEntities pulls quoted phrases and capitalized non-leading words
// out of the query. These are candidate proper nouns for targeted lookups.
func extractEntities(query string) []string {
	var entities []string
	for _, m := range quotedPattern.FindAllStringSubmatch(query, -1) {
		entities = append(entities, m[1])
	}

	words := strings.Fields(query)
	for i, word := range words {
		if i == 0 || len(word) <= 2 {
			continue
		}
		r := []rune(word)
		if !unicode.IsUpper(r[0]) {
			continue
		}
		if clean := nonWordPattern.ReplaceAllString(word, ""); clean != "" {
			entities = append(entities, clean)
		}
	}
	return entities
}

func extractConstraints(query string) Constraints {
	var c Constraints
	for _, pattern := range queryDatePatterns {
		for _, m := range pattern.FindAllStringSubmatch(query, -1) {
			c.Dates = append(c.Dates, m[1])
		}
	}
	for _, m := range queryPricePattern.FindAllStringSubmatch(query, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			c.Prices = append(c.Prices, v)
		}
	}
	for _, m := range queryNumberPattern.FindAllStringSubmatch(query, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			c.Numbers = append(c.Numbers, n)
		}
	}
	for _, m := range queryVersionPattern.FindAllStringSubmatch(query, -1) {
		c.Versions = append(c.Versions, m[1])
	}
	return c
}
