package retrieval

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/tsutsumi/internal/models"
	"github.com/hyperjump/tsutsumi/pkg/utils"
)

// maxEntitiesPerSection caps the structured facts shown per result.
const maxEntitiesPerSection = 3

// truncationNotice is appended when the token budget cuts the context short.
const truncationNotice = "\n*[Context truncated due to length limit]*"

// Citation attributes one context section back to its source.
type Citation struct {
	Index    int     `json:"index"`
	SourceID string  `json:"source_id"`
	AnchorID string  `json:"anchor_id,omitempty"`
	Score    float64 `json:"score"`
	Type     string  `json:"type"`
}

// SourceIntegrity records whether a source envelope passed hash verification
// when its content entered the context.
type SourceIntegrity struct {
	Verified bool   `json:"verified"`
	AnchorID string `json:"anchor_id,omitempty"`
}

// AssembledContext is the final, model-ready context package.
type AssembledContext struct {
	FormattedContext string                     `json:"formatted_context"`
	TotalTokens      int                        `json:"total_tokens"`
	SourceCount      int                        `json:"source_count"`
	Citations        []Citation                 `json:"citations"`
	IntegrityStatus  map[string]SourceIntegrity `json:"integrity_status"`
}

// Assembler formats retrieval results into a markdown context block with
// citations, deduplicated and trimmed to a token budget.
type Assembler struct {
	maxTokens       int
	tokensPerWord   float64
	includeEntities bool
	verifySource    func(sourceID string) bool
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithMaxTokens sets the context token budget.
func WithMaxTokens(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTokensPerWord overrides the token estimation ratio.
func WithTokensPerWord(ratio float64) AssemblerOption {
	return func(a *Assembler) {
		if ratio > 0 {
			a.tokensPerWord = ratio
		}
	}
}

// WithEntities toggles the structured facts blocks.
func WithEntities(include bool) AssemblerOption {
	return func(a *Assembler) { a.includeEntities = include }
}

// WithIntegrityVerifier sets the hash check run per source envelope while
// assembling. Without one, sources are reported as verified: storage
// round-trips whole envelopes, so their hashes cannot drift in transit.
func WithIntegrityVerifier(fn func(sourceID string) bool) AssemblerOption {
	return func(a *Assembler) { a.verifySource = fn }
}

// NewAssembler creates an assembler with a 4000 token budget.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		maxTokens:       4000,
		tokensPerWord:   1.3,
		includeEntities: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble dedupes, sorts, and formats results. When two results share a
// (source, anchor) pair the first encountered wins; after dedup, results
// are ordered by descending score and appended until the next section would
// blow the token budget.
func (a *Assembler) Assemble(results []models.RetrievalResult, query string, includeQuery bool) AssembledContext {
	deduped := dedupe(results)
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})

	var sections []string
	var citations []Citation
	integrityStatus := make(map[string]SourceIntegrity)
	verified := make(map[string]bool)
	totalTokens := 0

	if includeQuery {
		header := fmt.Sprintf("## Query\n%s\n\n## Retrieved Context\n", query)
		sections = append(sections, header)
		totalTokens += utils.EstimateTokens(header, a.tokensPerWord)
	}

	for i, result := range deduped {
		section := a.formatResult(result, i+1)
		sectionTokens := utils.EstimateTokens(section, a.tokensPerWord)
		if totalTokens+sectionTokens > a.maxTokens {
			sections = append(sections, truncationNotice)
			break
		}
		sections = append(sections, section)
		totalTokens += sectionTokens
		citations = append(citations, Citation{
			Index:    i + 1,
			SourceID: result.SourceID,
			AnchorID: strings.TrimPrefix(result.AnchorID, "#"),
			Score:    result.Score,
			Type:     string(result.Type),
		})
		// Aggregate results span envelopes and have no single hash to check.
		if result.Type != models.ResultAggregate {
			if _, checked := verified[result.SourceID]; !checked {
				verified[result.SourceID] = a.verifySource == nil || a.verifySource(result.SourceID)
			}
			integrityStatus[result.SourceID] = SourceIntegrity{
				Verified: verified[result.SourceID],
				AnchorID: strings.TrimPrefix(result.AnchorID, "#"),
			}
		}
	}

	sources := make(map[string]bool)
	for _, r := range deduped {
		sources[r.SourceID] = true
	}

	return AssembledContext{
		FormattedContext: strings.Join(sections, "\n"),
		TotalTokens:      totalTokens,
		SourceCount:      len(sources),
		Citations:        citations,
		IntegrityStatus:  integrityStatus,
	}
}

func dedupe(results []models.RetrievalResult) []models.RetrievalResult {
	seen := make(map[string]bool)
	var out []models.RetrievalResult
	for _, r := range results {
		key := r.SourceID + ":" + r.AnchorID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func (a *Assembler) formatResult(result models.RetrievalResult, index int) string {
	var lines []string

	citation := "doc:" + result.SourceID
	if result.AnchorID != "" {
		citation += "#" + strings.TrimPrefix(result.AnchorID, "#")
	}

	lines = append(lines, fmt.Sprintf("### Source %d [%.0f%% confidence]", index, result.Score*100))
	lines = append(lines, fmt.Sprintf("**Citation**: `%s`", citation))
	lines = append(lines, "")

	if a.includeEntities && len(result.Entities) > 0 {
		lines = append(lines, "#### Structured Facts", "```json")
		capped := result.Entities
		if len(capped) > maxEntitiesPerSection {
			capped = capped[:maxEntitiesPerSection]
		}
		for _, entity := range capped {
			lines = append(lines, formatEntityJSON(entity))
		}
		lines = append(lines, "```", "")
	}

	if result.Content != "" {
		lines = append(lines, "#### Narrative Context")
		for _, contentLine := range strings.Split(strings.TrimSpace(result.Content), "\n") {
			lines = append(lines, "> "+contentLine)
		}
		lines = append(lines, "")
	}

	lines = append(lines, "---", "")
	return strings.Join(lines, "\n")
}

// formatEntityJSON renders one entity compactly, without binding internals.
func formatEntityJSON(entity models.Entity) string {
	m := make(map[string]any, len(entity.Properties)+2)
	m["@type"] = entity.Type
	for k, v := range entity.Properties {
		m[k] = v
	}
	if entity.AnchorRef != "" {
		m["anchor_ref"] = entity.AnchorRef
	}
	data, err := json.Marshal(m)
	if err != nil {
		return `{"@type":"` + entity.Type + `"}`
	}
	return string(data)
}
