package retrieval

import (
	"strings"
	"testing"

	"github.com/hyperjump/tsutsumi/internal/models"
)

func narrativeResult(source, anchorID, content string, score float64) models.RetrievalResult {
	return models.RetrievalResult{
		Type:     models.ResultNarrative,
		SourceID: source,
		AnchorID: anchorID,
		Content:  content,
		Score:    score,
	}
}

func TestAssembleFormat(t *testing.T) {
	results := []models.RetrievalResult{
		{
			Type:     models.ResultStructured,
			SourceID: "doc-aaaa1111",
			AnchorID: "#anchor-pricing-1",
			Content:  "## Pricing\n\n$49.99/month",
			Score:    0.9,
			Entities: []models.Entity{{
				Type:       "PriceSpecification",
				Properties: map[string]any{"value": 49.99, "currency": "USD"},
				AnchorRef:  "#anchor-pricing-1",
			}},
		},
	}

	ctx := NewAssembler().Assemble(results, "What is the price?", true)

	if !strings.Contains(ctx.FormattedContext, "## Query\nWhat is the price?") {
		t.Error("query header missing")
	}
	if !strings.Contains(ctx.FormattedContext, "### Source 1 [90% confidence]") {
		t.Errorf("source header wrong:\n%s", ctx.FormattedContext)
	}
	if !strings.Contains(ctx.FormattedContext, "`doc:doc-aaaa1111#anchor-pricing-1`") {
		t.Errorf("citation wrong:\n%s", ctx.FormattedContext)
	}
	if !strings.Contains(ctx.FormattedContext, "#### Structured Facts") {
		t.Error("structured facts block missing")
	}
	if !strings.Contains(ctx.FormattedContext, `"@type":"PriceSpecification"`) {
		t.Error("entity JSON missing")
	}
	if !strings.Contains(ctx.FormattedContext, "> ## Pricing") {
		t.Error("narrative not quoted")
	}

	if len(ctx.Citations) != 1 {
		t.Fatalf("citations = %d", len(ctx.Citations))
	}
	c := ctx.Citations[0]
	if c.Index != 1 || c.SourceID != "doc-aaaa1111" || c.AnchorID != "anchor-pricing-1" {
		t.Errorf("citation = %+v", c)
	}
	if ctx.SourceCount != 1 {
		t.Errorf("source_count = %d", ctx.SourceCount)
	}
}

func TestAssembleDedupeKeepsFirst(t *testing.T) {
	results := []models.RetrievalResult{
		narrativeResult("doc-1", "a1", "first copy", 0.9),
		narrativeResult("doc-1", "a1", "second copy", 0.5),
		narrativeResult("doc-2", "b1", "different", 0.7),
	}

	ctx := NewAssembler().Assemble(results, "q", false)
	if len(ctx.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(ctx.Citations))
	}
	if !strings.Contains(ctx.FormattedContext, "first copy") {
		t.Error("first duplicate not kept")
	}
	if strings.Contains(ctx.FormattedContext, "second copy") {
		t.Error("duplicate survived")
	}
}

func TestAssembleSortsByScore(t *testing.T) {
	results := []models.RetrievalResult{
		narrativeResult("doc-1", "low", "low score content", 0.2),
		narrativeResult("doc-2", "high", "high score content", 0.95),
	}

	ctx := NewAssembler().Assemble(results, "q", false)
	highPos := strings.Index(ctx.FormattedContext, "high score content")
	lowPos := strings.Index(ctx.FormattedContext, "low score content")
	if highPos < 0 || lowPos < 0 || highPos > lowPos {
		t.Errorf("results not sorted by score:\n%s", ctx.FormattedContext)
	}
	if ctx.Citations[0].AnchorID != "high" {
		t.Errorf("first citation = %+v", ctx.Citations[0])
	}
}

func TestAssembleTruncation(t *testing.T) {
	long := strings.Repeat("word ", 400)
	results := []models.RetrievalResult{
		narrativeResult("doc-1", "a1", long, 0.9),
		narrativeResult("doc-2", "a2", long, 0.8),
	}

	ctx := NewAssembler(WithMaxTokens(600)).Assemble(results, "q", false)
	if !strings.Contains(ctx.FormattedContext, "*[Context truncated due to length limit]*") {
		t.Error("truncation notice missing")
	}
	if len(ctx.Citations) != 1 {
		t.Errorf("citations = %d, want 1 (second section over budget)", len(ctx.Citations))
	}
	if ctx.TotalTokens > 600 {
		t.Errorf("total_tokens = %d, exceeds budget", ctx.TotalTokens)
	}
}

func TestAssembleWithoutQueryHeader(t *testing.T) {
	ctx := NewAssembler().Assemble([]models.RetrievalResult{
		narrativeResult("doc-1", "a1", "content", 0.5),
	}, "hidden query", false)
	if strings.Contains(ctx.FormattedContext, "hidden query") {
		t.Error("query leaked into headerless context")
	}
}

func TestAssembleIntegrityStatus(t *testing.T) {
	results := []models.RetrievalResult{
		narrativeResult("doc-1", "#a1", "first", 0.9),
		narrativeResult("doc-2", "#b1", "second", 0.7),
	}

	ctx := NewAssembler().Assemble(results, "q", false)
	if len(ctx.IntegrityStatus) != 2 {
		t.Fatalf("integrity_status entries = %d, want 2", len(ctx.IntegrityStatus))
	}
	for _, id := range []string{"doc-1", "doc-2"} {
		status, ok := ctx.IntegrityStatus[id]
		if !ok {
			t.Fatalf("integrity_status missing %s", id)
		}
		if !status.Verified {
			t.Errorf("%s not verified by default", id)
		}
	}
	if ctx.IntegrityStatus["doc-1"].AnchorID != "a1" {
		t.Errorf("anchor_id = %q, want a1", ctx.IntegrityStatus["doc-1"].AnchorID)
	}
}

func TestAssembleIntegrityVerifierFailure(t *testing.T) {
	results := []models.RetrievalResult{
		narrativeResult("doc-bad", "a1", "tampered", 0.9),
		narrativeResult("doc-good", "b1", "intact", 0.7),
	}

	ctx := NewAssembler(WithIntegrityVerifier(func(sourceID string) bool {
		return sourceID != "doc-bad"
	})).Assemble(results, "q", false)

	if ctx.IntegrityStatus["doc-bad"].Verified {
		t.Error("doc-bad reported verified")
	}
	if !ctx.IntegrityStatus["doc-good"].Verified {
		t.Error("doc-good reported unverified")
	}
}

func TestAssembleIntegritySkipsAggregates(t *testing.T) {
	results := []models.RetrievalResult{{
		Type: models.ResultAggregate, SourceID: "aggregate", Score: 1.0,
		Entities: []models.Entity{{Type: "URL", Properties: map[string]any{"url": "https://example.com"}}},
	}}

	ctx := NewAssembler().Assemble(results, "q", false)
	if len(ctx.IntegrityStatus) != 0 {
		t.Errorf("aggregate result produced integrity entries: %+v", ctx.IntegrityStatus)
	}
}

func TestAssembleEntityCap(t *testing.T) {
	entities := make([]models.Entity, 5)
	for i := range entities {
		entities[i] = models.Entity{Type: "URL", Properties: map[string]any{"url": "https://example.com"}}
	}
	results := []models.RetrievalResult{{
		Type: models.ResultAggregate, SourceID: "aggregate", Score: 1.0, Entities: entities,
	}}

	ctx := NewAssembler().Assemble(results, "q", false)
	if n := strings.Count(ctx.FormattedContext, `"@type":"URL"`); n != 3 {
		t.Errorf("rendered %d entities, want 3", n)
	}
}
