package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/tsutsumi/internal/models"
)

const pricingHTML = `<html><body>
<nav><a href="/">Home</a></nav>
<main>
<h1>Pricing</h1>
<p>The Pro plan is $49.99/month.</p>
<h2>Contact</h2>
<p>Reach us at sales@example.com.</p>
</main>
<footer>© 2024 Acme. All rights reserved.</footer>
</body></html>`

func TestProcessHTML(t *testing.T) {
	env, report, err := NewPipeline().ProcessHTML(context.Background(), pricingHTML, "https://example.com/pricing", "")
	if err != nil {
		t.Fatalf("ProcessHTML() error = %v", err)
	}

	if env.Source.Type != "web" || env.Source.URI != "https://example.com/pricing" {
		t.Errorf("source = %+v", env.Source)
	}
	if env.Narrative.Format != "markdown" {
		t.Errorf("format = %s", env.Narrative.Format)
	}
	if len(env.Anchors) == 0 {
		t.Fatal("no anchors generated")
	}
	if !env.VerifyIntegrity() {
		t.Error("fresh envelope fails integrity check")
	}

	var price *models.Entity
	for i := range env.Entities {
		if env.Entities[i].Type == "PriceSpecification" {
			price = &env.Entities[i]
		}
	}
	if price == nil {
		t.Fatal("no price entity extracted")
	}
	if price.BindingMethod != "line_match" || price.BindingConfidence != 1.0 {
		t.Errorf("price binding = %s/%f, want line_match/1.0", price.BindingMethod, price.BindingConfidence)
	}
	if price.AnchorRef == "" {
		t.Error("price entity unbound")
	}

	section, ok := env.SectionByAnchor(price.AnchorRef)
	if !ok || !strings.Contains(section, "$49.99/month") {
		t.Errorf("anchor ref does not resolve to price context: %q", section)
	}

	if report.Binding.Total != len(env.Entities) {
		t.Errorf("report total = %d, entities = %d", report.Binding.Total, len(env.Entities))
	}
	if report.Validation == nil || !report.Validation.Valid {
		t.Errorf("validation = %+v", report.Validation)
	}
	if report.NoiseStripping.TokensRemoved <= 0 {
		t.Errorf("tokens_removed = %d, want > 0", report.NoiseStripping.TokensRemoved)
	}
}

func TestProcessMarkdownMinimal(t *testing.T) {
	md := "# Pricing\n\nThe Pro plan is $49.99/month.\n"
	env, _, err := NewPipeline().ProcessMarkdown(context.Background(), md, "file:///pricing.md", "")
	if err != nil {
		t.Fatalf("ProcessMarkdown() error = %v", err)
	}

	sections := 0
	var sectionID string
	for id, a := range env.Anchors {
		if a.Type == models.AnchorSection {
			sections++
			sectionID = id
			if a.Title != "Pricing" {
				t.Errorf("section title = %q, want Pricing", a.Title)
			}
		}
	}
	if sections != 1 {
		t.Fatalf("got %d sections, want 1", sections)
	}

	var prices []models.Entity
	for _, e := range env.Entities {
		if e.Type == "PriceSpecification" {
			prices = append(prices, e)
		}
	}
	if len(prices) != 1 {
		t.Fatalf("got %d prices, want 1", len(prices))
	}
	p := prices[0]
	if p.Properties["value"] != 49.99 || p.Properties["currency"] != "USD" || p.Properties["period"] != "month" {
		t.Errorf("price properties = %+v", p.Properties)
	}
	if p.AnchorRef != "#"+sectionID {
		t.Errorf("anchor_ref = %s, want #%s", p.AnchorRef, sectionID)
	}
	if p.BindingMethod != "line_match" || p.BindingConfidence != 1.0 {
		t.Errorf("binding = %s/%f", p.BindingMethod, p.BindingConfidence)
	}
}

func TestProcessDeterministicID(t *testing.T) {
	ctx := context.Background()
	md := "# Title\n\nStable content."
	first, _, err := NewPipeline().ProcessMarkdown(ctx, md, "file:///a.md", "")
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := NewPipeline().ProcessMarkdown(ctx, md, "file:///b.md", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("same content produced different envelope IDs: %s vs %s", first.ID, second.ID)
	}
}

func TestProcessCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := NewPipeline().ProcessText(ctx, "text", "file:///x.txt", ""); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestProcessWithoutValidation(t *testing.T) {
	_, report, err := NewPipeline(WithValidation(false)).ProcessText(context.Background(), "Call us at sales@example.com", "file:///c.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Validation != nil {
		t.Error("validation report present with validation disabled")
	}
}
