package models

import (
	"strings"
	"testing"
)

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	narrative := "# Pricing\n\nThe Pro plan costs $49.99/month.\n\n# Contact\n\nEmail us at sales@example.com."
	env, err := NewBuilder().
		WithSource(NewSource("https://example.com/pricing", "web")).
		WithNarrative(Narrative{Format: "markdown", Content: narrative, TokenCount: 18, NoiseScore: 0.4}).
		WithAnchors([]Anchor{
			{ID: "anchor-pricing-abcd1234", LineStart: 0, LineEnd: 3, Type: AnchorSection, Title: "Pricing"},
			{ID: "anchor-contact-ef567890", LineStart: 4, LineEnd: 6, Type: AnchorSection, Title: "Contact"},
		}).
		WithEntities([]Entity{
			{
				Type:              "PriceSpecification",
				Properties:        map[string]any{"value": 49.99, "currency": "USD", "period": "month"},
				AnchorRef:         "#anchor-pricing-abcd1234",
				BindingConfidence: 1.0,
				BindingMethod:     "line_match",
				SourceText:        "$49.99/month",
				LineNumber:        2,
			},
			{
				Type:              "ContactPoint",
				Properties:        map[string]any{"email": "sales@example.com", "contactType": "email"},
				AnchorRef:         "#anchor-contact-ef567890",
				BindingConfidence: 1.0,
				BindingMethod:     "line_match",
				SourceText:        "sales@example.com",
				LineNumber:        6,
			},
		}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return env
}

func TestBuilderRequiredFields(t *testing.T) {
	if _, err := NewBuilder().Build(); err != ErrMissingSource {
		t.Errorf("Build() without source: got %v, want ErrMissingSource", err)
	}
	_, err := NewBuilder().WithSource(NewSource("file:///a.md", "markdown")).Build()
	if err != ErrMissingNarrative {
		t.Errorf("Build() without narrative: got %v, want ErrMissingNarrative", err)
	}
}

func TestBuilderDeterministicID(t *testing.T) {
	env := testEnvelope(t)
	env2 := testEnvelope(t)
	if env.ID != env2.ID {
		t.Errorf("same narrative produced different IDs: %s vs %s", env.ID, env2.ID)
	}
	if !strings.HasPrefix(env.ID, "doc-") || len(env.ID) != len("doc-")+8 {
		t.Errorf("unexpected ID format: %s", env.ID)
	}
}

func TestSectionByAnchor(t *testing.T) {
	env := testEnvelope(t)

	section, ok := env.SectionByAnchor("anchor-pricing-abcd1234")
	if !ok {
		t.Fatal("SectionByAnchor() returned false for existing anchor")
	}
	if !strings.Contains(section, "$49.99/month") {
		t.Errorf("section missing expected content: %q", section)
	}
	if strings.Contains(section, "Contact") {
		t.Errorf("section includes lines beyond its range: %q", section)
	}

	withHash, ok := env.SectionByAnchor("#anchor-pricing-abcd1234")
	if !ok || withHash != section {
		t.Error("SectionByAnchor() should tolerate a leading '#'")
	}

	if _, ok := env.SectionByAnchor("anchor-missing-00000000"); ok {
		t.Error("SectionByAnchor() returned true for unknown anchor")
	}
}

func TestEntitiesByAnchor(t *testing.T) {
	env := testEnvelope(t)

	entities := env.EntitiesByAnchor("anchor-pricing-abcd1234")
	if len(entities) != 1 {
		t.Fatalf("EntitiesByAnchor() returned %d entities, want 1", len(entities))
	}
	if entities[0].Type != "PriceSpecification" {
		t.Errorf("unexpected entity type %s", entities[0].Type)
	}

	prefixed := env.EntitiesByAnchor("#anchor-pricing-abcd1234")
	if len(prefixed) != 1 {
		t.Errorf("EntitiesByAnchor() with '#' prefix returned %d entities, want 1", len(prefixed))
	}
}

func TestVerifyIntegrity(t *testing.T) {
	env := testEnvelope(t)
	if !env.VerifyIntegrity() {
		t.Error("VerifyIntegrity() = false for untouched envelope")
	}
	env.Narrative.Content += "\ntampered"
	if env.VerifyIntegrity() {
		t.Error("VerifyIntegrity() = true after narrative mutation")
	}
}

func TestWireRoundTrip(t *testing.T) {
	env := testEnvelope(t)

	data, err := env.MarshalWire()
	if err != nil {
		t.Fatalf("MarshalWire() error = %v", err)
	}
	got, err := UnmarshalWire(data)
	if err != nil {
		t.Fatalf("UnmarshalWire() error = %v", err)
	}

	if got.ID != env.ID || got.Version != env.Version {
		t.Errorf("round trip changed identity: %s/%s vs %s/%s", got.ID, got.Version, env.ID, env.Version)
	}
	if got.Narrative.Content != env.Narrative.Content {
		t.Error("round trip changed narrative content")
	}
	if len(got.Anchors) != len(env.Anchors) {
		t.Errorf("round trip changed anchor count: %d vs %d", len(got.Anchors), len(env.Anchors))
	}
	if len(got.Entities) != len(env.Entities) {
		t.Fatalf("round trip changed entity count: %d vs %d", len(got.Entities), len(env.Entities))
	}
	for _, ent := range got.Entities {
		if ent.AnchorRef == "" {
			t.Errorf("entity %s lost its anchor ref", ent.Type)
		}
		if _, ok := ent.Properties["@type"]; ok {
			t.Error("@type leaked into entity properties")
		}
	}
	if !got.VerifyIntegrity() {
		t.Error("round-tripped envelope fails integrity check")
	}
}

func TestRetrieveRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		req       RetrieveRequest
		wantErr   bool
		wantLimit int
	}{
		{"empty query", RetrieveRequest{}, true, 0},
		{"defaults limit", RetrieveRequest{Query: "pricing"}, false, 5},
		{"caps limit", RetrieveRequest{Query: "pricing", Limit: 500}, false, 50},
		{"keeps valid limit", RetrieveRequest{Query: "pricing", Limit: 10}, false, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(5, 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", tt.req.Limit, tt.wantLimit)
			}
		})
	}
}
