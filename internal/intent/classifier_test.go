package intent

import (
	"testing"
)

func TestClassifyStrategies(t *testing.T) {
	tests := []struct {
		query    string
		intent   Intent
		strategy Strategy
	}{
		{"What is the price of the Pro plan?", FactExtraction, StructureFirst},
		{"How much does the Enterprise tier cost?", FactExtraction, StructureFirst},
		{"Explain how the binding process works", Explanation, NarrativeFirst},
		{"Compare the Basic and Pro plans", Comparison, HybridParallel},
		{"List all available integrations", Enumeration, StructureAggregate},
		{"Is it true that refunds take 30 days?", Verification, StructureVerify},
		{"How do I configure the webhook?", Procedural, NarrativeOrdered},
		{"blargh quux xyzzy", Unknown, HybridBalanced},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := NewClassifier().Classify(tt.query)
			if got.Intent != tt.intent {
				t.Errorf("intent = %s, want %s", got.Intent, tt.intent)
			}
			if got.Strategy != tt.strategy {
				t.Errorf("strategy = %s, want %s", got.Strategy, tt.strategy)
			}
		})
	}
}

func TestClassifyConfidence(t *testing.T) {
	c := NewClassifier()

	strong := c.Classify("What is the price of the Pro plan?")
	if strong.Confidence < 0.5 {
		t.Errorf("strong signal confidence = %f, want >= 0.5", strong.Confidence)
	}

	unknown := c.Classify("purple elephants dancing")
	if unknown.Confidence != 0.3 {
		t.Errorf("unknown confidence = %f, want 0.3", unknown.Confidence)
	}

	// Boosts accumulate but confidence is capped.
	stacked := c.Classify("what is the price and cost and how much, who is it, where is it, when was it")
	if stacked.Confidence > 0.95 {
		t.Errorf("confidence = %f, want <= 0.95", stacked.Confidence)
	}
}

func TestClassifyExtractedEntities(t *testing.T) {
	got := NewClassifier().Classify(`What is the price of the Pro plan?`)
	found := false
	for _, e := range got.Entities {
		if e == "Pro" {
			found = true
		}
	}
	if !found {
		t.Errorf("entities = %v, want to contain Pro", got.Entities)
	}

	quoted := NewClassifier().Classify(`Tell me about "envelope integrity" checks`)
	foundQuoted := false
	for _, e := range quoted.Entities {
		if e == "envelope integrity" {
			foundQuoted = true
		}
	}
	if !foundQuoted {
		t.Errorf("entities = %v, want quoted phrase", quoted.Entities)
	}
}

func TestClassifyLeadingCapitalIgnored(t *testing.T) {
	got := NewClassifier().Classify("Compare apples to oranges")
	for _, e := range got.Entities {
		if e == "Compare" {
			t.Error("sentence-initial word extracted as entity")
		}
	}
}

func TestClassifyConstraints(t *testing.T) {
	got := NewClassifier().Classify("Was version 2.1.3 released on 2025-12-28 for $49.99 to 100 users?")

	if len(got.Constraint.Dates) != 1 || got.Constraint.Dates[0] != "2025-12-28" {
		t.Errorf("dates = %v", got.Constraint.Dates)
	}
	if len(got.Constraint.Prices) != 1 || got.Constraint.Prices[0] != 49.99 {
		t.Errorf("prices = %v", got.Constraint.Prices)
	}
	if len(got.Constraint.Versions) == 0 || got.Constraint.Versions[0] != "2.1.3" {
		t.Errorf("versions = %v", got.Constraint.Versions)
	}
	hasNumber := false
	for _, n := range got.Constraint.Numbers {
		if n == 100 {
			hasNumber = true
		}
	}
	if !hasNumber {
		t.Errorf("numbers = %v, want to contain 100", got.Constraint.Numbers)
	}
}
