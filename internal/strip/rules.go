// Package strip removes navigation, boilerplate, and other noise from raw
// content, producing a clean markdown or plaintext narrative.
package strip

import "regexp"

// Rules defines what counts as noise. Callers can swap in their own rules
// for site-specific cleanup; DefaultRules covers common web chrome.
type Rules struct {
	// NoiseTags are removed from the DOM wholesale, subtree included.
	NoiseTags map[string]bool
	// NoisePatterns match against class and id attributes.
	NoisePatterns []*regexp.Regexp
	// BoilerplatePatterns match short text lines that carry no content.
	BoilerplatePatterns []*regexp.Regexp
}

// boilerplateMaxLineLen guards against dropping real prose that merely
// mentions a boilerplate phrase. Only short lines are candidates.
const boilerplateMaxLineLen = 100

// DefaultRules returns the built-in noise definitions.
func DefaultRules() Rules {
	tags := []string{
		"nav", "header", "footer", "aside",
		"script", "style", "noscript", "iframe",
		"form", "button", "input", "select", "textarea",
		"svg", "canvas", "video", "audio", "map",
		"object", "embed",
	}
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	noisePatterns := []string{
		`nav(igation)?`,
		`menu`,
		`sidebar`,
		`footer`,
		`header`,
		`cookie[-_]?(consent|banner|notice)`,
		`gdpr`,
		`privacy[-_]?policy`,
		`newsletter`,
		`subscribe`,
		`social[-_]?(share|links|media)`,
		`advertisement`,
		`ad[-_](banner|container|wrapper)`,
		`popup`,
		`modal`,
		`overlay`,
		`breadcrumb`,
		`pagination`,
		`related[-_]?(posts|articles)`,
		`comment(s|[-_]section)?`,
	}
	boilerplatePatterns := []string{
		`©\s*\d{4}`,
		`all rights reserved`,
		`terms of (service|use)`,
		`privacy policy`,
		`cookie policy`,
		`subscribe to (our )?newsletter`,
		`follow us on`,
		`share (this|on)`,
		`click here to`,
		`read more\.{3}`,
		`loading\.{3}`,
		`please wait`,
	}

	r := Rules{NoiseTags: tagSet}
	for _, p := range noisePatterns {
		r.NoisePatterns = append(r.NoisePatterns, regexp.MustCompile(`(?i)`+p))
	}
	for _, p := range boilerplatePatterns {
		r.BoilerplatePatterns = append(r.BoilerplatePatterns, regexp.MustCompile(`(?i)`+p))
	}
	return r
}

// isNoiseAttr reports whether a class or id attribute value marks the
// element as noise.
func (r Rules) isNoiseAttr(value string) bool {
	for _, p := range r.NoisePatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// isBoilerplateLine reports whether a trimmed text line is boilerplate.
// Long lines are never boilerplate.
func (r Rules) isBoilerplateLine(line string) bool {
	if len(line) >= boilerplateMaxLineLen {
		return false
	}
	for _, p := range r.BoilerplatePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
