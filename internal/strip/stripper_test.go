package strip

import (
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Acme Pricing</title><style>body { color: red; }</style></head>
<body>
<nav><a href="/">Home</a><a href="/pricing">Pricing</a></nav>
<div class="cookie-banner">We use cookies. <button>Accept</button></div>
<main>
<h1>Pricing</h1>
<p>The <strong>Pro</strong> plan costs $49.99/month.</p>
<h2>Features</h2>
<ul><li>Unlimited projects</li><li>Priority support</li></ul>
<pre><code class="language-go">fmt.Println("hi")</code></pre>
</main>
<footer>© 2024 Acme Corp. All rights reserved.</footer>
<script>trackVisit();</script>
</body>
</html>`

func TestStripHTML(t *testing.T) {
	s := NewStripper()

	res, err := s.StripHTML(samplePage)
	if err != nil {
		t.Fatalf("StripHTML() error = %v", err)
	}

	if res.Format != "markdown" {
		t.Errorf("format = %s, want markdown", res.Format)
	}
	if !strings.Contains(res.Content, "# Pricing") {
		t.Errorf("missing h1 conversion:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "$49.99/month") {
		t.Errorf("lost body content:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "**Pro** plan") {
		t.Errorf("inline emphasis mangled:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "- Unlimited projects") {
		t.Errorf("list not converted:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "```go") {
		t.Errorf("code fence language lost:\n%s", res.Content)
	}

	for _, noise := range []string{"cookies", "Home", "All rights reserved", "trackVisit", "color: red"} {
		if strings.Contains(res.Content, noise) {
			t.Errorf("noise survived strip: %q in\n%s", noise, res.Content)
		}
	}

	if res.NoiseScore <= 0 || res.NoiseScore > 1 {
		t.Errorf("noise score = %f, want in (0,1]", res.NoiseScore)
	}
	if res.TokenCount <= 0 {
		t.Errorf("token count = %d, want > 0", res.TokenCount)
	}
}

func TestStripHTMLDropsLinkHrefs(t *testing.T) {
	s := NewStripper()

	res, err := s.StripHTML(`<html><body><main><p>See <a href="https://example.com/x">the docs</a> now.</p></main></body></html>`)
	if err != nil {
		t.Fatalf("StripHTML() error = %v", err)
	}
	if !strings.Contains(res.Content, "See the docs now.") {
		t.Errorf("anchor text not kept inline:\n%s", res.Content)
	}
	for _, leaked := range []string{"https://example.com/x", "[the docs]", "]("} {
		if strings.Contains(res.Content, leaked) {
			t.Errorf("link href survived strip: %q in\n%s", leaked, res.Content)
		}
	}
}

func TestStripHTMLNoiseByClass(t *testing.T) {
	page := `<html><body>
<div class="sidebar-widget">Trending now</div>
<div id="comments-section">Great post!</div>
<div class="content"><p>Real article text here.</p></div>
</body></html>`

	res, err := NewStripper().StripHTML(page)
	if err != nil {
		t.Fatalf("StripHTML() error = %v", err)
	}
	if !strings.Contains(res.Content, "Real article text") {
		t.Errorf("content region lost:\n%s", res.Content)
	}
	if strings.Contains(res.Content, "Trending") || strings.Contains(res.Content, "Great post") {
		t.Errorf("class/id noise survived:\n%s", res.Content)
	}
}

func TestStripHTMLNoMainFallsBackToBody(t *testing.T) {
	res, err := NewStripper().StripHTML(`<html><body><p>plain body text</p></body></html>`)
	if err != nil {
		t.Fatalf("StripHTML() error = %v", err)
	}
	if !strings.Contains(res.Content, "plain body text") {
		t.Errorf("body fallback failed:\n%s", res.Content)
	}
}

func TestStripText(t *testing.T) {
	text := "Useful paragraph about widgets.\n\nSubscribe to our newsletter!\n\n© 2024 Acme\n\nMore useful text."
	res := NewStripper().StripText(text)

	if res.Format != "plaintext" {
		t.Errorf("format = %s, want plaintext", res.Format)
	}
	if strings.Contains(res.Content, "newsletter") || strings.Contains(res.Content, "© 2024") {
		t.Errorf("boilerplate survived:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "Useful paragraph") || !strings.Contains(res.Content, "More useful text") {
		t.Errorf("real content lost:\n%s", res.Content)
	}
}

func TestStripTextKeepsLongLines(t *testing.T) {
	long := "This sentence mentions the privacy policy of the vendor in passing while discussing the actual obligations the contract imposes on both parties."
	res := NewStripper().StripText(long)
	if !strings.Contains(res.Content, "privacy policy") {
		t.Error("long prose line dropped as boilerplate")
	}
}

func TestStripTextIdempotent(t *testing.T) {
	text := "# Title\n\n\n\nBody line.\n\nFollow us on Twitter\n"
	first := NewStripper().StripText(text)
	second := NewStripper().StripText(first.Content)
	if first.Content != second.Content {
		t.Errorf("strip not idempotent:\nfirst:  %q\nsecond: %q", first.Content, second.Content)
	}
	if second.NoiseScore != 0 {
		t.Errorf("second pass noise score = %f, want 0", second.NoiseScore)
	}
}

func TestCleanupMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses newlines", "a\n\n\n\n\nb", "a\n\nb"},
		{"strips line edges", "  a  \n\tb\t", "a\nb"},
		{"drops empty headers", "## \ntext", "text"},
		{"trims document", "\n\nhello\n\n", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanupMarkdown(tt.in); got != tt.want {
				t.Errorf("cleanupMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderTable(t *testing.T) {
	page := `<html><body><main><table>
<tr><th>Plan</th><th>Price</th></tr>
<tr><td>Basic</td><td>$9.99</td></tr>
</table></main></body></html>`

	res, err := NewStripper().StripHTML(page)
	if err != nil {
		t.Fatalf("StripHTML() error = %v", err)
	}
	if !strings.Contains(res.Content, "| Plan | Price |") {
		t.Errorf("table header not converted:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "| --- | --- |") {
		t.Errorf("separator row missing:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "| Basic | $9.99 |") {
		t.Errorf("table row not converted:\n%s", res.Content)
	}
}
