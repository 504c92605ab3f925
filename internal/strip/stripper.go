package strip

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/hyperjump/tsutsumi/pkg/utils"
)

// Result is the outcome of a strip pass. NoiseScore is the fraction of the
// original token estimate that was removed, clamped to [0,1].
type Result struct {
	Content        string
	Format         string // markdown or plaintext
	TokenCount     int
	OriginalTokens int
	NoiseScore     float64
}

// Stripper converts raw HTML or plain text into a clean narrative.
type Stripper struct {
	rules         Rules
	tokensPerWord float64
	logger        *zap.Logger
}

// Option configures a Stripper.
type Option func(*Stripper)

// WithRules replaces the default noise rules.
func WithRules(r Rules) Option {
	return func(s *Stripper) { s.rules = r }
}

// WithTokensPerWord overrides the token estimation ratio.
func WithTokensPerWord(ratio float64) Option {
	return func(s *Stripper) {
		if ratio > 0 {
			s.tokensPerWord = ratio
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stripper) { s.logger = l }
}

// NewStripper creates a stripper with default rules.
func NewStripper(opts ...Option) *Stripper {
	s := &Stripper{
		rules:         DefaultRules(),
		tokensPerWord: 1.3,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StripHTML parses raw HTML, removes noise elements, selects the main
// content region, and converts it to markdown.
func (s *Stripper) StripHTML(rawHTML string) (*Result, error) {
	originalTokens := utils.EstimateTokens(visibleTextEstimate(rawHTML), s.tokensPerWord)

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	s.removeNoise(doc)
	content := s.selectMainContent(doc)
	markdown := cleanupMarkdown(renderMarkdown(content))
	markdown = s.removeBoilerplate(markdown)
	markdown = cleanupMarkdown(markdown)

	res := s.buildResult(markdown, "markdown", originalTokens)
	s.logger.Debug("stripped HTML",
		zap.Int("original_tokens", res.OriginalTokens),
		zap.Int("final_tokens", res.TokenCount),
		zap.Float64("noise_score", res.NoiseScore))
	return res, nil
}

// StripText cleans plain text or markdown without HTML parsing.
func (s *Stripper) StripText(text string) *Result {
	originalTokens := utils.EstimateTokens(text, s.tokensPerWord)
	cleaned := cleanupMarkdown(s.removeBoilerplate(text))
	return s.buildResult(cleaned, "plaintext", originalTokens)
}

// StripMarkdown cleans markdown input, keeping the markdown format tag.
func (s *Stripper) StripMarkdown(text string) *Result {
	originalTokens := utils.EstimateTokens(text, s.tokensPerWord)
	cleaned := cleanupMarkdown(s.removeBoilerplate(text))
	return s.buildResult(cleaned, "markdown", originalTokens)
}

func (s *Stripper) buildResult(content, format string, originalTokens int) *Result {
	finalTokens := utils.EstimateTokens(content, s.tokensPerWord)
	score := 0.0
	if originalTokens > 0 {
		score = utils.Clamp01(float64(originalTokens-finalTokens) / float64(originalTokens))
	}
	return &Result{
		Content:        content,
		Format:         format,
		TokenCount:     finalTokens,
		OriginalTokens: originalTokens,
		NoiseScore:     score,
	}
}

// removeNoise drops noise-tagged elements and elements whose class or id
// matches a noise pattern. Children of removed nodes go with them.
func (s *Stripper) removeNoise(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && s.isNoiseNode(c) {
			n.RemoveChild(c)
			continue
		}
		s.removeNoise(c)
	}
}

func (s *Stripper) isNoiseNode(n *html.Node) bool {
	if s.rules.NoiseTags[n.Data] {
		return true
	}
	for _, attr := range n.Attr {
		if (attr.Key == "class" || attr.Key == "id") && s.rules.isNoiseAttr(attr.Val) {
			return true
		}
	}
	return false
}

var contentClassPattern = regexp.MustCompile(`(?i)content|main|article|post`)

// selectMainContent picks the most content-bearing region: an explicit
// <main>, then <article>, then any element with a content-like class,
// then <body>, then the whole document.
func (s *Stripper) selectMainContent(doc *html.Node) *html.Node {
	if n := findElement(doc, "main"); n != nil {
		return n
	}
	if n := findElement(doc, "article"); n != nil {
		return n
	}
	if n := findByClass(doc, contentClassPattern); n != nil {
		return n
	}
	if n := findElement(doc, "body"); n != nil {
		return n
	}
	return doc
}

func (s *Stripper) removeBoilerplate(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if s.rules.isBoilerplateLine(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findByClass(n *html.Node, pattern *regexp.Regexp) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "class" && pattern.MatchString(attr.Val) {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, pattern); found != nil {
			return found
		}
	}
	return nil
}

// visibleTextEstimate approximates the pre-strip text volume without a full
// parse, so the noise score reflects removed markup as well as removed text.
var tagPattern = regexp.MustCompile(`<[^>]+>`)

func visibleTextEstimate(rawHTML string) string {
	return tagPattern.ReplaceAllString(rawHTML, " ")
}

var (
	multiNewline    = regexp.MustCompile(`\n{3,}`)
	lineEdgeSpace   = regexp.MustCompile(`(?m)^[ \t]+|[ \t]+$`)
	emptyHeaderLine = regexp.MustCompile(`(?m)^#{1,6}\s*$\n?`)
)

// cleanupMarkdown normalizes whitespace artifacts left by conversion.
func cleanupMarkdown(text string) string {
	text = lineEdgeSpace.ReplaceAllString(text, "")
	text = emptyHeaderLine.ReplaceAllString(text, "")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
