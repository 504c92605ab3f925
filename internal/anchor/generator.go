// Package anchor assigns stable, hash-based IDs to content blocks so that
// citations survive document updates and re-chunking.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hyperjump/tsutsumi/internal/models"
)

var (
	headerPattern       = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	headerStartPattern  = regexp.MustCompile(`^(#{1,6})\s+`)
	tableSepPattern     = regexp.MustCompile(`^[\s|:-]+$`)
	bulletPattern       = regexp.MustCompile(`^\s*[-*+]\s`)
	numberedPattern     = regexp.MustCompile(`^\s*\d+\.\s`)
	continuationPattern = regexp.MustCompile(`^\s{2,}`)
	slugPattern         = regexp.MustCompile(`[^a-z0-9]+`)
)

// minParagraphLen is the smallest paragraph worth its own anchor.
const minParagraphLen = 100

// Generator walks markdown line by line and emits anchors for headers, code
// blocks, and tables. In granular mode it also anchors lists and substantial
// multi-line paragraphs, trading anchor count for citation precision.
type Generator struct {
	granular bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithGranular enables list and paragraph anchors.
func WithGranular(granular bool) Option {
	return func(g *Generator) { g.granular = granular }
}

// NewGenerator creates an anchor generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns anchors for all significant blocks in the markdown,
// keyed by anchor ID. Line numbers are zero-based and inclusive.
func (g *Generator) Generate(markdown string) map[string]models.Anchor {
	anchors := make(map[string]models.Anchor)
	lines := strings.Split(markdown, "\n")

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := headerPattern.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			end := findSectionEnd(lines, i, level)
			id := anchorID(title, i, models.AnchorSection)
			anchors[id] = models.Anchor{
				ID:          id,
				LineStart:   i,
				LineEnd:     end,
				Type:        models.AnchorSection,
				Title:       title,
				ContentHash: contentHash(lines[i : end+1]),
			}
			i++
			continue
		}

		if strings.HasPrefix(line, "```") {
			end := findCodeBlockEnd(lines, i)
			if end > i {
				lang := strings.TrimSpace(line[3:])
				if lang == "" {
					lang = "code"
				}
				id := anchorID("code-"+lang, i, models.AnchorCode)
				anchors[id] = models.Anchor{
					ID:          id,
					LineStart:   i,
					LineEnd:     end,
					Type:        models.AnchorCode,
					Title:       fmt.Sprintf("Code block (%s)", lang),
					ContentHash: contentHash(lines[i : end+1]),
				}
				i = end + 1
				continue
			}
		}

		if strings.Contains(line, "|") && i+1 < len(lines) && tableSepPattern.MatchString(lines[i+1]) {
			end := findTableEnd(lines, i)
			id := anchorID("table", i, models.AnchorTable)
			anchors[id] = models.Anchor{
				ID:          id,
				LineStart:   i,
				LineEnd:     end,
				Type:        models.AnchorTable,
				Title:       "Table",
				ContentHash: contentHash(lines[i : end+1]),
			}
			i = end + 1
			continue
		}

		if g.granular && bulletPattern.MatchString(line) {
			end := findListEnd(lines, i)
			id := anchorID("list", i, models.AnchorList)
			anchors[id] = models.Anchor{
				ID:          id,
				LineStart:   i,
				LineEnd:     end,
				Type:        models.AnchorList,
				Title:       "List",
				ContentHash: contentHash(lines[i : end+1]),
			}
			i = end + 1
			continue
		}

		if g.granular && strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "#") {
			end := findParagraphEnd(lines, i)
			if end > i {
				content := strings.Join(lines[i:end+1], "\n")
				if len(content) > minParagraphLen {
					id := anchorID("para", i, models.AnchorParagraph)
					anchors[id] = models.Anchor{
						ID:          id,
						LineStart:   i,
						LineEnd:     end,
						Type:        models.AnchorParagraph,
						Title:       content[:50] + "...",
						ContentHash: contentHash(lines[i : end+1]),
					}
				}
			}
			i = end + 1
			continue
		}

		i++
	}

	return anchors
}

// anchorID builds the stable "anchor-{slug}-{hash8}" identifier. The hash
// covers title, line, and type, so the same heading at a different position
// gets a different ID.
func anchorID(title string, lineNum int, anchorType models.AnchorType) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 20 {
		slug = slug[:20]
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", title, lineNum, anchorType)))
	return fmt.Sprintf("anchor-%s-%s", slug, hex.EncodeToString(sum[:])[:8])
}

func contentHash(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

// findSectionEnd returns the last line of a section, which runs until the
// next header at the same or a higher level.
func findSectionEnd(lines []string, start, level int) int {
	for i := start + 1; i < len(lines); i++ {
		if m := headerStartPattern.FindStringSubmatch(lines[i]); m != nil {
			if len(m[1]) <= level {
				return i - 1
			}
		}
	}
	return len(lines) - 1
}

// findCodeBlockEnd returns the line of the closing fence, or start when the
// block is never closed.
func findCodeBlockEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "```") {
			return i
		}
	}
	return start
}

func findTableEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		if !strings.Contains(lines[i], "|") {
			return i - 1
		}
	}
	return len(lines) - 1
}

// findListEnd treats list items, numbered items, and indented continuations
// as part of the list. Blank lines inside a list do not end it.
func findListEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		line := lines[i]
		if bulletPattern.MatchString(line) || numberedPattern.MatchString(line) || continuationPattern.MatchString(line) {
			continue
		}
		if strings.TrimSpace(line) != "" {
			return i - 1
		}
	}
	return len(lines) - 1
}

func findParagraphEnd(lines []string, start int) int {
	for i := start + 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			return i - 1
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") || strings.HasPrefix(line, "|") {
			return i - 1
		}
		if bulletPattern.MatchString(line) {
			return i - 1
		}
	}
	return len(lines) - 1
}

// InjectAnchorIDs rewrites the markdown with an HTML span carrying each
// anchor ID prepended to the anchor's first line. Anchors are applied in
// descending line order so earlier injections do not shift later offsets.
func InjectAnchorIDs(markdown string, anchors map[string]models.Anchor) string {
	lines := strings.Split(markdown, "\n")

	sorted := make([]models.Anchor, 0, len(anchors))
	for _, a := range anchors {
		sorted = append(sorted, a)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LineStart != sorted[j].LineStart {
			return sorted[i].LineStart > sorted[j].LineStart
		}
		return sorted[i].ID > sorted[j].ID
	})

	for _, a := range sorted {
		if a.LineStart >= 0 && a.LineStart < len(lines) {
			lines[a.LineStart] = fmt.Sprintf(`<span id="%s"></span>%s`, a.ID, lines[a.LineStart])
		}
	}
	return strings.Join(lines, "\n")
}
