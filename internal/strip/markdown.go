package strip

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// renderMarkdown converts a DOM subtree into markdown. Block elements emit
// surrounding blank lines; cleanupMarkdown collapses the excess afterwards.
func renderMarkdown(n *html.Node) string {
	var b strings.Builder
	renderNode(&b, n, renderState{})
	return b.String()
}

type renderState struct {
	listDepth  int
	ordered    bool
	itemIndex  int
	inPre      bool
	quoteDepth int
}

func renderNode(b *strings.Builder, n *html.Node, st renderState) {
	switch n.Type {
	case html.TextNode:
		if st.inPre {
			b.WriteString(n.Data)
			return
		}
		text := collapseSpace(n.Data)
		if text != "" {
			b.WriteString(text)
		}
		return
	case html.ElementNode:
		renderElement(b, n, st)
		return
	}
	renderChildren(b, n, st)
}

func renderChildren(b *strings.Builder, n *html.Node, st renderState) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c, st)
	}
}

func renderElement(b *strings.Builder, n *html.Node, st renderState) {
	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		renderChildren(b, n, st)
		b.WriteString("\n\n")
	case "p", "div", "section", "figure", "figcaption":
		b.WriteString("\n\n")
		renderChildren(b, n, st)
		b.WriteString("\n\n")
	case "br":
		b.WriteString("\n")
	case "hr":
		b.WriteString("\n\n---\n\n")
	case "ul":
		st.listDepth++
		st.ordered = false
		b.WriteString("\n")
		renderChildren(b, n, st)
		b.WriteString("\n")
	case "ol":
		st.listDepth++
		st.ordered = true
		st.itemIndex = 0
		b.WriteString("\n")
		renderListItems(b, n, st)
		b.WriteString("\n")
	case "li":
		indent := strings.Repeat("  ", maxInt(st.listDepth-1, 0))
		if st.ordered {
			b.WriteString(fmt.Sprintf("\n%s%d. ", indent, st.itemIndex+1))
		} else {
			b.WriteString("\n" + indent + "- ")
		}
		renderChildren(b, n, st)
	case "pre":
		lang := codeLanguage(n)
		b.WriteString("\n\n```" + lang + "\n")
		st.inPre = true
		renderChildren(b, n, st)
		b.WriteString("\n```\n\n")
	case "code":
		if st.inPre {
			renderChildren(b, n, st)
			return
		}
		b.WriteString("`")
		renderChildren(b, n, st)
		b.WriteString("`")
	case "strong", "b":
		b.WriteString("**")
		renderChildren(b, n, st)
		b.WriteString("**")
	case "em", "i":
		b.WriteString("*")
		renderChildren(b, n, st)
		b.WriteString("*")
	case "a":
		// Hrefs are noise for narrative purposes; keep only the anchor text.
		var inner strings.Builder
		renderChildren(&inner, n, st)
		if text := strings.TrimSpace(inner.String()); text != "" {
			b.WriteString(text)
		}
	case "img":
		if alt := attrValue(n, "alt"); alt != "" {
			b.WriteString("![" + alt + "](" + attrValue(n, "src") + ")")
		}
	case "blockquote":
		var inner strings.Builder
		renderChildren(&inner, n, st)
		b.WriteString("\n\n")
		for _, line := range strings.Split(strings.TrimSpace(inner.String()), "\n") {
			b.WriteString("> " + strings.TrimSpace(line) + "\n")
		}
		b.WriteString("\n")
	case "table":
		renderTable(b, n)
	default:
		renderChildren(b, n, st)
	}
}

// renderListItems numbers <li> children of an <ol> explicitly.
func renderListItems(b *strings.Builder, ol *html.Node, st renderState) {
	idx := 0
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			itemState := st
			itemState.itemIndex = idx
			renderNode(b, c, itemState)
			idx++
		}
	}
}

// renderTable emits a pipe table. The first row becomes the header and is
// followed by the separator row markdown requires.
func renderTable(b *strings.Builder, table *html.Node) {
	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					var cell strings.Builder
					renderChildren(&cell, c, renderState{})
					cells = append(cells, strings.TrimSpace(collapseSpace(cell.String())))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	if len(rows) == 0 {
		return
	}

	b.WriteString("\n\n")
	for i, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			seps := make([]string, len(row))
			for j := range seps {
				seps[j] = "---"
			}
			b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
		}
	}
	b.WriteString("\n")
}

// codeLanguage pulls a language hint from class="language-go" style attrs
// on the <pre> or its <code> child.
func codeLanguage(pre *html.Node) string {
	candidates := []string{attrValue(pre, "class")}
	for c := pre.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			candidates = append(candidates, attrValue(c, "class"))
		}
	}
	for _, cls := range candidates {
		for _, part := range strings.Fields(cls) {
			if lang, ok := strings.CutPrefix(part, "language-"); ok {
				return lang
			}
			if lang, ok := strings.CutPrefix(part, "lang-"); ok {
				return lang
			}
		}
	}
	return ""
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// collapseSpace squeezes runs of whitespace to single spaces while keeping
// edge spaces, so inline siblings stay separated after rendering.
func collapseSpace(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	if collapsed == "" {
		if s != "" {
			return " "
		}
		return ""
	}
	if isSpace(s[0]) {
		collapsed = " " + collapsed
	}
	if isSpace(s[len(s)-1]) {
		collapsed += " "
	}
	return collapsed
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
