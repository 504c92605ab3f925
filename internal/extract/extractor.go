// Package extract pulls plain text out of document files so the envelope
// pipeline can process them. Each extraction reports the format the content
// should be treated as (html, markdown, or text) for downstream stripping.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format classifies extracted content for the stripping stage.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Extractor extracts text content from document files by extension.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractFile reads the file at path and returns its text content and format.
func (e *Extractor) ExtractFile(path string) (string, Format, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the file extension.
// ext includes the leading dot (e.g. ".pdf"). Unknown extensions are
// treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, Format, error) {
	switch ext {
	case ".html", ".htm", ".xhtml":
		text, err := extractPlain(content)
		return text, FormatHTML, err
	case ".md", ".markdown":
		text, err := extractPlain(content)
		return text, FormatMarkdown, err
	case ".pdf":
		text, err := extractPDF(content)
		return text, FormatText, err
	case ".docx", ".odt":
		text, err := extractDOCX(content)
		return text, FormatText, err
	case ".xlsx":
		text, err := extractExcel(content)
		return text, FormatText, err
	default:
		text, err := extractPlain(content)
		return text, FormatText, err
	}
}

// Supported reports whether the extension maps to a known document format.
// Watched directories use this to skip binaries and build artifacts.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".html", ".htm", ".xhtml", ".md", ".markdown", ".txt", ".rst",
		".pdf", ".docx", ".odt", ".xlsx":
		return true
	}
	return false
}
