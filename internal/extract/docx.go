package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDocumentPath = "word/document.xml"
	contentTypesPath = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// textRunTag matches <w:t>text</w:t> with any attributes on the opening tag.
var textRunTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// [Content_Types].xml Override elements can list attributes in either order.
var (
	partNameFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`)
	partNameLast  = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`)
)

// extractDOCX extracts text from DOCX bytes. DOCX is a zip containing an
// OOXML document; pulling every <w:t> text run keeps the content searchable
// regardless of paragraph and run attributes.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX: not a zip: %w", err)
	}

	docPath := mainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentPath
	}

	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("failed to read DOCX body: %w", err)
	}

	runs := textRunTag.FindAllStringSubmatch(string(docXML), -1)
	if len(runs) == 0 {
		return "", nil
	}
	var b strings.Builder
	for i, run := range runs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(run[1]))
	}
	return strings.TrimSpace(b.String()), nil
}

// mainDocumentPath resolves the main document part from [Content_Types].xml.
// Returns "" when the manifest is missing or does not declare one.
func mainDocumentPath(zr *zip.Reader) string {
	manifest, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	if m := partNameFirst.FindSubmatch(manifest); len(m) > 1 {
		return strings.TrimPrefix(string(m[1]), "/")
	}
	if m := partNameLast.FindSubmatch(manifest); len(m) > 1 {
		return strings.TrimPrefix(string(m[1]), "/")
	}
	return ""
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		return data, err
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
