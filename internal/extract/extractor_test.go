package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytesPlain(t *testing.T) {
	e := NewExtractor()
	got, format, err := e.ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
	if format != FormatText {
		t.Errorf("format = %s, want text", format)
	}
}

func TestExtractBytesFormats(t *testing.T) {
	tests := []struct {
		ext  string
		want Format
	}{
		{".html", FormatHTML},
		{".htm", FormatHTML},
		{".md", FormatMarkdown},
		{".markdown", FormatMarkdown},
		{".txt", FormatText},
		{".rst", FormatText},
		{".xyz", FormatText},
		{"", FormatText},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			_, format, err := e.ExtractBytes([]byte("content"), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if format != tt.want {
				t.Errorf("format = %s, want %s", format, tt.want)
			}
		})
	}
}

func TestExtractBytesInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, _, err := e.ExtractBytes([]byte("hello\x80world"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesExcel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Plan")
	f.SetCellValue("Sheet1", "B1", "Price")
	f.SetCellValue("Sheet1", "A2", "Pro")
	f.SetCellValue("Sheet1", "B2", "$49.99")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	e := NewExtractor()
	got, format, err := e.ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Plan\tPrice\nPro\t$49.99" {
		t.Errorf("got %q", got)
	}
	if format != FormatText {
		t.Errorf("format = %s, want text", format)
	}
}

// minimalDocx builds a .docx zip with word/document.xml holding text in <w:t> runs.
func minimalDocx(text string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p w:rsidR="00A"><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytesDocx(t *testing.T) {
	e := NewExtractor()
	got, _, err := e.ExtractBytes(minimalDocx("Quarterly pricing update"), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Quarterly pricing update" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesDocxCustomPart(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	ct, _ := w.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override PartName="/word/document2.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`))
	fw, _ := w.Create("word/document2.xml")
	_, _ = fw.Write([]byte(`<w:document><w:body><w:p><w:r><w:t>From document2</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()

	e := NewExtractor()
	got, _, err := e.ExtractBytes(buf.Bytes(), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "From document2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesDocxReversedAttrs(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	ct, _ := w.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(`<Types><Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document3.xml"/></Types>`))
	fw, _ := w.Create("word/document3.xml")
	_, _ = fw.Write([]byte(`<w:document><w:body><w:p><w:r><w:t>Reversed attrs</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()

	e := NewExtractor()
	got, _, err := e.ExtractBytes(buf.Bytes(), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Reversed attrs" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytesDocxNotZip(t *testing.T) {
	e := NewExtractor()
	if _, _, err := e.ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for invalid docx")
	}
}

func TestExtractBytesPDFInvalid(t *testing.T) {
	e := NewExtractor()
	if _, _, err := e.ExtractBytes([]byte("not a pdf"), ".pdf"); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	if err := os.WriteFile(path, []byte("# Notes\n\nBody."), 0600); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	got, format, err := e.ExtractFile(path)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if got != "# Notes\n\nBody." {
		t.Errorf("got %q", got)
	}
	if format != FormatMarkdown {
		t.Errorf("format = %s, want markdown", format)
	}
}

func TestExtractFileMissing(t *testing.T) {
	e := NewExtractor()
	if _, _, err := e.ExtractFile("/nonexistent/file.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".md", ".HTML", ".pdf", ".docx", ".xlsx", ".txt"} {
		if !Supported(ext) {
			t.Errorf("Supported(%q) = false", ext)
		}
	}
	for _, ext := range []string{".exe", ".png", ".go", ""} {
		if Supported(ext) {
			t.Errorf("Supported(%q) = true", ext)
		}
	}
}
