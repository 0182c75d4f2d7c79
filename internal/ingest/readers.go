package ingest

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// maxPDFPages bounds how much of a PDF is read.
const maxPDFPages = 200

var textExts = map[string]bool{".txt": true, ".md": true, ".markdown": true, ".rst": true}

// Supported reports whether path has an extension ReadText understands.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return textExts[ext] || ext == ".pdf" || ext == ".docx"
}

// ReadText returns the plain text of a supported document.
func ReadText(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case textExts[ext]:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case ext == ".pdf":
		return readPDF(path)
	case ext == ".docx":
		return readDOCX(path)
	default:
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	pages := min(r.NumPage(), maxPDFPages)
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func readDOCX(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()
	return docxText(doc.Editable().GetContent()), nil
}

const wordML = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// docxText pulls the runs out of document.xml, one line per paragraph.
func docxText(content string) string {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordML && t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Space != wordML {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
