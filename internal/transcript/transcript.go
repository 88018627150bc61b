// Package transcript reads meeting transcripts from disk.
package transcript

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Read returns the text of a .txt, .md or .pdf transcript. Text files must be
// valid UTF-8.
func Read(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".markdown", "":
		return readText(path)
	case ".pdf":
		return readPDF(path)
	default:
		return "", fmt.Errorf("unsupported transcript format %q", ext)
	}
}

// SummaryPath returns where the minutes for a transcript are written:
// next to it, with "_summary.md" replacing the extension.
func SummaryPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_summary.md"
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("transcript %s is not valid UTF-8", path)
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf transcript: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(text); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return buf.String(), nil
}
