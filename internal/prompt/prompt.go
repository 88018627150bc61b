// Package prompt builds the system prompt used to turn a transcript into
// meeting minutes.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// SummaryFile is the system prompt template.
	SummaryFile = "summary_prompt.md"
	// FormatFile is the minutes layout substituted into the template.
	FormatFile = "minutes_format.md"

	formatPlaceholder = "{{minutes_format}}"
)

//go:embed templates/*.md
var templates embed.FS

// Prompt is a resolved summarization prompt.
type Prompt struct {
	System string
	Format string
}

// Default returns the prompt built from the embedded templates.
func Default() Prompt {
	p, err := build(embedded(SummaryFile), embedded(FormatFile))
	if err != nil {
		panic(err)
	}
	return p
}

// Load resolves the prompt from dir. Either file may be missing from dir, in
// which case the embedded version is used. An empty dir means embedded only.
func Load(dir string) (Prompt, error) {
	if dir == "" {
		return Default(), nil
	}
	system, err := readOr(dir, SummaryFile)
	if err != nil {
		return Prompt{}, err
	}
	format, err := readOr(dir, FormatFile)
	if err != nil {
		return Prompt{}, err
	}
	return build(system, format)
}

func build(system, format string) (Prompt, error) {
	if strings.TrimSpace(system) == "" {
		return Prompt{}, fmt.Errorf("%s is empty", SummaryFile)
	}
	return Prompt{
		System: strings.ReplaceAll(system, formatPlaceholder, strings.TrimSpace(format)),
		Format: format,
	}, nil
}

func readOr(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return embedded(name), nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

func embedded(name string) string {
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		panic(fmt.Sprintf("embedded prompt %s: %v", name, err))
	}
	return string(data)
}
