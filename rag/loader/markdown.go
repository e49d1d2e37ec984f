package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/flowrun/rag"
)

// MarkdownLoader loads Markdown files, one Document per ATX heading section.
// Text before the first heading becomes its own section.
type MarkdownLoader struct{}

// NewMarkdownLoader creates a MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

type mdSection struct {
	heading string
	level   int
	body    []string
}

// Load reads a Markdown file and splits it into Documents by heading.
func (l *MarkdownLoader) Load(ctx context.Context, path string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("markdown loader: %w", err)
	}

	var sections []mdSection
	inFence := false
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence {
			if heading, level := parseHeading(line); heading != "" {
				sections = append(sections, mdSection{heading: heading, level: level})
				continue
			}
		}
		if len(sections) == 0 {
			sections = append(sections, mdSection{})
		}
		last := &sections[len(sections)-1]
		last.body = append(last.body, line)
	}

	docs := make([]rag.Document, 0, len(sections))
	for i, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if body == "" && sec.heading == "" {
			continue
		}
		content := body
		if sec.heading != "" {
			content = strings.TrimSpace(sec.heading + "\n\n" + body)
		}

		meta := map[string]any{
			"source_file":  filepath.Base(path),
			"source_path":  path,
			"content_type": "text/markdown",
			"section":      i,
		}
		if sec.heading != "" {
			meta["heading"] = sec.heading
			meta["heading_level"] = sec.level
		}
		docs = append(docs, rag.Document{
			ID:       fmt.Sprintf("%s#%d", path, i),
			Content:  content,
			Metadata: meta,
		})
	}
	return docs, nil
}

// parseHeading detects ATX headings ("## Title"), returning ("", 0) otherwise.
func parseHeading(line string) (string, int) {
	trimmed := strings.TrimSpace(line)
	level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
	if level < 1 || level > 6 {
		return "", 0
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", 0
	}
	return strings.TrimSpace(rest), level
}

// SupportedTypes returns the extensions handled by MarkdownLoader.
func (l *MarkdownLoader) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}
