package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/flowrun/rag"
)

// TextLoader loads a plain text file as a single Document.
type TextLoader struct{}

// NewTextLoader creates a TextLoader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load reads a UTF-8 text file. Empty files yield no documents.
func (l *TextLoader) Load(ctx context.Context, path string) ([]rag.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("text loader: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text loader: %s is not valid UTF-8", path)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}

	return []rag.Document{{
		ID:      path,
		Content: content,
		Metadata: map[string]any{
			"source_file":  filepath.Base(path),
			"source_path":  path,
			"content_type": "text/plain",
		},
	}}, nil
}

// SupportedTypes returns the extensions handled by TextLoader.
func (l *TextLoader) SupportedTypes() []string {
	return []string{".txt"}
}
