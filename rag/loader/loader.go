package loader

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/flowrun/rag"
)

// DocumentLoader is the unified interface for loading documents from a file.
type DocumentLoader interface {
	// Load reads the file at path and returns documents.
	Load(ctx context.Context, path string) ([]rag.Document, error)

	// SupportedTypes returns the file extensions this loader handles (e.g. ".txt", ".md").
	SupportedTypes() []string
}

// LoaderRegistry routes Load calls to the appropriate DocumentLoader based on file extension.
type LoaderRegistry struct {
	mu      sync.RWMutex
	loaders map[string]DocumentLoader // extension (lowercase, with dot) -> loader
}

// NewLoaderRegistry creates a registry with the text and markdown loaders.
func NewLoaderRegistry() *LoaderRegistry {
	r := &LoaderRegistry{loaders: make(map[string]DocumentLoader)}
	for _, l := range []DocumentLoader{NewTextLoader(), NewMarkdownLoader()} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register adds or replaces a loader for the given file extension.
func (r *LoaderRegistry) Register(ext string, loader DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = loader
}

func (r *LoaderRegistry) lookup(path string) (DocumentLoader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// Load determines the loader from the file extension and delegates to it.
func (r *LoaderRegistry) Load(ctx context.Context, path string) ([]rag.Document, error) {
	if filepath.Ext(path) == "" {
		return nil, fmt.Errorf("loader: cannot determine file type for %q (no extension)", path)
	}
	l, ok := r.lookup(path)
	if !ok {
		return nil, fmt.Errorf("loader: no loader registered for extension %q", filepath.Ext(path))
	}
	return l.Load(ctx, path)
}

// LoadDir walks dir and loads every file with a registered extension, in
// lexical path order. Files with other extensions are skipped.
func (r *LoaderRegistry) LoadDir(ctx context.Context, dir string) ([]rag.Document, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := r.lookup(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loader: walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var docs []rag.Document
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := r.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	return docs, nil
}

// SupportedTypes returns all registered extensions, sorted.
func (r *LoaderRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
