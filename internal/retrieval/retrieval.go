package retrieval

import (
	"context"
	"fmt"

	"litwatch/internal/domain"
)

// Request carries everything a source needs to execute one search.
type Request struct {
	Prompt     string
	Keywords   []string
	Parameters map[string]any
}

// Source captures a single retrieval strategy (arXiv API, listing
// scraper, etc.). Search returns an empty slice for "no results";
// an error means the source itself failed.
type Source interface {
	Name() string
	Search(ctx context.Context, req Request) ([]domain.RawDocument, error)
}

// Registry keeps a mapping from source names to their implementations.
type Registry struct {
	sources map[string]Source
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: map[string]Source{}}
}

// Register adds or replaces a source implementation.
func (r *Registry) Register(src Source) {
	if r.sources == nil {
		r.sources = map[string]Source{}
	}
	r.sources[src.Name()] = src
}

// Resolve returns a source by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Source, error) {
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	return nil, fmt.Errorf("retrieval source %s is not registered", name)
}

// StringParam reads a string parameter with a fallback.
func (r Request) StringParam(key, fallback string) string {
	if v, ok := r.Parameters[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// IntParam reads an integer parameter with a fallback. JSON-decoded
// parameter blobs carry numbers as float64.
func (r Request) IntParam(key string, fallback int) int {
	switch v := r.Parameters[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
