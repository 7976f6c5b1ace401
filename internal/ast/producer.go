// File: internal/ast/producer.go
package ast

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Producer turns raw source into a normalized Tree. Implementations live outside
// this package (see internal/ast/treesitter).
type Producer interface {
	Parse(ctx context.Context, path string, content []byte, language string) (*Tree, error)
	Languages() []string
}

// ErrUnsupportedLanguage is returned when no producer is registered for a language.
type ErrUnsupportedLanguage struct {
	Language string
}

func (e *ErrUnsupportedLanguage) Error() string {
	return fmt.Sprintf("no AST producer registered for language %q", e.Language)
}

// Registry routes parse requests to the producer registered for the language.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
}

// NewRegistry registers every language each producer claims. Later producers win.
func NewRegistry(producers ...Producer) *Registry {
	r := &Registry{producers: make(map[string]Producer)}
	for _, p := range producers {
		r.Register(p)
	}
	return r
}

// Register adds p for all of its languages.
func (r *Registry) Register(p Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lang := range p.Languages() {
		r.producers[lang] = p
	}
}

// Supports reports whether a producer exists for language.
func (r *Registry) Supports(language string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producers[language]
	return ok
}

// Languages lists registered languages in sorted order.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.producers))
	for l := range r.producers {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Parse dispatches to the registered producer.
func (r *Registry) Parse(ctx context.Context, path string, content []byte, language string) (*Tree, error) {
	r.mu.RLock()
	p, ok := r.producers[language]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrUnsupportedLanguage{Language: language}
	}
	return p.Parse(ctx, path, content, language)
}
