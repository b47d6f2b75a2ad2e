package detector

import (
	"context"
	"strings"
	"sync"

	"github.com/ben-ranford/wpfatal/internal/phpsrc"
)

// SymbolRegistry records every class-like and function declaration in the
// plugin. It is filled by Ingest before per-file detection begins and is
// read-only afterwards.
type SymbolRegistry struct {
	mu             sync.RWMutex
	classes        map[string]phpsrc.Declaration
	shortClasses   map[string]int
	namespaces     map[string]struct{}
	functions      map[string]struct{}
	shortFunctions map[string]struct{}
	files          int
}

func NewSymbolRegistry() *SymbolRegistry {
	return &SymbolRegistry{
		classes:        make(map[string]phpsrc.Declaration),
		shortClasses:   make(map[string]int),
		namespaces:     make(map[string]struct{}),
		functions:      make(map[string]struct{}),
		shortFunctions: make(map[string]struct{}),
	}
}

// Ingest parses declarations from every file. Accumulation is
// order-independent.
func (r *SymbolRegistry) Ingest(ctx context.Context, sources *Sources, files []string) error {
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		content, ok := sources.Content(path)
		if !ok {
			continue
		}
		r.Add(phpsrc.ParseDeclarations(content))
	}
	return nil
}

func (r *SymbolRegistry) Add(declarations []phpsrc.Declaration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files++
	for _, decl := range declarations {
		fqn := strings.ToLower(decl.FQN())
		short := strings.ToLower(decl.Name)
		if decl.Namespace != "" {
			r.addNamespace(decl.Namespace)
		}
		if decl.Kind == phpsrc.DeclFunction {
			r.functions[fqn] = struct{}{}
			r.shortFunctions[short] = struct{}{}
			continue
		}
		if _, exists := r.classes[fqn]; !exists {
			r.shortClasses[short]++
		}
		r.classes[fqn] = decl
	}
}

func (r *SymbolRegistry) addNamespace(namespace string) {
	parts := strings.Split(strings.ToLower(namespace), `\`)
	for i := range parts {
		r.namespaces[strings.Join(parts[:i+1], `\`)] = struct{}{}
	}
}

// HasClass looks up a fully qualified class, interface, trait or enum.
func (r *SymbolRegistry) HasClass(fqn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[strings.ToLower(phpsrc.NormalizeNamespace(fqn))]
	return ok
}

// HasClassShort reports whether any namespace declares a class with name.
func (r *SymbolRegistry) HasClassShort(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shortClasses[strings.ToLower(phpsrc.LastNamespaceSegment(name))] > 0
}

// HasNamespace reports whether the plugin declares namespace or one of its
// children.
func (r *SymbolRegistry) HasNamespace(namespace string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[strings.ToLower(phpsrc.NormalizeNamespace(namespace))]
	return ok
}

// HasFunction matches a function by fully qualified or short name.
func (r *SymbolRegistry) HasFunction(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(phpsrc.NormalizeNamespace(name))
	if _, ok := r.functions[key]; ok {
		return true
	}
	_, ok := r.shortFunctions[strings.ToLower(phpsrc.LastNamespaceSegment(name))]
	return ok
}

// Counts reports ingested files, classes and functions.
func (r *SymbolRegistry) Counts() (files, classes, functions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.files, len(r.classes), len(r.functions)
}
