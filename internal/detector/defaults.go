package detector

import (
	"context"

	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/phplint"
	"github.com/ben-ranford/wpfatal/internal/symbols"
	"github.com/ben-ranford/wpfatal/internal/wpcontext"
)

// Linter is the authoritative syntax check. *phplint.Runner satisfies it.
type Linter interface {
	Lint(ctx context.Context, path string) ([]phplint.Diagnostic, error)
}

// Dependencies are the collaborators shared by the built-in detectors.
// Nil fields take defaults; a nil Linter disables the lint sub-check.
type Dependencies struct {
	Sources    *Sources
	Symbols    *SymbolRegistry
	Runtime    *symbols.Inventory
	Exceptions *exceptions.DependencyManager
	Widgets    *exceptions.WidgetManager
	Context    *wpcontext.Analyzer
	Linter     Linter
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Sources == nil {
		d.Sources = NewSources("")
	}
	if d.Symbols == nil {
		d.Symbols = NewSymbolRegistry()
	}
	if d.Runtime == nil {
		d.Runtime = symbols.Builtin()
	}
	if d.Exceptions == nil {
		d.Exceptions = exceptions.NewDependencyManager()
	}
	if d.Widgets == nil {
		d.Widgets = exceptions.NewWidgetManager()
	}
	if d.Context == nil {
		d.Context = wpcontext.New()
	}
	return d
}

// Defaults registers the seven built-in detectors.
func Defaults(deps Dependencies) *Registry {
	deps = deps.withDefaults()
	registry := NewRegistry()
	for _, item := range []Detector{
		NewSyntax(deps),
		NewUndefinedFunction(deps),
		NewClassConflict(deps),
		NewWordPressCompatibility(deps, DefaultWordPressTables()),
		NewPHPCompatibility(deps, DefaultPHPTables()),
		NewTemplateMethodContext(deps),
		NewThisContext(deps),
	} {
		if err := registry.Register(item); err != nil {
			panic(err)
		}
	}
	return registry
}
