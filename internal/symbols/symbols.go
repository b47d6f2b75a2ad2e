package symbols

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed data/php_functions.txt
var builtinFunctionList string

//go:embed data/php_classes.txt
var builtinClassList string

// Inventory is the set of functions and classes the PHP runtime provides
// before any plugin code loads. Lookups are case-insensitive.
type Inventory struct {
	functions map[string]struct{}
	classes   map[string]struct{}
}

var builtin = sync.OnceValue(func() *Inventory {
	return &Inventory{
		functions: parseList(builtinFunctionList),
		classes:   parseList(builtinClassList),
	}
})

// Builtin returns the embedded inventory shared by all callers.
func Builtin() *Inventory {
	return builtin()
}

func parseList(text string) map[string]struct{} {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
	return set
}

func (i *Inventory) HasFunction(name string) bool {
	_, ok := i.functions[normalize(name)]
	return ok
}

// HasClass covers classes, interfaces and enums declared by the runtime.
func (i *Inventory) HasClass(name string) bool {
	_, ok := i.classes[normalize(name)]
	return ok
}

func (i *Inventory) Counts() (functions int, classes int) {
	return len(i.functions), len(i.classes)
}

// Merge returns a new inventory holding i plus the given names.
func (i *Inventory) Merge(functions, classes []string) *Inventory {
	merged := &Inventory{
		functions: make(map[string]struct{}, len(i.functions)+len(functions)),
		classes:   make(map[string]struct{}, len(i.classes)+len(classes)),
	}
	for name := range i.functions {
		merged.functions[name] = struct{}{}
	}
	for name := range i.classes {
		merged.classes[name] = struct{}{}
	}
	for _, name := range functions {
		if key := normalize(name); key != "" {
			merged.functions[key] = struct{}{}
		}
	}
	for _, name := range classes {
		if key := normalize(name); key != "" {
			merged.classes[key] = struct{}{}
		}
	}
	return merged
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), `\`))
}

// Evaluator runs a PHP snippet and returns its standard output.
type Evaluator interface {
	Eval(ctx context.Context, code string) ([]byte, error)
}

const probeScript = `echo json_encode(["classes" => array_merge(get_declared_classes(), get_declared_interfaces()), "functions" => get_defined_functions()["internal"]]);`

type probeOutput struct {
	Classes   []string `json:"classes"`
	Functions []string `json:"functions"`
}

// Probe asks a real PHP runtime for its declared symbols and merges them
// into the embedded inventory.
func Probe(ctx context.Context, evaluator Evaluator) (*Inventory, error) {
	output, err := evaluator.Eval(ctx, probeScript)
	if err != nil {
		return nil, fmt.Errorf("probe php runtime: %w", err)
	}
	var decoded probeOutput
	if err := json.Unmarshal(output, &decoded); err != nil {
		return nil, fmt.Errorf("decode php runtime symbols: %w", err)
	}
	return Builtin().Merge(decoded.Functions, decoded.Classes), nil
}
