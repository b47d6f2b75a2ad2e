package exceptions

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
)

//go:embed data/dependency_exceptions.yaml
var defaultDependencyExceptions []byte

// Rules lists symbols excepted from undefined-symbol findings. Patterns
// ending in "*" match by prefix; other patterns match exactly or as a
// substring.
type Rules struct {
	Classes          []string `yaml:"classes"`
	ClassPatterns    []string `yaml:"class_patterns"`
	Functions        []string `yaml:"functions"`
	FunctionPatterns []string `yaml:"function_patterns"`
}

type dependencyFile struct {
	Global     Rules            `yaml:"global"`
	Ecosystems map[string]Rules `yaml:"ecosystems"`
}

type compiledRules struct {
	classes          map[string]struct{}
	classPatterns    []string
	functions        map[string]struct{}
	functionPatterns []string
}

func compileRules(rules Rules) compiledRules {
	compiled := compiledRules{
		classes:          make(map[string]struct{}, len(rules.Classes)),
		classPatterns:    append([]string(nil), rules.ClassPatterns...),
		functions:        make(map[string]struct{}, len(rules.Functions)),
		functionPatterns: append([]string(nil), rules.FunctionPatterns...),
	}
	for _, name := range rules.Classes {
		compiled.classes[name] = struct{}{}
	}
	for _, name := range rules.Functions {
		if strings.HasSuffix(name, "*") {
			compiled.functionPatterns = append(compiled.functionPatterns, name)
			continue
		}
		compiled.functions[name] = struct{}{}
	}
	return compiled
}

func (c compiledRules) merge(rules Rules) compiledRules {
	next := compileRules(rules)
	for name := range c.classes {
		next.classes[name] = struct{}{}
	}
	for name := range c.functions {
		next.functions[name] = struct{}{}
	}
	next.classPatterns = append(append([]string(nil), c.classPatterns...), next.classPatterns...)
	next.functionPatterns = append(append([]string(nil), c.functionPatterns...), next.functionPatterns...)
	return next
}

// DependencyManager decides whether an unresolved class or function is
// supplied by WordPress, a detected ecosystem, or is a known non-PHP token.
// It is immutable; the With methods return extended copies.
type DependencyManager struct {
	global     compiledRules
	ecosystems map[string]compiledRules
}

var defaultDependencyManager = mustLoadDependencyManager(defaultDependencyExceptions)

func mustLoadDependencyManager(data []byte) *DependencyManager {
	manager, err := LoadDependencyManager(data)
	if err != nil {
		panic(err)
	}
	return manager
}

// NewDependencyManager returns the built-in exception tables.
func NewDependencyManager() *DependencyManager {
	return defaultDependencyManager
}

// LoadDependencyManager decodes exception tables from YAML.
func LoadDependencyManager(data []byte) (*DependencyManager, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var file dependencyFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse dependency exceptions: %w", err)
	}
	manager := &DependencyManager{
		global:     compileRules(file.Global),
		ecosystems: make(map[string]compiledRules, len(file.Ecosystems)),
	}
	for name, rules := range file.Ecosystems {
		manager.ecosystems[strings.ToLower(name)] = compileRules(rules)
	}
	return manager, nil
}

// WithEcosystemExceptions returns a copy of m with rules merged into the
// named ecosystem.
func (m *DependencyManager) WithEcosystemExceptions(name string, rules Rules) *DependencyManager {
	name = strings.ToLower(strings.TrimSpace(name))
	next := &DependencyManager{global: m.global, ecosystems: make(map[string]compiledRules, len(m.ecosystems)+1)}
	for key, value := range m.ecosystems {
		next.ecosystems[key] = value
	}
	if existing, ok := next.ecosystems[name]; ok {
		next.ecosystems[name] = existing.merge(rules)
	} else {
		next.ecosystems[name] = compileRules(rules)
	}
	return next
}

// Ecosystems lists the ecosystems with exception tables.
func (m *DependencyManager) Ecosystems() []string {
	set := ecosystem.NewSet()
	for name := range m.ecosystems {
		set.Add(name)
	}
	return set.Sorted()
}

// EcosystemRules returns the exact class and function names for an ecosystem.
func (m *DependencyManager) EcosystemRules(name string) Rules {
	compiled, ok := m.ecosystems[strings.ToLower(name)]
	if !ok {
		return Rules{}
	}
	return Rules{
		Classes:          sortedKeys(compiled.classes),
		ClassPatterns:    append([]string(nil), compiled.classPatterns...),
		Functions:        sortedKeys(compiled.functions),
		FunctionPatterns: append([]string(nil), compiled.functionPatterns...),
	}
}

// GlobalRules returns the ecosystem-independent exception names.
func (m *DependencyManager) GlobalRules() Rules {
	return Rules{
		Classes:          sortedKeys(m.global.classes),
		Functions:        sortedKeys(m.global.functions),
		FunctionPatterns: append([]string(nil), m.global.functionPatterns...),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := ecosystem.NewSet()
	for key := range set {
		keys[key] = struct{}{}
	}
	return keys.Sorted()
}

func (m *DependencyManager) IsClassExcepted(name string, detected ecosystem.Set) bool {
	name = strings.TrimPrefix(name, `\`)
	if _, ok := m.global.classes[name]; ok {
		return true
	}
	if matchesAnyPattern(name, m.global.classPatterns) {
		return true
	}
	for _, eco := range detected.Sorted() {
		rules, ok := m.ecosystems[eco]
		if !ok {
			continue
		}
		if _, ok := rules.classes[name]; ok {
			return true
		}
		if matchesAnyPattern(name, rules.classPatterns) {
			return true
		}
	}
	return false
}

func (m *DependencyManager) IsFunctionExcepted(name string, detected ecosystem.Set) bool {
	name = strings.TrimPrefix(name, `\`)
	if _, ok := m.global.functions[name]; ok {
		return true
	}
	if matchesAnyPattern(name, m.global.functionPatterns) {
		return true
	}
	for _, eco := range detected.Sorted() {
		rules, ok := m.ecosystems[eco]
		if !ok {
			continue
		}
		if _, ok := rules.functions[name]; ok {
			return true
		}
		if matchesAnyPattern(name, rules.functionPatterns) {
			return true
		}
	}
	return false
}

// ClassExceptionReason names the ecosystem that supplies an excepted class.
func (m *DependencyManager) ClassExceptionReason(name string, detected ecosystem.Set) (string, bool) {
	for _, eco := range detected.Sorted() {
		if _, ok := m.ecosystems[eco].classes[name]; ok {
			return fmt.Sprintf("Class '%s' is provided by %s plugin dependency", name, eco), true
		}
	}
	return "", false
}

func matchesAnyPattern(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPattern(name, pattern) {
			return true
		}
	}
	return false
}

func matchPattern(name, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, strings.TrimRight(prefix, "*"))
	}
	return name == pattern || strings.Contains(name, pattern)
}
