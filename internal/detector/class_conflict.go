package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/finding"
	"github.com/ben-ranford/wpfatal/internal/linescan"
	"github.com/ben-ranford/wpfatal/internal/phpsrc"
	"github.com/ben-ranford/wpfatal/internal/symbols"
)

var wordpressClasses = setOf(
	"WP_Query", "WP_Post", "WP_User", "WP_Comment", "WP_Term", "WP_Taxonomy",
	"WP_Error", "WP_HTTP_Response", "WP_REST_Response", "WP_REST_Request",
	"WP_REST_Server", "WP_REST_Controller", "WP_Widget", "WP_Customize_Manager",
	"WP_Customize_Control", "WP_Customize_Setting", "WP_List_Table", "WP_Screen",
	"WP_Admin_Bar", "wpdb", "WP_Filesystem_Base", "WP_Upgrader", "WP_Ajax_Upgrader_Skin",
	"WP_Theme", "WP_Plugin", "WP_Locale", "WP_Roles", "WP_Role",
	"WP_Session_Tokens", "WP_User_Meta_Session_Tokens", "WP_Rewrite", "WP_Router",
	"WP_Hook", "WP_CLI", "WP_CLI_Command", "WP_User_Query", "WP_Comment_Query",
	"WP_Term_Query", "WP_Site_Query", "WP_Network_Query", "WP_Meta_Query",
	"WP_Date_Query", "WP_Tax_Query", "WP_Site", "WP_Network", "WP_Post_Type",
	"WP_Block", "WP_Block_Type", "WP_Block_Type_Registry", "WP_Http",
	"Walker", "Walker_Nav_Menu", "Walker_Category", "Walker_Page",
)

var phpBuiltinClasses = setOf(
	"stdClass", "Exception", "ErrorException", "Error", "ParseError", "TypeError", "ArgumentCountError",
	"ArithmeticError", "DivisionByZeroError", "CompileError", "AssertionError",
	"DateTime", "DateTimeImmutable", "DateInterval", "DatePeriod", "DateTimeZone",
	"PDO", "PDOStatement", "PDOException", "mysqli", "mysqli_stmt", "mysqli_result",
	"DOMDocument", "DOMElement", "DOMNode", "DOMNodeList", "DOMXPath",
	"SimpleXMLElement", "XMLReader", "XMLWriter",
	"SplFileInfo", "SplFileObject", "DirectoryIterator", "RecursiveDirectoryIterator",
	"ArrayIterator", "ArrayObject", "SplObjectStorage",
	"ReflectionClass", "ReflectionMethod", "ReflectionProperty", "ReflectionFunction",
	"Closure", "Generator", "WeakReference",
)

var (
	newUsagePattern    = regexp.MustCompile(`\bnew\s+(\\?[A-Za-z_][\w\\]*)`)
	staticUsagePattern = regexp.MustCompile(`(\\?[A-Za-z_][\w\\]*)::(\w+)`)
	instanceofPattern  = regexp.MustCompile(`\binstanceof\s+(\\?[A-Za-z_][\w\\]*)`)
	inheritancePattern = regexp.MustCompile(`\b(?:extends|implements)\s+(\\?[A-Za-z_][\w\\]*(?:\s*,\s*\\?[A-Za-z_][\w\\]*)*)`)
	classAttrPattern   = regexp.MustCompile(`class\s*=\s*["']`)
	listSeparator      = regexp.MustCompile(`\s*,\s*`)
	guardPattern       = regexp.MustCompile(`(!\s*)?\b(?:class|interface|trait|enum)_exists\s*\(\s*(?:["']\\*([\w\\]+)["']|\\?([\w\\]+)::class)`)
	exitPattern        = regexp.MustCompile(`\b(?:return|exit|die)\b`)
)

// ClassConflict reports class-like declarations that collide with the
// runtime or WordPress, and usages of classes nothing provides.
type ClassConflict struct {
	ecosystems
	sources    *Sources
	symbols    *SymbolRegistry
	runtime    *symbols.Inventory
	exceptions *exceptions.DependencyManager
}

func NewClassConflict(deps Dependencies) *ClassConflict {
	deps = deps.withDefaults()
	return &ClassConflict{
		sources:    deps.Sources,
		symbols:    deps.Symbols,
		runtime:    deps.Runtime,
		exceptions: deps.Exceptions,
	}
}

func (d *ClassConflict) ID() string   { return IDClassConflict }
func (d *ClassConflict) Name() string { return "Class Conflict Detector" }

func (d *ClassConflict) Detect(_ context.Context, path string, _ Target) []finding.Finding {
	lines, ok := d.sources.Lines(path)
	if !ok {
		return nil
	}
	content, _ := d.sources.Content(path)
	imports := phpsrc.IndexImports(content)
	guards := findGuards(lines)
	detected := d.detected()

	var state linescan.State
	var findings []finding.Finding
	namespace := ""
	for index, raw := range lines {
		state.Update(raw)
		if state.Skippable() || state.InsideScript {
			continue
		}
		line := linescan.Clean(raw)
		if name, ok := phpsrc.MatchNamespace(line); ok {
			namespace = name
			continue
		}
		if kind, name, ok := phpsrc.MatchTypeDeclaration(line); ok && namespace == "" && !guards.negated(name, index) {
			findings = append(findings, d.conflicts(kind, name, path, index+1)...)
		}
		for _, name := range extractClassUsages(raw, line) {
			fqn := resolveClass(name, namespace, imports)
			if d.known(name, fqn, imports, detected) || guards.covers(name, fqn, index) {
				continue
			}
			findings = append(findings, newFinding(finding.KindUndefinedClass, fmt.Sprintf("Class '%s' not found", name), path, index+1,
				finding.SeverityError, fmt.Sprintf("Ensure class '%s' is defined or properly included", name),
				map[string]any{"class": name, "resolved": fqn}))
		}
	}
	return findings
}

func (d *ClassConflict) conflicts(kind phpsrc.DeclarationKind, name, path string, line int) []finding.Finding {
	noun := string(kind)
	title := strings.ToUpper(noun[:1]) + noun[1:]
	var findings []finding.Finding
	if d.runtime.HasClass(name) {
		findings = append(findings, newFinding(finding.KindClassAlreadyExists, fmt.Sprintf("Cannot redeclare %s '%s'", noun, name), path, line,
			finding.SeverityError, fmt.Sprintf("Use a different %s name or check for duplicate %s declarations", noun, noun),
			map[string]any{"class": name}))
	}
	if _, ok := wordpressClasses[strings.ToLower(name)]; ok {
		findings = append(findings, newFinding(finding.KindWordPressClassConflict, fmt.Sprintf("%s '%s' conflicts with WordPress core class", title, name), path, line,
			finding.SeverityError, "Use a different class name with a unique prefix to avoid conflicts",
			map[string]any{"class": name, "type": "wordpress_core"}))
	}
	if _, ok := phpBuiltinClasses[strings.ToLower(name)]; ok {
		findings = append(findings, newFinding(finding.KindPHPClassConflict, fmt.Sprintf("%s '%s' conflicts with PHP built-in class", title, name), path, line,
			finding.SeverityError, "Use a different class name to avoid conflicts with PHP built-in classes",
			map[string]any{"class": name, "type": "php_builtin"}))
	}
	return findings
}

// known reports whether anything supplies the class. Qualified names
// rooted in a namespace the plugin never declares are left alone.
func (d *ClassConflict) known(name, fqn string, imports phpsrc.Imports, detected ecosystem.Set) bool {
	short := phpsrc.LastNamespaceSegment(name)
	lowerShort := strings.ToLower(short)
	if _, ok := phpBuiltinClasses[lowerShort]; ok {
		return true
	}
	if _, ok := wordpressClasses[lowerShort]; ok {
		return true
	}
	if d.runtime.HasClass(short) || d.runtime.HasClass(fqn) {
		return true
	}
	if d.symbols.HasClass(fqn) || d.symbols.HasClass(name) || d.symbols.HasClassShort(short) {
		return true
	}
	first, _, _ := strings.Cut(phpsrc.NormalizeNamespace(name), `\`)
	if _, ok := imports.Class(first); ok {
		return true
	}
	clean := phpsrc.NormalizeNamespace(name)
	if strings.Contains(clean, `\`) {
		if root, _, _ := strings.Cut(fqn, `\`); !d.symbols.HasNamespace(root) {
			return true
		}
	}
	return d.exceptions.IsClassExcepted(clean, detected) || d.exceptions.IsClassExcepted(short, detected)
}

// resolveClass applies the file's imports and namespace to a class name
// as written.
func resolveClass(name, namespace string, imports phpsrc.Imports) string {
	if strings.HasPrefix(name, `\`) {
		return phpsrc.NormalizeNamespace(name)
	}
	first, rest, qualified := strings.Cut(name, `\`)
	if imported, ok := imports.Class(first); ok {
		if qualified {
			return phpsrc.NormalizeNamespace(imported) + `\` + rest
		}
		return phpsrc.NormalizeNamespace(imported)
	}
	if namespace == "" {
		return name
	}
	return namespace + `\` + name
}

// extractClassUsages lists class names referenced on a line. Lines that
// look like markup, CSS or JavaScript contribute nothing.
func extractClassUsages(raw, cleaned string) []string {
	if classAttrPattern.MatchString(raw) || linescan.IsCSS(raw) || linescan.IsJavaScript(raw) {
		return nil
	}
	var candidates []string
	for _, match := range newUsagePattern.FindAllStringSubmatch(cleaned, -1) {
		candidates = append(candidates, match[1])
	}
	for _, match := range staticUsagePattern.FindAllStringSubmatchIndex(cleaned, -1) {
		if precededBy(cleaned, match[2], "$\\_") || isWordByte(cleaned, match[2]-1) {
			continue
		}
		if strings.EqualFold(cleaned[match[4]:match[5]], "class") {
			continue
		}
		candidates = append(candidates, cleaned[match[2]:match[3]])
	}
	for _, match := range instanceofPattern.FindAllStringSubmatch(cleaned, -1) {
		candidates = append(candidates, match[1])
	}
	for _, match := range inheritancePattern.FindAllStringSubmatch(cleaned, -1) {
		candidates = append(candidates, listSeparator.Split(strings.TrimSpace(match[1]), -1)...)
	}

	seen := make(map[string]struct{}, len(candidates))
	names := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSuffix(candidate, `\`)
		short := phpsrc.LastNamespaceSegment(candidate)
		if short == "" || !unicode.IsUpper(rune(short[0])) {
			continue
		}
		switch strings.ToLower(short) {
		case "self", "parent", "static":
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		names = append(names, candidate)
	}
	return names
}

func isWordByte(line string, index int) bool {
	if index < 0 || index >= len(line) {
		return false
	}
	c := line[index]
	return c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// guard is an existence check on a class name covering lines start..end.
type guard struct {
	name    string
	start   int
	end     int
	negated bool
}

type guardSet []guard

// findGuards locates class_exists style checks and the lines they cover.
// A positive check covers its block or, without braces, its own line and
// the next. A negated check that exits early covers the rest of the file.
func findGuards(lines []string) guardSet {
	var guards guardSet
	for index, raw := range lines {
		line := linescan.StripComments(raw)
		for _, match := range guardPattern.FindAllStringSubmatch(line, -1) {
			name := match[2]
			if name == "" {
				name = match[3]
			}
			name = strings.ToLower(phpsrc.NormalizeNamespace(strings.ReplaceAll(name, `\\`, `\`)))
			end, braced := blockEnd(lines, index)
			if !braced {
				end = min(index+1, len(lines)-1)
			}
			item := guard{name: name, start: index, end: end, negated: match[1] != ""}
			guards = append(guards, item)
			if item.negated && braced && exitsEarly(lines, index, end) {
				guards = append(guards, guard{name: name, start: end, end: len(lines) - 1})
			}
		}
	}
	return guards
}

// blockEnd returns the line where the brace block opened on or right
// after start closes.
func blockEnd(lines []string, start int) (int, bool) {
	depth := 0
	opened := false
	for index := start; index < len(lines); index++ {
		line := linescan.Clean(lines[index])
		if !opened && index > start && !strings.HasPrefix(strings.TrimSpace(line), "{") {
			return start, false
		}
		for _, c := range line {
			switch c {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
			if opened && depth == 0 {
				return index, true
			}
		}
	}
	if opened {
		return len(lines) - 1, true
	}
	return start, false
}

func exitsEarly(lines []string, start, end int) bool {
	for index := start; index <= end; index++ {
		if exitPattern.MatchString(linescan.Clean(lines[index])) {
			return true
		}
	}
	return false
}

func (g guardSet) covers(name, fqn string, index int) bool {
	written := strings.ToLower(phpsrc.NormalizeNamespace(name))
	resolved := strings.ToLower(fqn)
	short := strings.ToLower(phpsrc.LastNamespaceSegment(name))
	for _, item := range g {
		if item.negated || index < item.start || index > item.end {
			continue
		}
		if item.name == written || item.name == resolved || phpsrc.LastNamespaceSegment(item.name) == short {
			return true
		}
	}
	return false
}

func (g guardSet) negated(name string, index int) bool {
	lower := strings.ToLower(name)
	for _, item := range g {
		if item.negated && index >= item.start && index <= item.end && phpsrc.LastNamespaceSegment(item.name) == lower {
			return true
		}
	}
	return false
}
