package phpsrc

import (
	"regexp"
	"strings"
)

var headerBlockPattern = regexp.MustCompile(`(?s)/\*\*?(.*?)\*/`)

const pluginNameHeader = "Plugin Name:"

// HeaderBlock returns the body of the first block comment in content.
func HeaderBlock(content string) (string, bool) {
	match := headerBlockPattern.FindStringSubmatch(content)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// IsPluginMainFile reports whether content carries the WordPress plugin header.
func IsPluginMainFile(content string) bool {
	header, ok := HeaderBlock(content)
	if !ok {
		return false
	}
	return strings.Contains(header, pluginNameHeader)
}

var headerFieldPattern = regexp.MustCompile(`(?m)^[\s*#@]*([A-Za-z][A-Za-z0-9 ._-]*?):\s*(.+?)\s*$`)

// HeaderFields parses "Name: value" pairs from a plugin header block.
func HeaderFields(header string) map[string]string {
	fields := make(map[string]string)
	for _, match := range headerFieldPattern.FindAllStringSubmatch(header, -1) {
		key := strings.TrimSpace(match[1])
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = strings.TrimSpace(match[2])
	}
	return fields
}
