package phpsrc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/safeio"
)

const ComposerManifestName = "composer.json"

type Manifest struct {
	Name       string            `json:"name"`
	Require    map[string]string `json:"require"`
	RequireDev map[string]string `json:"require-dev"`
}

// ReadManifest loads composer.json from root. A missing manifest is not an error.
func ReadManifest(root string) (Manifest, bool, error) {
	path := filepath.Join(root, ComposerManifestName)
	data, err := safeio.ReadFileUnder(root, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, err
	}
	manifest := Manifest{}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, false, fmt.Errorf("parse %s: %w", ComposerManifestName, err)
	}
	return manifest, true, nil
}

// Packages lists require and require-dev package names, lowercased and sorted.
func (m Manifest) Packages() []string {
	seen := make(map[string]struct{}, len(m.Require)+len(m.RequireDev))
	for _, deps := range []map[string]string{m.Require, m.RequireDev} {
		for name := range deps {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	packages := make([]string, 0, len(seen))
	for name := range seen {
		packages = append(packages, name)
	}
	sort.Strings(packages)
	return packages
}
