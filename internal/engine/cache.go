package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ben-ranford/wpfatal/internal/config"
	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/report"
	"github.com/ben-ranford/wpfatal/internal/safeio"
)

const resultCacheSchemaVersion = "v1"

// Invalidation reasons recorded on a cache miss for a known key.
const (
	invalidationInputChanged   = "input-changed"
	invalidationPointerCorrupt = "pointer-corrupt"
	invalidationObjectMissing  = "object-missing"
	invalidationObjectCorrupt  = "object-corrupt"
)

type cacheEntry struct {
	KeyDigest   string
	InputDigest string
}

type cachePointer struct {
	InputDigest  string `json:"inputDigest"`
	ObjectDigest string `json:"objectDigest"`
}

type cachedPayload struct {
	Report report.Report `json:"report"`
}

// resultCache stores finished reports keyed by the request, invalidated by
// a digest of every walked file and the config inputs.
type resultCache struct {
	path     string
	usable   bool
	metadata report.CacheMetadata
	warnings []string
}

func newResultCache(options config.Cache, root string) *resultCache {
	path := strings.TrimSpace(options.Path)
	if path == "" {
		path = config.DefaultCachePath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	cache := &resultCache{
		path:     path,
		metadata: report.CacheMetadata{Enabled: options.Enabled, Path: path},
	}
	if !options.Enabled {
		return cache
	}
	for _, dir := range []string{"keys", "objects"} {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o750); err != nil {
			cache.warn("result cache unavailable: " + err.Error())
			return cache
		}
	}
	cache.usable = true
	return cache
}

func (c *resultCache) warn(message string) {
	c.warnings = append(c.warnings, message)
}

func (c *resultCache) metadataSnapshot() *report.CacheMetadata {
	if c == nil || !c.metadata.Enabled {
		return nil
	}
	snapshot := c.metadata
	return &snapshot
}

type cacheKey struct {
	Schema string        `json:"schema"`
	Root   string        `json:"root"`
	File   string        `json:"file,omitempty"`
	Values config.Values `json:"values"`
}

func (c *resultCache) prepare(req Request, root, single string, files []string, ecosystems ecosystem.Set) (cacheEntry, error) {
	if c == nil || !c.usable {
		return cacheEntry{}, nil
	}
	values := req.Values
	values.Cache = config.Cache{}
	keyDigest, err := hashJSON(cacheKey{Schema: resultCacheSchemaVersion, Root: filepath.Clean(root), File: single, Values: values})
	if err != nil {
		return cacheEntry{}, err
	}
	inputDigest, err := computeInputDigest(root, files, req.ConfigPath, req.Values.ExclusionConfig, ecosystems.Sorted())
	if err != nil {
		return cacheEntry{}, err
	}
	return cacheEntry{KeyDigest: keyDigest, InputDigest: inputDigest}, nil
}

func (c *resultCache) lookup(entry cacheEntry) (report.Report, bool) {
	if c == nil || !c.usable {
		return report.Report{}, false
	}
	pointerData, err := safeio.ReadFileUnder(c.path, filepath.Join(c.path, "keys", entry.KeyDigest+".json"))
	if err != nil {
		return report.Report{}, false
	}
	var pointer cachePointer
	if err := json.Unmarshal(pointerData, &pointer); err != nil {
		c.metadata.Invalidation = invalidationPointerCorrupt
		return report.Report{}, false
	}
	if pointer.InputDigest != entry.InputDigest {
		c.metadata.Invalidation = invalidationInputChanged
		return report.Report{}, false
	}
	objectData, err := safeio.ReadFileUnder(c.path, filepath.Join(c.path, "objects", pointer.ObjectDigest+".json"))
	if err != nil {
		c.metadata.Invalidation = invalidationObjectMissing
		return report.Report{}, false
	}
	var payload cachedPayload
	if err := json.Unmarshal(objectData, &payload); err != nil {
		c.metadata.Invalidation = invalidationObjectCorrupt
		return report.Report{}, false
	}
	c.metadata.Hit = true
	return payload.Report, true
}

func (c *resultCache) store(entry cacheEntry, data report.Report) error {
	if c == nil || !c.usable {
		return nil
	}
	data.Cache = nil
	serializedPayload, err := json.Marshal(cachedPayload{Report: data})
	if err != nil {
		return err
	}
	objectDigest := sha256Hex(serializedPayload)
	objectPath := filepath.Join(c.path, "objects", objectDigest+".json")
	if _, err := os.Stat(objectPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := writeFileAtomic(objectPath, serializedPayload); err != nil {
			return err
		}
	}

	serializedPointer, err := json.Marshal(cachePointer{InputDigest: entry.InputDigest, ObjectDigest: objectDigest})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(c.path, "keys", entry.KeyDigest+".json"), serializedPointer); err != nil {
		return err
	}
	c.metadata.Written = true
	return nil
}

// computeInputDigest covers the walked files, the config inputs, the root
// composer manifest and the resolved ecosystem set. Ecosystem detection
// reads files the walker may skip.
func computeInputDigest(root string, files []string, configPath, exclusionConfig string, ecosystems []string) (string, error) {
	records := make([]string, 0, len(files)+4)
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", err
		}
		digest, err := hashFile(path)
		if err != nil {
			return "", err
		}
		records = append(records, filepath.ToSlash(rel)+"\x00"+digest)
	}
	extras := []struct{ label, path string }{
		{"config", configPath},
		{"exclusions", exclusionConfig},
		{"composer", filepath.Join(root, "composer.json")},
	}
	for _, extra := range extras {
		path := strings.TrimSpace(extra.path)
		if path == "" {
			continue
		}
		digest, err := hashFileOrMissing(path)
		if err != nil {
			return "", err
		}
		records = append(records, extra.label+"\x00"+filepath.Clean(path)+"\x00"+digest)
	}

	records = append(records, "ecosystems\x00"+strings.Join(ecosystems, ","))

	sort.Strings(records)
	hasher := sha256.New()
	for _, record := range records {
		_, _ = io.WriteString(hasher, record)
		_, _ = io.WriteString(hasher, "\n")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	data, err := safeio.ReadFile(path)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

func hashFileOrMissing(path string) (string, error) {
	digest, err := hashFile(path)
	if err == nil {
		return digest, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "missing", nil
	}
	return "", err
}

func hashJSON(value any) (string, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return sha256Hex(payload), nil
}

func sha256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if os.Rename(tmpPath, path) == nil {
		return nil
	}
	_ = os.Remove(tmpPath)
	// Windows cannot rename over an existing file.
	return os.WriteFile(path, data, 0o600)
}
