package detector

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/ben-ranford/wpfatal/internal/safeio"
)

type source struct {
	content string
	lines   []string
	ok      bool
}

// Sources caches file contents for the duration of one run so every
// detector and every version combination reads a file once. Reads are
// confined to the plugin root when one is set.
type Sources struct {
	root  string
	cache sync.Map
}

func NewSources(root string) *Sources {
	return &Sources{root: root}
}

func (s *Sources) Root() string {
	return s.root
}

func (s *Sources) load(path string) *source {
	if cached, ok := s.cache.Load(path); ok {
		return cached.(*source)
	}
	entry := &source{}
	lines, err := safeio.ReadLines(s.root, path)
	if err != nil {
		slog.Debug("skipping unreadable file", "path", path, "error", err)
	} else {
		entry.lines = lines
		entry.content = strings.Join(lines, "\n")
		entry.ok = true
	}
	actual, _ := s.cache.LoadOrStore(path, entry)
	return actual.(*source)
}

// Lines returns the file split into lines, or false when unreadable.
func (s *Sources) Lines(path string) ([]string, bool) {
	entry := s.load(path)
	return entry.lines, entry.ok
}

func (s *Sources) Content(path string) (string, bool) {
	entry := s.load(path)
	return entry.content, entry.ok
}
