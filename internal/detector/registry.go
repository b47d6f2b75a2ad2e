package detector

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownDetector = errors.New("unknown detector")

// Registry holds detectors by ID in registration order.
type Registry struct {
	detectors map[string]Detector
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Detector)}
}

func (r *Registry) Register(item Detector) error {
	if item == nil {
		return errors.New("detector is nil")
	}
	key := normalizeID(item.ID())
	if key == "" {
		return errors.New("detector id cannot be empty")
	}
	if _, exists := r.detectors[key]; exists {
		return fmt.Errorf("detector id already registered: %s", item.ID())
	}
	r.detectors[key] = item
	r.order = append(r.order, key)
	return nil
}

func (r *Registry) Get(id string) (Detector, error) {
	item, ok := r.detectors[normalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, id)
	}
	return item, nil
}

func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// Select returns the detectors named by ids in registration order. An
// empty list selects every detector.
func (r *Registry) Select(ids []string) ([]Detector, error) {
	if len(ids) == 0 {
		selected := make([]Detector, 0, len(r.order))
		for _, key := range r.order {
			selected = append(selected, r.detectors[key])
		}
		return selected, nil
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key := normalizeID(id)
		if _, ok := r.detectors[key]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, id)
		}
		wanted[key] = struct{}{}
	}
	selected := make([]Detector, 0, len(wanted))
	for _, key := range r.order {
		if _, ok := wanted[key]; ok {
			selected = append(selected, r.detectors[key])
		}
	}
	return selected, nil
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
