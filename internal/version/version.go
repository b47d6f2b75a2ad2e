package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
)

var ErrInvalidVersion = errors.New("invalid version")

// Normalize turns PHP and WordPress style versions ("8", "8.1", "6.4.2",
// "8.1.0RC1") into major.minor.patch.
func Normalize(value string) (string, error) {
	parsed, err := Parse(value)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

func Parse(value string) (*semver.Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "v")
	end := 0
	for end < len(trimmed) && (trimmed[end] == '.' || (trimmed[end] >= '0' && trimmed[end] <= '9')) {
		end++
	}
	numeric := strings.Trim(trimmed[:end], ".")
	if numeric == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, value)
	}

	parts := strings.Split(numeric, ".")
	segments := [3]int64{}
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, value)
		}
		segments[i] = n
	}
	return &semver.Version{Major: segments[0], Minor: segments[1], Patch: segments[2]}, nil
}

// Compare returns -1, 0 or 1. Unparseable versions sort before parseable
// ones and compare lexically among themselves.
func Compare(a, b string) int {
	left, leftErr := Parse(a)
	right, rightErr := Parse(b)
	switch {
	case leftErr != nil && rightErr != nil:
		return strings.Compare(a, b)
	case leftErr != nil:
		return -1
	case rightErr != nil:
		return 1
	}
	return left.Compare(*right)
}

// AtLeast reports target >= minimum.
func AtLeast(target, minimum string) bool {
	return Compare(target, minimum) >= 0
}

// Below reports target < minimum.
func Below(target, minimum string) bool {
	return Compare(target, minimum) < 0
}

// NormalizeList normalizes each version and drops duplicates, keeping order.
func NormalizeList(values []string) ([]string, error) {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		normalized, err := Normalize(value)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, strings.TrimSpace(value))
	}
	return result, nil
}
