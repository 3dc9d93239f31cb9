package bookmarks

import (
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/markme/internal/tags"
)

// difference returns the names in left that are absent from right, keeping left's order.
func difference(left, right []tags.Name) []tags.Name {
	exclude := make(map[tags.Name]struct{}, len(right))
	for _, name := range right {
		exclude[name] = struct{}{}
	}
	result := make([]tags.Name, 0, len(left))
	for _, name := range left {
		if _, ok := exclude[name]; !ok {
			result = append(result, name)
		}
	}
	return result
}

// union returns the sorted, de-duplicated names of both sets.
func union(left, right []tags.Name) []tags.Name {
	merged := make([]tags.Name, 0, len(left)+len(right))
	merged = append(merged, left...)
	merged = append(merged, right...)
	slices.Sort(merged)
	return slices.Compact(merged)
}

func trimmedURL(rawInput string) string {
	return strings.TrimSpace(rawInput)
}
