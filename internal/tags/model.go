package tags

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxNameLength bounds a normalized tag name in runes.
	MaxNameLength    = 64
	maxOwnerIDLength = 190
)

var (
	// ErrInvalidTag indicates that a tag name is empty after normalization or too long.
	ErrInvalidTag = errors.New("tags: invalid tag name")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("tags: invalid owner id")
)

// Tag is the per-owner usage counter row. UsageCount equals the number of the owner's
// bookmarks currently associated with Name.
type Tag struct {
	OwnerID    string `gorm:"column:owner_id;primaryKey;size:190;not null;index:idx_tags_owner_usage,priority:1"`
	Name       string `gorm:"column:name;primaryKey;size:190;not null"`
	UsageCount int64  `gorm:"column:usage_count;not null;default:0;index:idx_tags_owner_usage,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// Name is a normalized tag name: NFKC folded, lower-cased, trimmed, with internal
// whitespace runs collapsed to one space.
type Name string

// Normalize validates raw input and returns its normalized Name.
func Normalize(rawInput string) (Name, error) {
	normalized := fold(rawInput)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTag)
	}
	if utf8.RuneCountInString(normalized) > MaxNameLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTag, MaxNameLength)
	}
	return Name(normalized), nil
}

// NormalizePrefix folds an autocomplete prefix the same way tag names are folded.
// An empty result matches every tag.
func NormalizePrefix(rawInput string) string {
	return fold(rawInput)
}

// String returns the underlying tag name.
func (n Name) String() string {
	return string(n)
}

// NormalizeSet normalizes, de-duplicates and sorts the provided names.
func NormalizeSet(rawInputs []string) ([]Name, error) {
	seen := make(map[Name]struct{}, len(rawInputs))
	names := make([]Name, 0, len(rawInputs))
	for _, raw := range rawInputs {
		name, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w (%q)", err, raw)
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Strings converts names to plain strings.
func Strings(names []Name) []string {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = name.String()
	}
	return values
}

func fold(rawInput string) string {
	composed := norm.NFKC.String(rawInput)
	return strings.Join(strings.Fields(strings.ToLower(composed)), " ")
}

func validateOwnerID(ownerID string) error {
	trimmed := strings.TrimSpace(ownerID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxOwnerIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxOwnerIDLength)
	}
	return nil
}

// prefixUpperBound returns the smallest string greater than every string starting with
// prefix under byte-wise comparison. ok is false when no such bound exists.
func prefixUpperBound(prefix string) (string, bool) {
	bound := []byte(prefix)
	for len(bound) > 0 {
		last := len(bound) - 1
		if bound[last] < 0xFF {
			bound[last]++
			return string(bound), true
		}
		bound = bound[:last]
	}
	return "", false
}
