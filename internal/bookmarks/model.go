package bookmarks

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTitleLength bounds a bookmark title in runes.
	MaxTitleLength = 512
	// MaxDescriptionLength bounds a bookmark description in runes.
	MaxDescriptionLength = 4096
	// DefaultPageSize applies when a page size is not provided.
	DefaultPageSize = 20
	// MaxPageSize caps the page size accepted from callers.
	MaxPageSize = 100

	maxIdentifierLength = 190
)

var (
	// ErrInvalidURL indicates that a bookmark url is not a well-formed absolute URI.
	ErrInvalidURL = errors.New("bookmarks: invalid url")
	// ErrInvalidTitle indicates that a bookmark title exceeds its bound.
	ErrInvalidTitle = errors.New("bookmarks: invalid title")
	// ErrInvalidDescription indicates that a bookmark description exceeds its bound.
	ErrInvalidDescription = errors.New("bookmarks: invalid description")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("bookmarks: invalid owner id")
	// ErrInvalidBookmarkID indicates that a bookmark identifier is empty or exceeds storage bounds.
	ErrInvalidBookmarkID = errors.New("bookmarks: invalid bookmark id")
	// ErrBookmarkNotFound is returned for unknown bookmarks and for bookmarks of another owner alike.
	ErrBookmarkNotFound = errors.New("bookmarks: bookmark not found")
	// ErrBookmarkConflict indicates that an update would give two bookmarks of one owner the same url.
	ErrBookmarkConflict = errors.New("bookmarks: url already bookmarked")
)

// ValidationError ties a rejected input to the request field it came from.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// Bookmark models a persisted bookmark. TagNames is loaded from the association table.
type Bookmark struct {
	OwnerID           string   `gorm:"column:owner_id;primaryKey;size:190;not null;uniqueIndex:idx_bookmarks_owner_url,priority:1;index:idx_bookmarks_owner_created,priority:1"`
	BookmarkID        string   `gorm:"column:bookmark_id;primaryKey;size:190;not null"`
	URL               string   `gorm:"column:url;type:text;not null"`
	NormalizedURL     string   `gorm:"column:normalized_url;size:2048;not null;uniqueIndex:idx_bookmarks_owner_url,priority:2"`
	Title             string   `gorm:"column:title;size:512;not null;default:''"`
	Description       string   `gorm:"column:description;type:text;not null;default:''"`
	SearchTitle       string   `gorm:"column:search_title;type:text;not null;default:''"`
	SearchDescription string   `gorm:"column:search_description;type:text;not null;default:''"`
	CreatedAtSeconds  int64    `gorm:"column:created_at_s;not null;index:idx_bookmarks_owner_created,priority:2"`
	UpdatedAtSeconds  int64    `gorm:"column:updated_at_s;not null"`
	TagNames          []string `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Bookmark) TableName() string {
	return "bookmarks"
}

// CreatedAt returns the creation time in UTC.
func (b Bookmark) CreatedAt() time.Time {
	return time.Unix(b.CreatedAtSeconds, 0).UTC()
}

// BookmarkTag associates a bookmark with one normalized tag name of the same owner.
type BookmarkTag struct {
	OwnerID    string `gorm:"column:owner_id;primaryKey;size:190;not null;index:idx_bookmark_tags_owner_tag,priority:1"`
	BookmarkID string `gorm:"column:bookmark_id;primaryKey;size:190;not null"`
	TagName    string `gorm:"column:tag_name;primaryKey;size:190;not null;index:idx_bookmark_tags_owner_tag,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (BookmarkTag) TableName() string {
	return "bookmark_tags"
}

// Draft is the input for creating a bookmark. A zero CreatedAt means "now".
type Draft struct {
	URL         string
	Title       string
	Description string
	Tags        []string
	CreatedAt   time.Time
}

// Fields describes a partial update; nil members are left unchanged.
type Fields struct {
	URL         *string
	Title       *string
	Description *string
	Tags        *[]string
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

// Normalize applies defaults and bounds to the page.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the row offset of the normalized page.
func (p Page) Offset() int {
	normalized := p.Normalize()
	return (normalized.Number - 1) * normalized.Size
}

// ListResult is one page of bookmarks plus the total number of matches.
type ListResult struct {
	Items []Bookmark
	Total int64
}

// RecordFailure reports a bulk record that was skipped instead of stored.
type RecordFailure struct {
	Index  int
	URL    string
	Reason string
}

// BulkResult summarizes a BulkCreate batch.
type BulkResult struct {
	Bookmarks []Bookmark
	Failures  []RecordFailure
}

func validateOwnerID(ownerID string) error {
	trimmed := strings.TrimSpace(ownerID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return nil
}

func validateBookmarkID(bookmarkID string) error {
	trimmed := strings.TrimSpace(bookmarkID)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidBookmarkID)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidBookmarkID, maxIdentifierLength)
	}
	return nil
}

func normalizeTitle(rawInput string) (string, error) {
	title := strings.TrimSpace(rawInput)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, MaxTitleLength)
	}
	return title, nil
}

func normalizeDescription(rawInput string) (string, error) {
	description := strings.TrimSpace(rawInput)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDescription, MaxDescriptionLength)
	}
	return description, nil
}
