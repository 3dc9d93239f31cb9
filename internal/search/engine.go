// Package search answers owner-scoped tag and text queries over stored bookmarks.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/serviceerrors"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mode selects how multiple tag filters combine.
type Mode string

const (
	// ModeAll keeps bookmarks holding every requested tag.
	ModeAll Mode = "all"
	// ModeAny keeps bookmarks holding at least one requested tag.
	ModeAny Mode = "any"

	opEngineNew = "search.engine.new"
	opByTag     = "search.by_tag"
	opByText    = "search.by_text"
	opCombined  = "search.combined"

	likeEscape = `\`
)

var (
	// ErrInvalidMode indicates an unknown tag filter mode.
	ErrInvalidMode = errors.New("search: invalid mode")

	errMissingDatabase = errors.New("database handle is required")
	errMissingOwnerID  = errors.New("owner identifier is required")
	noOpLogger         = zap.NewNop()
	likeReplacer       = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// ParseMode maps user input to a Mode. Empty input selects ModeAll.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ModeAll):
		return ModeAll, nil
	case string(ModeAny):
		return ModeAny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, value)
	}
}

// Query combines a tag filter, a text filter and a page.
type Query struct {
	OwnerID string
	Tags    []string
	Mode    Mode
	Text    string
	Page    bookmarks.Page
}

// EngineConfig describes the dependencies of the search engine.
type EngineConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Engine runs read-only queries. Every statement it issues filters on owner_id.
type Engine struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, serviceerrors.New(opEngineNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{db: cfg.Database, logger: logger}, nil
}

// ByTag returns the owner's bookmarks matching the tag set under mode, newest first.
// An empty tag set returns every bookmark of the owner.
func (engine *Engine) ByTag(ctx context.Context, ownerID string, tagNames []string, mode Mode) ([]bookmarks.Bookmark, error) {
	return engine.all(ctx, opByTag, filter{ownerID: ownerID, tags: tagNames, mode: mode})
}

// ByText returns the owner's bookmarks whose title or description contains any
// whitespace-delimited token of text, compared case-insensitively.
func (engine *Engine) ByText(ctx context.Context, ownerID, text string) ([]bookmarks.Bookmark, error) {
	return engine.all(ctx, opByText, filter{ownerID: ownerID, text: text, mode: ModeAll})
}

// Combined intersects the tag and text filters and returns one page of results.
func (engine *Engine) Combined(ctx context.Context, query Query) (bookmarks.ListResult, error) {
	if engine.db == nil {
		engine.logError(opCombined, "missing_database", errMissingDatabase)
		return bookmarks.ListResult{}, serviceerrors.New(opCombined, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(query.OwnerID) == "" {
		return bookmarks.ListResult{}, serviceerrors.New(opCombined, "missing_owner_id", errMissingOwnerID)
	}
	page := query.Page.Normalize()
	criteria := filter{ownerID: query.OwnerID, tags: query.Tags, mode: query.Mode, text: query.Text}

	var result bookmarks.ListResult
	txErr := engine.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped, matchable := criteria.apply(tx)
		if !matchable {
			result.Items = []bookmarks.Bookmark{}
			return nil
		}
		if err := scoped.Count(&result.Total).Error; err != nil {
			return err
		}
		ordered, _ := criteria.apply(tx)
		if err := ordered.Order(bookmarks.OrderNewestFirst).
			Offset(page.Offset()).
			Limit(page.Size).
			Find(&result.Items).Error; err != nil {
			return err
		}
		return bookmarks.AttachTagNames(tx, query.OwnerID, result.Items)
	})
	if txErr != nil {
		engine.logError(opCombined, "query_failed", txErr, zap.String("owner_id", query.OwnerID))
		return bookmarks.ListResult{}, serviceerrors.New(opCombined, "query_failed", txErr)
	}
	if result.Items == nil {
		result.Items = []bookmarks.Bookmark{}
	}
	return result, nil
}

func (engine *Engine) all(ctx context.Context, operation string, criteria filter) ([]bookmarks.Bookmark, error) {
	if engine.db == nil {
		engine.logError(operation, "missing_database", errMissingDatabase)
		return nil, serviceerrors.New(operation, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(criteria.ownerID) == "" {
		return nil, serviceerrors.New(operation, "missing_owner_id", errMissingOwnerID)
	}

	items := []bookmarks.Bookmark{}
	txErr := engine.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped, matchable := criteria.apply(tx)
		if !matchable {
			return nil
		}
		if err := scoped.Order(bookmarks.OrderNewestFirst).Find(&items).Error; err != nil {
			return err
		}
		return bookmarks.AttachTagNames(tx, criteria.ownerID, items)
	})
	if txErr != nil {
		engine.logError(operation, "query_failed", txErr, zap.String("owner_id", criteria.ownerID))
		return nil, serviceerrors.New(operation, "query_failed", txErr)
	}
	return items, nil
}

type filter struct {
	ownerID string
	tags    []string
	mode    Mode
	text    string
}

// apply builds a fresh scoped query. matchable is false when the filter can match
// nothing, such as an ALL filter naming a tag that cannot exist.
func (criteria filter) apply(db *gorm.DB) (*gorm.DB, bool) {
	scoped := db.Model(&bookmarks.Bookmark{}).Where("owner_id = ?", criteria.ownerID)

	if len(criteria.tags) > 0 {
		names, invalid := normalizeQueryTags(criteria.tags)
		if criteria.mode == ModeAny {
			if len(names) == 0 {
				return scoped, false
			}
			matching := db.Model(&bookmarks.BookmarkTag{}).
				Select("bookmark_id").
				Where("owner_id = ? AND tag_name IN ?", criteria.ownerID, names)
			scoped = scoped.Where("bookmark_id IN (?)", matching)
		} else {
			if invalid > 0 || len(names) == 0 {
				return scoped, false
			}
			matching := db.Model(&bookmarks.BookmarkTag{}).
				Select("bookmark_id").
				Where("owner_id = ? AND tag_name IN ?", criteria.ownerID, names).
				Group("bookmark_id").
				Having("COUNT(DISTINCT tag_name) = ?", len(names))
			scoped = scoped.Where("bookmark_id IN (?)", matching)
		}
	}

	if tokens := strings.Fields(bookmarks.FoldSearchText(criteria.text)); len(tokens) > 0 {
		clauses := make([]string, 0, len(tokens))
		args := make([]interface{}, 0, len(tokens)*2)
		for _, token := range tokens {
			pattern := "%" + likeReplacer.Replace(token) + "%"
			clauses = append(clauses, "(search_title LIKE ? ESCAPE '"+likeEscape+"' OR search_description LIKE ? ESCAPE '"+likeEscape+"')")
			args = append(args, pattern, pattern)
		}
		scoped = scoped.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}

	return scoped, true
}

// normalizeQueryTags folds query tags like stored tags. Names that cannot be valid tags
// are counted rather than rejected; they can never match a stored association.
func normalizeQueryTags(rawInputs []string) ([]string, int) {
	seen := make(map[string]struct{}, len(rawInputs))
	names := make([]string, 0, len(rawInputs))
	invalid := 0
	for _, raw := range rawInputs {
		name, err := tags.Normalize(raw)
		if err != nil {
			invalid++
			continue
		}
		if _, ok := seen[name.String()]; ok {
			continue
		}
		seen[name.String()] = struct{}{}
		names = append(names, name.String())
	}
	return names, invalid
}

func (engine *Engine) loggerOrDefault() *zap.Logger {
	if engine == nil || engine.logger == nil {
		return noOpLogger
	}
	return engine.logger
}

func (engine *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	engine.loggerOrDefault().Error("search engine error", attrs...)
}
