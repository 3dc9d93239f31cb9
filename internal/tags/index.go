package tags

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/markme/internal/serviceerrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultAutocompleteLimit applies when callers pass a non-positive limit.
	DefaultAutocompleteLimit = 10
	// MaxAutocompleteLimit caps the number of suggestions per query.
	MaxAutocompleteLimit = 100

	opIndexNew     = "tags.index.new"
	opUpsert       = "tags.upsert"
	opRelease      = "tags.release"
	opAutocomplete = "tags.autocomplete"
	opListAll      = "tags.list_all"
	opLookup       = "tags.lookup"

	queryOwner     = "owner_id = ?"
	queryOwnerName = "owner_id = ? AND name = ?"
	orderByUsage   = "usage_count DESC"
	orderByName    = "name ASC"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingTx       = errors.New("transaction handle is required")
	noOpLogger         = zap.NewNop()
)

// IndexConfig describes the dependencies of the tag index.
type IndexConfig struct {
	Database     *gorm.DB
	DefaultLimit int
	Logger       *zap.Logger
}

// Index keeps per-owner tag usage counts and answers prefix queries over them.
//
// Write methods take the caller's transaction so that count changes commit or roll
// back together with the bookmark association change that caused them.
type Index struct {
	db           *gorm.DB
	defaultLimit int
	logger       *zap.Logger
}

// NewIndex constructs an Index.
func NewIndex(cfg IndexConfig) (*Index, error) {
	if cfg.Database == nil {
		return nil, serviceerrors.New(opIndexNew, "missing_database", errMissingDatabase)
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = DefaultAutocompleteLimit
	}
	if limit > MaxAutocompleteLimit {
		limit = MaxAutocompleteLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Index{db: cfg.Database, defaultLimit: limit, logger: logger}, nil
}

// Upsert increments the usage count of name for the owner, creating it at one.
func (index *Index) Upsert(tx *gorm.DB, ownerID string, name Name) error {
	if tx == nil {
		return serviceerrors.New(opUpsert, "missing_transaction", errMissingTx)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return err
	}
	row := Tag{OwnerID: ownerID, Name: name.String(), UsageCount: 1}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"usage_count": gorm.Expr("usage_count + 1")}),
	}).Create(&row).Error
	if err != nil {
		index.logError(opUpsert, "upsert_failed", err, zap.String("owner_id", ownerID), zap.String("tag", name.String()))
		return serviceerrors.New(opUpsert, "upsert_failed", err)
	}
	return nil
}

// Release decrements the usage count of name and removes the tag once unused.
// Releasing an absent tag is a no-op.
func (index *Index) Release(tx *gorm.DB, ownerID string, name Name) error {
	if tx == nil {
		return serviceerrors.New(opRelease, "missing_transaction", errMissingTx)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return err
	}
	result := tx.Model(&Tag{}).
		Where(queryOwnerName, ownerID, name.String()).
		Update("usage_count", gorm.Expr("usage_count - 1"))
	if result.Error != nil {
		index.logError(opRelease, "decrement_failed", result.Error, zap.String("owner_id", ownerID), zap.String("tag", name.String()))
		return serviceerrors.New(opRelease, "decrement_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	if err := tx.Where(queryOwnerName+" AND usage_count <= 0", ownerID, name.String()).Delete(&Tag{}).Error; err != nil {
		index.logError(opRelease, "delete_failed", err, zap.String("owner_id", ownerID), zap.String("tag", name.String()))
		return serviceerrors.New(opRelease, "delete_failed", err)
	}
	return nil
}

// Autocomplete returns the owner's tags whose name starts with the normalized prefix,
// ordered by usage count descending and name ascending, truncated to limit.
func (index *Index) Autocomplete(ctx context.Context, ownerID, prefix string, limit int) ([]Tag, error) {
	if index.db == nil {
		index.logError(opAutocomplete, "missing_database", errMissingDatabase)
		return nil, serviceerrors.New(opAutocomplete, "missing_database", errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = index.defaultLimit
	}
	if limit > MaxAutocompleteLimit {
		limit = MaxAutocompleteLimit
	}

	query := index.db.WithContext(ctx).Where(queryOwner, ownerID)
	if normalized := NormalizePrefix(prefix); normalized != "" {
		query = query.Where("name >= ?", normalized)
		if upper, ok := prefixUpperBound(normalized); ok {
			query = query.Where("name < ?", upper)
		}
	}

	var matches []Tag
	if err := query.Order(orderByUsage).Order(orderByName).Limit(limit).Find(&matches).Error; err != nil {
		index.logError(opAutocomplete, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, serviceerrors.New(opAutocomplete, "query_failed", err)
	}
	return matches, nil
}

// ListAll returns every tag of the owner with its usage count, ordered by name.
func (index *Index) ListAll(ctx context.Context, ownerID string) ([]Tag, error) {
	if index.db == nil {
		index.logError(opListAll, "missing_database", errMissingDatabase)
		return nil, serviceerrors.New(opListAll, "missing_database", errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return nil, err
	}
	var all []Tag
	if err := index.db.WithContext(ctx).Where(queryOwner, ownerID).Order(orderByName).Find(&all).Error; err != nil {
		index.logError(opListAll, "query_failed", err, zap.String("owner_id", ownerID))
		return nil, serviceerrors.New(opListAll, "query_failed", err)
	}
	return all, nil
}

// UsageCount returns the stored count for name, zero when the tag does not exist.
func (index *Index) UsageCount(ctx context.Context, ownerID string, name Name) (int64, error) {
	if index.db == nil {
		return 0, serviceerrors.New(opLookup, "missing_database", errMissingDatabase)
	}
	var row Tag
	lookup := index.db.WithContext(ctx).Where(queryOwnerName, ownerID, name.String()).Limit(1).Find(&row)
	if lookup.Error != nil {
		index.logError(opLookup, "query_failed", lookup.Error, zap.String("owner_id", ownerID))
		return 0, serviceerrors.New(opLookup, "query_failed", lookup.Error)
	}
	if lookup.RowsAffected == 0 {
		return 0, nil
	}
	return row.UsageCount, nil
}

func (index *Index) loggerOrDefault() *zap.Logger {
	if index == nil || index.logger == nil {
		return noOpLogger
	}
	return index.logger
}

func (index *Index) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	index.loggerOrDefault().Error("tag index error", attrs...)
}
