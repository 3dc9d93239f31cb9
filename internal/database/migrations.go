package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRebuildTagUsageCounts  = "2026-10-01_rebuild_tag_usage_counts"
	migrationFoldBookmarkSearchText = "2026-10-16_fold_bookmark_search_text"

	searchTextBackfillBatchSize = 500
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRebuildTagUsageCounts, apply: RebuildTagUsageCounts},
		{name: migrationFoldBookmarkSearchText, apply: FoldBookmarkSearchText},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// RebuildTagUsageCounts recomputes every tag row from the bookmark associations so that
// each usage count equals the number of bookmarks referencing the tag.
func RebuildTagUsageCounts(db *gorm.DB) error {
	if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&tags.Tag{}).Error; err != nil {
		return err
	}
	var associations int64
	if err := db.Model(&bookmarks.BookmarkTag{}).Count(&associations).Error; err != nil {
		return err
	}
	if associations == 0 {
		return nil
	}
	return db.Exec(
		"INSERT INTO tags (owner_id, name, usage_count) " +
			"SELECT owner_id, tag_name, COUNT(*) FROM bookmark_tags GROUP BY owner_id, tag_name",
	).Error
}

// FoldBookmarkSearchText fills the folded search columns from title and description.
func FoldBookmarkSearchText(db *gorm.DB) error {
	for offset := 0; ; offset += searchTextBackfillBatchSize {
		var batch []bookmarks.Bookmark
		if err := db.Model(&bookmarks.Bookmark{}).
			Select("owner_id", "bookmark_id", "title", "description").
			Order("owner_id ASC, bookmark_id ASC").
			Offset(offset).
			Limit(searchTextBackfillBatchSize).
			Find(&batch).Error; err != nil {
			return err
		}
		for _, row := range batch {
			if err := db.Model(&bookmarks.Bookmark{}).
				Where("owner_id = ? AND bookmark_id = ?", row.OwnerID, row.BookmarkID).
				UpdateColumns(map[string]interface{}{
					"search_title":       bookmarks.FoldSearchText(row.Title),
					"search_description": bookmarks.FoldSearchText(row.Description),
				}).Error; err != nil {
				return err
			}
		}
		if len(batch) < searchTextBackfillBatchSize {
			return nil
		}
	}
}
