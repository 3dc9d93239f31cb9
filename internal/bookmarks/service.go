package bookmarks

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/markme/internal/locking"
	"github.com/MarcoPoloResearchLab/markme/internal/serviceerrors"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "bookmarks.service.new"
	opCreate     = "bookmarks.create"
	opBulkCreate = "bookmarks.bulk_create"
	opUpdate     = "bookmarks.update"
	opDelete     = "bookmarks.delete"
	opGet        = "bookmarks.get"
	opList       = "bookmarks.list"

	queryOwnerBookmark = "owner_id = ? AND bookmark_id = ?"
	queryOwnerURL      = "owner_id = ? AND normalized_url = ?"
	// OrderNewestFirst is the default listing order shared with the search engine.
	OrderNewestFirst = "created_at_s DESC, bookmark_id DESC"

	reasonMissingDatabase = "missing_database"
	reasonSelectFailed    = "bookmark_select_failed"
	reasonInsertFailed    = "bookmark_insert_failed"
	reasonSaveFailed      = "bookmark_save_failed"
	reasonDeleteFailed    = "bookmark_delete_failed"
	reasonTagsLoadFailed  = "tags_load_failed"
	reasonTagAttachFailed = "tag_attach_failed"
	reasonTagDetachFailed = "tag_detach_failed"
	reasonIDFailed        = "id_generation_failed"
	reasonQueryFailed     = "query_failed"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTagIndex   = errors.New("tag index is required")
	noOpLogger           = zap.NewNop()
)

// TagIndex is the subset of the tag index the store needs to keep usage counts exact.
type TagIndex interface {
	Upsert(tx *gorm.DB, ownerID string, name tags.Name) error
	Release(tx *gorm.DB, ownerID string, name tags.Name) error
}

// ServiceConfig describes the dependencies of the bookmark store.
type ServiceConfig struct {
	Database   *gorm.DB
	Tags       TagIndex
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Locks      *locking.KeyedMutex
}

// Service owns bookmark records and their tag associations.
//
// Every mutation holds the owner's write lock and runs in one transaction that covers
// the bookmark row, its association rows and the tag usage counts.
type Service struct {
	db         *gorm.DB
	tagIndex   TagIndex
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      *locking.KeyedMutex
}

// NewService constructs the bookmark store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerrors.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Tags == nil {
		return nil, serviceerrors.New(opServiceNew, "missing_tag_index", errMissingTagIndex)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerrors.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	locks := cfg.Locks
	if locks == nil {
		locks = locking.NewKeyedMutex()
	}
	return &Service{
		db:         cfg.Database,
		tagIndex:   cfg.Tags,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		locks:      locks,
	}, nil
}

type preparedDraft struct {
	url           string
	normalizedURL string
	title         string
	description   string
	tags          []tags.Name
	createdAt     time.Time
}

func prepareDraft(draft Draft) (preparedDraft, error) {
	normalizedURL, err := NormalizeURL(draft.URL)
	if err != nil {
		return preparedDraft{}, newValidationError("url", err)
	}
	title, err := normalizeTitle(draft.Title)
	if err != nil {
		return preparedDraft{}, newValidationError("title", err)
	}
	description, err := normalizeDescription(draft.Description)
	if err != nil {
		return preparedDraft{}, newValidationError("description", err)
	}
	names, err := tags.NormalizeSet(draft.Tags)
	if err != nil {
		return preparedDraft{}, newValidationError("tags", err)
	}
	return preparedDraft{
		url:           trimmedURL(draft.URL),
		normalizedURL: normalizedURL,
		title:         title,
		description:   description,
		tags:          names,
		createdAt:     draft.CreatedAt,
	}, nil
}

// Create stores a bookmark for the owner. When the owner already has a bookmark with the
// same normalized url, the existing record is updated instead: the tag sets are merged and
// non-empty title and description replace the stored ones.
func (s *Service) Create(ctx context.Context, ownerID string, draft Draft) (Bookmark, error) {
	if s.db == nil {
		s.logError(opCreate, reasonMissingDatabase, errMissingDatabase)
		return Bookmark{}, serviceerrors.New(opCreate, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return Bookmark{}, newValidationError("owner_id", err)
	}
	prepared, err := prepareDraft(draft)
	if err != nil {
		return Bookmark{}, err
	}

	unlock := s.locks.Lock(ownerID)
	defer unlock()

	var stored Bookmark
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bookmark, err := s.createInTx(tx, opCreate, ownerID, prepared)
		if err != nil {
			return err
		}
		stored = bookmark
		return nil
	})
	if txErr != nil {
		return Bookmark{}, txErr
	}
	return stored, nil
}

// BulkCreate applies Create semantics to every draft inside one transaction. Drafts that
// fail validation are reported in Failures and do not abort the batch; a storage failure
// rolls back the whole batch.
func (s *Service) BulkCreate(ctx context.Context, ownerID string, drafts []Draft) (BulkResult, error) {
	if s.db == nil {
		s.logError(opBulkCreate, reasonMissingDatabase, errMissingDatabase)
		return BulkResult{}, serviceerrors.New(opBulkCreate, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return BulkResult{}, newValidationError("owner_id", err)
	}

	result := BulkResult{}
	prepared := make([]preparedDraft, 0, len(drafts))
	for index, draft := range drafts {
		record, err := prepareDraft(draft)
		if err != nil {
			result.Failures = append(result.Failures, RecordFailure{
				Index:  index,
				URL:    draft.URL,
				Reason: err.Error(),
			})
			continue
		}
		prepared = append(prepared, record)
	}
	if len(prepared) == 0 {
		return result, nil
	}

	unlock := s.locks.Lock(ownerID)
	defer unlock()

	stored := make([]Bookmark, 0, len(prepared))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range prepared {
			bookmark, err := s.createInTx(tx, opBulkCreate, ownerID, record)
			if err != nil {
				return err
			}
			stored = append(stored, bookmark)
		}
		return nil
	})
	if txErr != nil {
		return BulkResult{Failures: result.Failures}, txErr
	}
	result.Bookmarks = stored
	return result, nil
}

func (s *Service) createInTx(tx *gorm.DB, operation, ownerID string, record preparedDraft) (Bookmark, error) {
	now := s.clock().UTC()

	var existing Bookmark
	lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryOwnerURL, ownerID, record.normalizedURL).
		Limit(1).
		Find(&existing)
	if lookup.Error != nil {
		s.logError(operation, reasonSelectFailed, lookup.Error, zap.String("owner_id", ownerID))
		return Bookmark{}, serviceerrors.New(operation, reasonSelectFailed, lookup.Error)
	}

	if lookup.RowsAffected == 0 {
		bookmarkID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(operation, reasonIDFailed, err, zap.String("owner_id", ownerID))
			return Bookmark{}, serviceerrors.New(operation, reasonIDFailed, err)
		}
		createdAt := record.createdAt
		if createdAt.IsZero() {
			createdAt = now
		}
		created := Bookmark{
			OwnerID:          ownerID,
			BookmarkID:       bookmarkID,
			URL:              record.url,
			NormalizedURL:    record.normalizedURL,
			Title:            record.title,
			Description:      record.description,
			CreatedAtSeconds: createdAt.Unix(),
			UpdatedAtSeconds: now.Unix(),
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(operation, reasonInsertFailed, err, zap.String("owner_id", ownerID))
			return Bookmark{}, serviceerrors.New(operation, reasonInsertFailed, err)
		}
		if err := s.attachTags(tx, operation, ownerID, bookmarkID, record.tags); err != nil {
			return Bookmark{}, err
		}
		created.TagNames = tags.Strings(record.tags)
		return created, nil
	}

	current, err := s.loadTagNames(tx, operation, ownerID, existing.BookmarkID)
	if err != nil {
		return Bookmark{}, err
	}
	added := difference(record.tags, current)
	if record.title != "" {
		existing.Title = record.title
	}
	if record.description != "" {
		existing.Description = record.description
	}
	existing.UpdatedAtSeconds = now.Unix()
	if err := tx.Save(&existing).Error; err != nil {
		s.logError(operation, reasonSaveFailed, err, zap.String("owner_id", ownerID), zap.String("bookmark_id", existing.BookmarkID))
		return Bookmark{}, serviceerrors.New(operation, reasonSaveFailed, err)
	}
	if err := s.attachTags(tx, operation, ownerID, existing.BookmarkID, added); err != nil {
		return Bookmark{}, err
	}
	existing.TagNames = tags.Strings(union(current, added))
	return existing, nil
}

// Update applies a partial update to the owner's bookmark. Removed tags are released and
// added tags upserted within the same transaction.
func (s *Service) Update(ctx context.Context, ownerID, bookmarkID string, fields Fields) (Bookmark, error) {
	if s.db == nil {
		s.logError(opUpdate, reasonMissingDatabase, errMissingDatabase)
		return Bookmark{}, serviceerrors.New(opUpdate, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return Bookmark{}, newValidationError("owner_id", err)
	}
	if err := validateBookmarkID(bookmarkID); err != nil {
		return Bookmark{}, ErrBookmarkNotFound
	}

	var (
		normalizedURL string
		title         string
		description   string
		nextTags      []tags.Name
		err           error
	)
	if fields.URL != nil {
		if normalizedURL, err = NormalizeURL(*fields.URL); err != nil {
			return Bookmark{}, newValidationError("url", err)
		}
	}
	if fields.Title != nil {
		if title, err = normalizeTitle(*fields.Title); err != nil {
			return Bookmark{}, newValidationError("title", err)
		}
	}
	if fields.Description != nil {
		if description, err = normalizeDescription(*fields.Description); err != nil {
			return Bookmark{}, newValidationError("description", err)
		}
	}
	if fields.Tags != nil {
		if nextTags, err = tags.NormalizeSet(*fields.Tags); err != nil {
			return Bookmark{}, newValidationError("tags", err)
		}
	}

	unlock := s.locks.Lock(ownerID)
	defer unlock()

	var updated Bookmark
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.takeOwned(tx, opUpdate, ownerID, bookmarkID)
		if err != nil {
			return err
		}

		if fields.URL != nil && normalizedURL != existing.NormalizedURL {
			var clashes int64
			if err := tx.Model(&Bookmark{}).
				Where(queryOwnerURL+" AND bookmark_id <> ?", ownerID, normalizedURL, bookmarkID).
				Count(&clashes).Error; err != nil {
				s.logError(opUpdate, reasonSelectFailed, err, zap.String("owner_id", ownerID))
				return serviceerrors.New(opUpdate, reasonSelectFailed, err)
			}
			if clashes > 0 {
				return ErrBookmarkConflict
			}
		}
		if fields.URL != nil {
			existing.URL = trimmedURL(*fields.URL)
			existing.NormalizedURL = normalizedURL
		}
		if fields.Title != nil {
			existing.Title = title
		}
		if fields.Description != nil {
			existing.Description = description
		}

		current, err := s.loadTagNames(tx, opUpdate, ownerID, bookmarkID)
		if err != nil {
			return err
		}
		finalTags := current
		if fields.Tags != nil {
			if err := s.detachTags(tx, opUpdate, ownerID, bookmarkID, difference(current, nextTags)); err != nil {
				return err
			}
			if err := s.attachTags(tx, opUpdate, ownerID, bookmarkID, difference(nextTags, current)); err != nil {
				return err
			}
			finalTags = nextTags
		}

		existing.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opUpdate, reasonSaveFailed, err, zap.String("owner_id", ownerID), zap.String("bookmark_id", bookmarkID))
			return serviceerrors.New(opUpdate, reasonSaveFailed, err)
		}
		existing.TagNames = tags.Strings(finalTags)
		updated = existing
		return nil
	})
	if txErr != nil {
		return Bookmark{}, txErr
	}
	return updated, nil
}

// Delete removes the owner's bookmark and releases every tag it referenced.
func (s *Service) Delete(ctx context.Context, ownerID, bookmarkID string) error {
	if s.db == nil {
		s.logError(opDelete, reasonMissingDatabase, errMissingDatabase)
		return serviceerrors.New(opDelete, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return newValidationError("owner_id", err)
	}
	if err := validateBookmarkID(bookmarkID); err != nil {
		return ErrBookmarkNotFound
	}

	unlock := s.locks.Lock(ownerID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.takeOwned(tx, opDelete, ownerID, bookmarkID); err != nil {
			return err
		}
		current, err := s.loadTagNames(tx, opDelete, ownerID, bookmarkID)
		if err != nil {
			return err
		}
		if err := s.detachTags(tx, opDelete, ownerID, bookmarkID, current); err != nil {
			return err
		}
		if err := tx.Where(queryOwnerBookmark, ownerID, bookmarkID).Delete(&Bookmark{}).Error; err != nil {
			s.logError(opDelete, reasonDeleteFailed, err, zap.String("owner_id", ownerID), zap.String("bookmark_id", bookmarkID))
			return serviceerrors.New(opDelete, reasonDeleteFailed, err)
		}
		return nil
	})
}

// Get returns the owner's bookmark with its tags.
func (s *Service) Get(ctx context.Context, ownerID, bookmarkID string) (Bookmark, error) {
	if s.db == nil {
		s.logError(opGet, reasonMissingDatabase, errMissingDatabase)
		return Bookmark{}, serviceerrors.New(opGet, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return Bookmark{}, newValidationError("owner_id", err)
	}
	if err := validateBookmarkID(bookmarkID); err != nil {
		return Bookmark{}, ErrBookmarkNotFound
	}

	db := s.db.WithContext(ctx)
	bookmark, err := s.takeOwned(db, opGet, ownerID, bookmarkID)
	if err != nil {
		return Bookmark{}, err
	}
	names, err := s.loadTagNames(db, opGet, ownerID, bookmarkID)
	if err != nil {
		return Bookmark{}, err
	}
	bookmark.TagNames = tags.Strings(names)
	return bookmark, nil
}

// List returns one page of the owner's bookmarks, newest first.
func (s *Service) List(ctx context.Context, ownerID string, page Page) (ListResult, error) {
	if s.db == nil {
		s.logError(opList, reasonMissingDatabase, errMissingDatabase)
		return ListResult{}, serviceerrors.New(opList, reasonMissingDatabase, errMissingDatabase)
	}
	if err := validateOwnerID(ownerID); err != nil {
		return ListResult{}, newValidationError("owner_id", err)
	}
	page = page.Normalize()

	var result ListResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Bookmark{}).Where("owner_id = ?", ownerID).Count(&result.Total).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", ownerID).
			Order(OrderNewestFirst).
			Offset(page.Offset()).
			Limit(page.Size).
			Find(&result.Items).Error; err != nil {
			return err
		}
		return AttachTagNames(tx, ownerID, result.Items)
	})
	if txErr != nil {
		s.logError(opList, reasonQueryFailed, txErr, zap.String("owner_id", ownerID))
		return ListResult{}, serviceerrors.New(opList, reasonQueryFailed, txErr)
	}
	return result, nil
}

// AttachTagNames loads the tag names of items in one query and stores them on each item.
// Every item must belong to ownerID.
func AttachTagNames(db *gorm.DB, ownerID string, items []Bookmark) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.BookmarkID
	}
	var rows []BookmarkTag
	if err := db.Where("owner_id = ? AND bookmark_id IN ?", ownerID, ids).
		Order("tag_name ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	byBookmark := make(map[string][]string, len(items))
	for _, row := range rows {
		byBookmark[row.BookmarkID] = append(byBookmark[row.BookmarkID], row.TagName)
	}
	for i := range items {
		names := byBookmark[items[i].BookmarkID]
		if names == nil {
			names = []string{}
		}
		items[i].TagNames = names
	}
	return nil
}

func (s *Service) takeOwned(db *gorm.DB, operation, ownerID, bookmarkID string) (Bookmark, error) {
	var bookmark Bookmark
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryOwnerBookmark, ownerID, bookmarkID).
		Take(&bookmark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bookmark{}, ErrBookmarkNotFound
	}
	if err != nil {
		s.logError(operation, reasonSelectFailed, err, zap.String("owner_id", ownerID), zap.String("bookmark_id", bookmarkID))
		return Bookmark{}, serviceerrors.New(operation, reasonSelectFailed, err)
	}
	return bookmark, nil
}

func (s *Service) loadTagNames(db *gorm.DB, operation, ownerID, bookmarkID string) ([]tags.Name, error) {
	var rows []BookmarkTag
	if err := db.Where(queryOwnerBookmark, ownerID, bookmarkID).Order("tag_name ASC").Find(&rows).Error; err != nil {
		s.logError(operation, reasonTagsLoadFailed, err, zap.String("owner_id", ownerID), zap.String("bookmark_id", bookmarkID))
		return nil, serviceerrors.New(operation, reasonTagsLoadFailed, err)
	}
	names := make([]tags.Name, len(rows))
	for i, row := range rows {
		names[i] = tags.Name(row.TagName)
	}
	return names, nil
}

func (s *Service) attachTags(tx *gorm.DB, operation, ownerID, bookmarkID string, names []tags.Name) error {
	for _, name := range names {
		association := BookmarkTag{OwnerID: ownerID, BookmarkID: bookmarkID, TagName: name.String()}
		if err := tx.Create(&association).Error; err != nil {
			s.logError(operation, reasonTagAttachFailed, err, zap.String("owner_id", ownerID), zap.String("tag", name.String()))
			return serviceerrors.New(operation, reasonTagAttachFailed, err)
		}
		if err := s.tagIndex.Upsert(tx, ownerID, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) detachTags(tx *gorm.DB, operation, ownerID, bookmarkID string, names []tags.Name) error {
	for _, name := range names {
		if err := tx.Where(queryOwnerBookmark+" AND tag_name = ?", ownerID, bookmarkID, name.String()).
			Delete(&BookmarkTag{}).Error; err != nil {
			s.logError(operation, reasonTagDetachFailed, err, zap.String("owner_id", ownerID), zap.String("tag", name.String()))
			return serviceerrors.New(operation, reasonTagDetachFailed, err)
		}
		if err := s.tagIndex.Release(tx, ownerID, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("bookmarks service error", attrs...)
}
