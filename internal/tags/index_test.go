package tags

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestIndex(t *testing.T) (*Index, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:markme_tags_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Tag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	index, err := NewIndex(IndexConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct index: %v", err)
	}
	return index, db
}

func mustName(t *testing.T, value string) Name {
	t.Helper()
	name, err := Normalize(value)
	if err != nil {
		t.Fatalf("unexpected tag error: %v", err)
	}
	return name
}

func upsertTimes(t *testing.T, index *Index, db *gorm.DB, ownerID, tag string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if err := index.Upsert(db, ownerID, mustName(t, tag)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
}

func names(tags []Tag) string {
	values := make([]string, len(tags))
	for i, tag := range tags {
		values[i] = tag.Name
	}
	return strings.Join(values, ",")
}

func TestAutocompleteOrdersByUsageThenName(t *testing.T) {
	index, db := newTestIndex(t)
	upsertTimes(t, index, db, "owner-1", "go", 5)
	upsertTimes(t, index, db, "owner-1", "git", 3)
	upsertTimes(t, index, db, "owner-1", "gopher", 5)

	matches, err := index.Autocomplete(context.Background(), "owner-1", "go", 10)
	if err != nil {
		t.Fatalf("autocomplete failed: %v", err)
	}
	if names(matches) != "go,gopher" {
		t.Fatalf("unexpected suggestions %q", names(matches))
	}
	if matches[0].UsageCount != 5 || matches[1].UsageCount != 5 {
		t.Fatalf("unexpected counts %#v", matches)
	}
}

func TestAutocompleteEmptyPrefixReturnsMostUsed(t *testing.T) {
	index, db := newTestIndex(t)
	upsertTimes(t, index, db, "owner-1", "rare", 1)
	upsertTimes(t, index, db, "owner-1", "common", 4)
	upsertTimes(t, index, db, "owner-1", "middle", 2)

	matches, err := index.Autocomplete(context.Background(), "owner-1", "", 2)
	if err != nil {
		t.Fatalf("autocomplete failed: %v", err)
	}
	if names(matches) != "common,middle" {
		t.Fatalf("unexpected suggestions %q", names(matches))
	}
}

func TestAutocompleteNormalizesPrefix(t *testing.T) {
	index, db := newTestIndex(t)
	upsertTimes(t, index, db, "owner-1", "web dev", 1)
	upsertTimes(t, index, db, "owner-1", "webassembly", 1)

	matches, err := index.Autocomplete(context.Background(), "owner-1", "  WEB   D", 0)
	if err != nil {
		t.Fatalf("autocomplete failed: %v", err)
	}
	if names(matches) != "web dev" {
		t.Fatalf("unexpected suggestions %q", names(matches))
	}
}

func TestAutocompleteIsOwnerScoped(t *testing.T) {
	index, db := newTestIndex(t)
	upsertTimes(t, index, db, "owner-1", "golang", 1)
	upsertTimes(t, index, db, "owner-2", "gorm", 1)

	matches, err := index.Autocomplete(context.Background(), "owner-1", "go", 10)
	if err != nil {
		t.Fatalf("autocomplete failed: %v", err)
	}
	if names(matches) != "golang" {
		t.Fatalf("owner-2 tags leaked: %q", names(matches))
	}
}

func TestReleaseRemovesTagAtZero(t *testing.T) {
	index, db := newTestIndex(t)
	ctx := context.Background()
	upsertTimes(t, index, db, "owner-1", "x", 2)

	if err := index.Release(db, "owner-1", mustName(t, "x")); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	count, err := index.UsageCount(ctx, "owner-1", mustName(t, "x"))
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d (%v)", count, err)
	}

	if err := index.Release(db, "owner-1", mustName(t, "x")); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	all, err := index.ListAll(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected tag to be removed, got %#v", all)
	}
}

func TestReleaseAbsentTagIsNoOp(t *testing.T) {
	index, db := newTestIndex(t)
	if err := index.Release(db, "owner-1", mustName(t, "missing")); err != nil {
		t.Fatalf("releasing an absent tag should not fail: %v", err)
	}
}

func TestUpsertRollsBackWithTransaction(t *testing.T) {
	index, db := newTestIndex(t)
	rollback := fmt.Errorf("abort")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := index.Upsert(tx, "owner-1", mustName(t, "draft")); err != nil {
			return err
		}
		return rollback
	})
	if err != rollback {
		t.Fatalf("expected rollback error, got %v", err)
	}
	count, err := index.UsageCount(context.Background(), "owner-1", mustName(t, "draft"))
	if err != nil || count != 0 {
		t.Fatalf("expected rolled back count 0, got %d (%v)", count, err)
	}
}

func TestIndexWithoutDatabaseReportsCode(t *testing.T) {
	index := &Index{}
	if _, err := index.Autocomplete(context.Background(), "owner-1", "go", 10); err == nil ||
		!strings.Contains(err.Error(), "tags.autocomplete.missing_database") {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestNewIndexRequiresDatabase(t *testing.T) {
	if _, err := NewIndex(IndexConfig{}); err == nil {
		t.Fatalf("expected constructor error without database")
	}
}
