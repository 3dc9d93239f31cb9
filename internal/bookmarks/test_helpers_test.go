package bookmarks

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("bookmark-%03d", g.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestService(t *testing.T) (*Service, *tags.Index, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:markme_bookmarks_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Bookmark{}, &BookmarkTag{}, &tags.Tag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	index, err := tags.NewIndex(tags.IndexConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct tag index: %v", err)
	}
	clock := &steppingClock{current: time.Unix(1700000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Tags:       index,
		Clock:      clock.Now,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct bookmark service: %v", err)
	}
	return service, index, db
}

// assertCountInvariant checks that every stored usage count equals the number of
// associations referencing the tag, and that no unreferenced tag row remains.
func assertCountInvariant(t *testing.T, db *gorm.DB) {
	t.Helper()

	type aggregate struct {
		OwnerID string
		TagName string
		Total   int64
	}
	var associations []aggregate
	if err := db.Model(&BookmarkTag{}).
		Select("owner_id, tag_name, COUNT(*) AS total").
		Group("owner_id, tag_name").
		Scan(&associations).Error; err != nil {
		t.Fatalf("failed to aggregate associations: %v", err)
	}
	expected := make(map[string]int64, len(associations))
	for _, row := range associations {
		expected[row.OwnerID+"/"+row.TagName] = row.Total
	}

	var stored []tags.Tag
	if err := db.Find(&stored).Error; err != nil {
		t.Fatalf("failed to load tags: %v", err)
	}
	if len(stored) != len(expected) {
		t.Fatalf("tag rows %d do not match referenced tags %d", len(stored), len(expected))
	}
	for _, tag := range stored {
		if want := expected[tag.OwnerID+"/"+tag.Name]; tag.UsageCount != want {
			t.Fatalf("usage count drift for %s/%s: stored %d, referenced %d", tag.OwnerID, tag.Name, tag.UsageCount, want)
		}
	}
}

func stringPointer(value string) *string {
	return &value
}

func tagsPointer(values ...string) *[]string {
	return &values
}
