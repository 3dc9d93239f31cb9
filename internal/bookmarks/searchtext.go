package bookmarks

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// FoldSearchText folds text for caseless substring matching. The stored search columns
// and query tokens both go through it, so matching never depends on the database's own
// case rules.
func FoldSearchText(text string) string {
	return cases.Fold().String(norm.NFKC.String(text))
}

// BeforeSave keeps the folded search columns in step with title and description.
func (b *Bookmark) BeforeSave(*gorm.DB) error {
	b.refreshSearchText()
	return nil
}

func (b *Bookmark) refreshSearchText() {
	b.SearchTitle = FoldSearchText(b.Title)
	b.SearchDescription = FoldSearchText(b.Description)
}
