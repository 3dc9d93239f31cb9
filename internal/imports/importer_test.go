package imports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]bookmarks.Draft
	err     error
	reject  map[string]string
}

func (w *recordingWriter) BulkCreate(_ context.Context, _ string, drafts []bookmarks.Draft) (bookmarks.BulkResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return bookmarks.BulkResult{}, w.err
	}
	w.batches = append(w.batches, drafts)
	result := bookmarks.BulkResult{}
	for index, draft := range drafts {
		if reason, ok := w.reject[draft.URL]; ok {
			result.Failures = append(result.Failures, bookmarks.RecordFailure{Index: index, URL: draft.URL, Reason: reason})
			continue
		}
		result.Bookmarks = append(result.Bookmarks, bookmarks.Bookmark{URL: draft.URL})
	}
	return result, nil
}

func exportWithLinks(count int) string {
	var builder strings.Builder
	builder.WriteString("<DL><p>\n")
	for i := 0; i < count; i++ {
		fmt.Fprintf(&builder, "<DT><A HREF=\"https://site%d.example/\">Site %d</A>\n", i, i)
	}
	builder.WriteString("</DL><p>\n")
	return builder.String()
}

func TestImporterFlushesBoundedBatches(t *testing.T) {
	writer := &recordingWriter{}
	importer, err := NewImporter(ImporterConfig{Bookmarks: writer, BatchSize: 2})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}

	summary, err := importer.Import(context.Background(), "owner-a", strings.NewReader(exportWithLinks(5)))
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if summary.Imported != 5 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(writer.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(writer.batches))
	}
	for _, batch := range writer.batches {
		if len(batch) > 2 {
			t.Fatalf("batch exceeded bound: %d", len(batch))
		}
	}
}

func TestImporterMergesDuplicateURLsWithinBatch(t *testing.T) {
	writer := &recordingWriter{}
	importer, err := NewImporter(ImporterConfig{Bookmarks: writer})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}
	input := `<DL>
<DT><H3>Work</H3><DL><DT><A HREF="https://Example.com:443/a#top">Example</A></DL>
<DT><H3>Home</H3><DL><DT><A HREF="https://example.com/a" ADD_DATE="1500000000">Other title</A><DD>kept</DL>
</DL>`

	summary, err := importer.Import(context.Background(), "owner-a", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if summary.Imported != 2 {
		t.Fatalf("expected both records counted as imported, got %+v", summary)
	}
	if len(writer.batches) != 1 || len(writer.batches[0]) != 1 {
		t.Fatalf("expected a single merged draft, got %+v", writer.batches)
	}
	merged := writer.batches[0][0]
	if strings.Join(merged.Tags, ",") != "home,work" {
		t.Fatalf("expected union of folder tags, got %v", merged.Tags)
	}
	if merged.Title != "Example" || merged.Description != "kept" {
		t.Fatalf("unexpected merged text fields: %+v", merged)
	}
	if !merged.CreatedAt.Equal(time.Unix(1500000000, 0)) {
		t.Fatalf("expected earliest add date, got %v", merged.CreatedAt)
	}
}

func TestImporterReportsRejectedRecords(t *testing.T) {
	writer := &recordingWriter{reject: map[string]string{"javascript:alert(1)": "url: invalid"}}
	importer, err := NewImporter(ImporterConfig{Bookmarks: writer})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}
	input := `<DL><DT><A HREF="javascript:alert(1)">bad</A><DT><A HREF="https://ok.example/">ok</A></DL></DL>`

	summary, err := importer.Import(context.Background(), "owner-a", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if summary.Imported != 1 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Errors) != 2 || !strings.Contains(summary.Errors[0], "record 1 (javascript:alert(1))") {
		t.Fatalf("unexpected errors %v", summary.Errors)
	}
}

func TestImporterStopsOnCancelledContext(t *testing.T) {
	writer := &recordingWriter{}
	importer, err := NewImporter(ImporterConfig{Bookmarks: writer, BatchSize: 1})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = importer.Import(ctx, "owner-a", strings.NewReader(exportWithLinks(3)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if len(writer.batches) != 0 {
		t.Fatalf("expected no batches after cancellation, got %d", len(writer.batches))
	}
}

func TestImporterLogsStoreFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	writer := &recordingWriter{err: errors.New("database locked")}
	importer, err := NewImporter(ImporterConfig{Bookmarks: writer, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}

	_, err = importer.Import(context.Background(), "owner-a", strings.NewReader(exportWithLinks(1)))
	if err == nil {
		t.Fatalf("expected store failure")
	}
	entries := logs.FilterMessage("bookmark import error").All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged error, got %d", len(entries))
	}
	if reason := entries[0].ContextMap()["reason"]; reason != "batch_failed" {
		t.Fatalf("unexpected reason %v", reason)
	}
}

func TestImporterRequiresOwnerAndWriter(t *testing.T) {
	if _, err := NewImporter(ImporterConfig{}); err == nil {
		t.Fatalf("expected error for missing writer")
	}
	importer, err := NewImporter(ImporterConfig{Bookmarks: &recordingWriter{}})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}
	if _, err := importer.Import(context.Background(), " ", strings.NewReader("")); err == nil {
		t.Fatalf("expected error for missing owner")
	}
}

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("imported-%04d", s.next), nil
}

func TestImportIntoStoreKeepsRecoveredRecords(t *testing.T) {
	dsn := fmt.Sprintf("file:markme_imports_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&bookmarks.Bookmark{}, &bookmarks.BookmarkTag{}, &tags.Tag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	index, err := tags.NewIndex(tags.IndexConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct tag index: %v", err)
	}
	store, err := bookmarks.NewService(bookmarks.ServiceConfig{Database: db, Tags: index, IDProvider: &sequentialIDs{}})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	importer, err := NewImporter(ImporterConfig{Bookmarks: store, BatchSize: 2})
	if err != nil {
		t.Fatalf("failed to construct importer: %v", err)
	}

	input := `</DL>
<DL><p>
<DT><H3>Reading</H3>
<DL><p>
  <DT><A HREF="https://one.example/">One</A>
  <DT><A HREF="place:sort=8">Recent</A>
  <DT><A HREF="https://two.example/" TAGS="later">Two
  <DT><A>no href</A>
  <DT><A HREF="https://one.example/#dup">One again</A>
`
	ctx := context.Background()
	summary, err := importer.Import(ctx, "owner-a", strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if summary.Imported != 3 {
		t.Fatalf("expected 3 imported records, got %+v", summary)
	}
	if summary.Skipped != 3 {
		t.Fatalf("expected 3 skipped fragments, got %+v", summary)
	}

	listed, err := store.List(ctx, "owner-a", bookmarks.Page{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if listed.Total != 2 {
		t.Fatalf("expected 2 stored bookmarks, got %d", listed.Total)
	}
	count, err := index.UsageCount(ctx, "owner-a", tags.Name("reading"))
	if err != nil {
		t.Fatalf("UsageCount returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected reading used twice, got %d", count)
	}
}
