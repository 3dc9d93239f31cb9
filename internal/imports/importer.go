package imports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/locking"
	"github.com/MarcoPoloResearchLab/markme/internal/serviceerrors"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize bounds how many records are committed per transaction.
	DefaultBatchSize = 200
	maxSummaryErrors = 50

	opImporterNew = "imports.importer.new"
	opImport      = "imports.import"

	importLockPrefix = "import:"
)

var (
	errMissingBookmarks = errors.New("bookmark writer is required")
	errMissingOwnerID   = errors.New("owner identifier is required")
	noOpLogger          = zap.NewNop()
)

// BookmarkWriter stores batches of drafts for one owner.
type BookmarkWriter interface {
	BulkCreate(ctx context.Context, ownerID string, drafts []bookmarks.Draft) (bookmarks.BulkResult, error)
}

// ImporterConfig describes the dependencies of the importer.
type ImporterConfig struct {
	Bookmarks BookmarkWriter
	BatchSize int
	Logger    *zap.Logger
	Locks     *locking.KeyedMutex
}

// Summary reports the outcome of one import.
type Summary struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// Importer feeds decoded records into the bookmark store in bounded batches.
type Importer struct {
	writer    BookmarkWriter
	batchSize int
	logger    *zap.Logger
	locks     *locking.KeyedMutex
}

// NewImporter constructs an Importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Bookmarks == nil {
		return nil, serviceerrors.New(opImporterNew, "missing_bookmarks", errMissingBookmarks)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	locks := cfg.Locks
	if locks == nil {
		locks = locking.NewKeyedMutex()
	}
	return &Importer{writer: cfg.Bookmarks, batchSize: batchSize, logger: logger, locks: locks}, nil
}

// Import decodes reader and stores every recovered record for ownerID. Imports for the
// same owner run one at a time. When ctx is cancelled the import stops before the next
// batch; batches already written stay committed.
func (importer *Importer) Import(ctx context.Context, ownerID string, reader io.Reader) (Summary, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Summary{}, serviceerrors.New(opImport, "missing_owner_id", errMissingOwnerID)
	}

	unlock := importer.locks.Lock(importLockPrefix + ownerID)
	defer unlock()

	decoder := NewDecoder(reader)
	summary := Summary{Errors: []string{}}
	batch := newBatch()
	ordinal := 0

	flush := func() error {
		if batch.empty() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := importer.writer.BulkCreate(ctx, ownerID, batch.drafts)
		if err != nil {
			importer.logError(opImport, "batch_failed", err, zap.String("owner_id", ownerID), zap.Int("batch_records", batch.records()))
			return err
		}
		failed := 0
		for _, failure := range result.Failures {
			merged := batch.weights[failure.Index]
			failed += merged
			summary.Skipped += merged
			summary.addError(fmt.Sprintf("record %d (%s): %s", batch.ordinals[failure.Index], failure.URL, failure.Reason))
		}
		summary.Imported += batch.records() - failed
		batch = newBatch()
		return nil
	}

	for {
		record, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if flushErr := flush(); flushErr != nil {
				return importer.finish(summary, decoder), flushErr
			}
			importer.logError(opImport, "read_failed", err, zap.String("owner_id", ownerID))
			return importer.finish(summary, decoder), serviceerrors.New(opImport, "read_failed", err)
		}
		ordinal++
		batch.add(ordinal, record)
		if len(batch.drafts) >= importer.batchSize {
			if err := flush(); err != nil {
				return importer.finish(summary, decoder), err
			}
		}
	}
	if err := flush(); err != nil {
		return importer.finish(summary, decoder), err
	}

	summary = importer.finish(summary, decoder)
	importer.logger.Info("bookmark import finished",
		zap.String("owner_id", ownerID),
		zap.Int("imported", summary.Imported),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (importer *Importer) finish(summary Summary, decoder *Decoder) Summary {
	summary.Skipped += decoder.Skipped()
	for _, warning := range decoder.Warnings() {
		summary.addError(warning)
	}
	return summary
}

func (summary *Summary) addError(message string) {
	if len(summary.Errors) < maxSummaryErrors {
		summary.Errors = append(summary.Errors, message)
	}
}

// batch merges records that share a normalized url so one import never writes the same
// bookmark twice in a transaction.
type batch struct {
	drafts   []bookmarks.Draft
	ordinals []int
	weights  []int
	byURL    map[string]int
}

func newBatch() *batch {
	return &batch{byURL: make(map[string]int)}
}

func (b *batch) empty() bool {
	return len(b.drafts) == 0
}

func (b *batch) records() int {
	total := 0
	for _, weight := range b.weights {
		total += weight
	}
	return total
}

func (b *batch) add(ordinal int, record Record) {
	draft := bookmarks.Draft{
		URL:         record.URL,
		Title:       record.Title,
		Description: record.Description,
		Tags:        record.Tags,
		CreatedAt:   record.CreatedAt,
	}
	key, err := bookmarks.NormalizeURL(record.URL)
	if err == nil {
		if position, ok := b.byURL[key]; ok {
			b.drafts[position] = mergeDrafts(b.drafts[position], draft)
			b.weights[position]++
			return
		}
		b.byURL[key] = len(b.drafts)
	}
	b.drafts = append(b.drafts, draft)
	b.ordinals = append(b.ordinals, ordinal)
	b.weights = append(b.weights, 1)
}

func mergeDrafts(existing, next bookmarks.Draft) bookmarks.Draft {
	merged := existing
	merged.Tags = append(slices.Clone(existing.Tags), next.Tags...)
	slices.Sort(merged.Tags)
	merged.Tags = slices.Compact(merged.Tags)
	if merged.Title == "" || merged.Title == merged.URL {
		merged.Title = next.Title
	}
	if merged.Description == "" {
		merged.Description = next.Description
	}
	if merged.CreatedAt.IsZero() || (!next.CreatedAt.IsZero() && next.CreatedAt.Before(merged.CreatedAt)) {
		merged.CreatedAt = next.CreatedAt
	}
	return merged
}

func (importer *Importer) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	importer.logger.Error("bookmark import error", attrs...)
}
