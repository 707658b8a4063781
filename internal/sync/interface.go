package sync

import (
	"context"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
)

// Syncer pushes book directories to a device and catalogs their chapters.
type Syncer interface {
	// SyncDirectory syncs a single book directory.
	//
	// The returned report is non-nil whenever the preconditions passed, even
	// when err reports transfer failures.
	SyncDirectory(ctx context.Context, dir string) (*Report, error)

	// SyncCollection syncs every immediate subdirectory of root in name
	// order. Subdirectories that fail a precondition are skipped and listed
	// in the result.
	SyncCollection(ctx context.Context, root string) (*CollectionReport, error)
}

// Store is the part of the catalog the engine writes through.
type Store interface {
	UpsertBook(ctx context.Context, title, author string) (schema.BookResult, error)
	UpdateBookAuthor(ctx context.Context, id int64, author string) error
	UpsertChapter(ctx context.Context, bookID int64, title, fileName string, playTimeMs int64) (schema.ChapterChange, error)
	LookupBook(ctx context.Context, title string) (*schema.Book, error)
	LookupChapter(ctx context.Context, bookID int64, fileName string) (*schema.Chapter, error)
}

// Observer is notified as a run progresses.
type Observer interface {
	// OnAction is called once per file after its decision was carried out.
	OnAction(report *Report, action Action)

	// OnReport is called when a directory run finishes.
	OnReport(report *Report)
}
