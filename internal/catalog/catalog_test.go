package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
)

// testDBPath returns a temporary path for test catalogs
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "bookreader.db")
}

// setupTestDB opens a catalog with the schema in place
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestInitSchema_Success(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"books", "chapters"} {
		exists, err := db.tableExists(context.Background(), table)
		if err != nil {
			t.Fatalf("tableExists(%s) failed: %v", table, err)
		}
		if !exists {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book, err := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("UpsertBook() failed: %v", err)
	}

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}

	got, err := db.LookupBook(ctx, "Dune")
	if err != nil {
		t.Fatalf("LookupBook() after re-init failed: %v", err)
	}
	if got.ID != book.ID {
		t.Errorf("book id = %d after re-init, want %d", got.ID, book.ID)
	}
}

func TestInitSchema_AddsFinishedColumnToLegacyTable(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	legacy := `
	CREATE TABLE books (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL, author TEXT NOT NULL);
	CREATE TABLE chapters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bookId INTEGER NOT NULL,
		title TEXT NOT NULL,
		fileName TEXT NOT NULL,
		playTime INTEGER NOT NULL,
		lastPlayedPosition INTEGER NOT NULL,
		lastPlayedTimestamp INTEGER NOT NULL
	);
	INSERT INTO books (title, author) VALUES ('Dune', 'Frank Herbert');
	INSERT INTO chapters (bookId, title, fileName, playTime, lastPlayedPosition, lastPlayedTimestamp)
		VALUES (1, '01', '01.mp3', 1000, 500, 0);
	`
	if _, err := db.conn.Exec(legacy); err != nil {
		t.Fatalf("failed to create legacy tables: %v", err)
	}

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	ch, err := db.LookupChapter(context.Background(), 1, "01.mp3")
	if err != nil {
		t.Fatalf("LookupChapter() failed: %v", err)
	}
	if ch.FinishedPlaying {
		t.Error("FinishedPlaying = true on migrated row, want false")
	}
	if ch.LastPlayedPosition != 500 {
		t.Errorf("LastPlayedPosition = %d, want 500", ch.LastPlayedPosition)
	}

	// The legacy books table has no unique index; get-or-create must still
	// resolve to the existing row.
	res, err := db.UpsertBook(context.Background(), "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("UpsertBook() failed: %v", err)
	}
	if res.Created || res.ID != 1 {
		t.Errorf("UpsertBook() = %+v, want existing id 1", res)
	}
}

func TestUpsertBook_StableID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("UpsertBook() failed: %v", err)
	}
	if !first.Created {
		t.Error("first UpsertBook() Created = false, want true")
	}

	second, err := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("second UpsertBook() failed: %v", err)
	}
	if second.Created {
		t.Error("second UpsertBook() Created = true, want false")
	}
	if second.ID != first.ID {
		t.Errorf("second id = %d, want %d", second.ID, first.ID)
	}

	count, err := db.BookCount(ctx)
	if err != nil {
		t.Fatalf("BookCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("BookCount() = %d, want 1", count)
	}
}

func TestUpsertBook_KeepsStoredAuthor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.UpsertBook(ctx, "Dune", "Frank Herbert"); err != nil {
		t.Fatalf("UpsertBook() failed: %v", err)
	}

	res, err := db.UpsertBook(ctx, "Dune", "Someone Else")
	if err != nil {
		t.Fatalf("UpsertBook() failed: %v", err)
	}
	if res.Author != "Frank Herbert" {
		t.Errorf("Author = %q, want stored author %q", res.Author, "Frank Herbert")
	}

	if err := db.UpdateBookAuthor(ctx, res.ID, "Someone Else"); err != nil {
		t.Fatalf("UpdateBookAuthor() failed: %v", err)
	}
	book, err := db.GetBook(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetBook() failed: %v", err)
	}
	if book.Author != "Someone Else" {
		t.Errorf("Author after update = %q, want %q", book.Author, "Someone Else")
	}
}

func TestUpsertBook_Invalid(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.UpsertBook(context.Background(), "", "Frank Herbert"); err == nil {
		t.Error("UpsertBook() with empty title succeeded, want error")
	}
}

func TestUpsertChapter_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book, err := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("UpsertBook() failed: %v", err)
	}

	steps := []struct {
		playTime int64
		want     schema.ChapterChange
	}{
		{1000, schema.ChapterCreated},
		{1000, schema.ChapterUnchanged},
		{2000, schema.ChapterUpdated},
		{2000, schema.ChapterUnchanged},
	}
	for i, step := range steps {
		got, err := db.UpsertChapter(ctx, book.ID, "01", "01.mp3", step.playTime)
		if err != nil {
			t.Fatalf("step %d: UpsertChapter() failed: %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d: UpsertChapter() = %v, want %v", i, got, step.want)
		}
	}

	count, err := db.ChapterCount(ctx)
	if err != nil {
		t.Fatalf("ChapterCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("ChapterCount() = %d, want 1", count)
	}
}

func TestUpsertChapter_PreservesProgress(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book, _ := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	if _, err := db.UpsertChapter(ctx, book.ID, "01", "01.mp3", 1000); err != nil {
		t.Fatalf("UpsertChapter() failed: %v", err)
	}

	// The player records progress directly in the shared file.
	if _, err := db.conn.Exec(
		`UPDATE chapters SET lastPlayedPosition = 700, lastPlayedTimestamp = 1700000000000 WHERE fileName = '01.mp3'`); err != nil {
		t.Fatalf("failed to set progress: %v", err)
	}

	if _, err := db.UpsertChapter(ctx, book.ID, "01", "01.mp3", 1200); err != nil {
		t.Fatalf("UpsertChapter() failed: %v", err)
	}

	ch, err := db.LookupChapter(ctx, book.ID, "01.mp3")
	if err != nil {
		t.Fatalf("LookupChapter() failed: %v", err)
	}
	if ch.PlayTime != 1200 {
		t.Errorf("PlayTime = %d, want 1200", ch.PlayTime)
	}
	if ch.LastPlayedPosition != 700 || ch.LastPlayedTimestamp != 1700000000000 {
		t.Errorf("progress = (%d, %d), want (700, 1700000000000)", ch.LastPlayedPosition, ch.LastPlayedTimestamp)
	}
}

func TestUpsertChapter_SameFileNameDifferentBooks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, _ := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	b, _ := db.UpsertBook(ctx, "Emma", "Jane Austen")

	for _, id := range []int64{a.ID, b.ID} {
		got, err := db.UpsertChapter(ctx, id, "01", "01.mp3", 1000)
		if err != nil {
			t.Fatalf("UpsertChapter(book %d) failed: %v", id, err)
		}
		if got != schema.ChapterCreated {
			t.Errorf("UpsertChapter(book %d) = %v, want created", id, got)
		}
	}
}

func TestLookup_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.LookupBook(ctx, "Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupBook() error = %v, want ErrNotFound", err)
	}
	if _, err := db.LookupChapter(ctx, 1, "01.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupChapter() error = %v, want ErrNotFound", err)
	}
	if err := db.DeleteBook(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteBook() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteBook_Cascades(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book, _ := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	for _, name := range []string{"01.mp3", "02.mp3"} {
		if _, err := db.UpsertChapter(ctx, book.ID, schema.ChapterTitle(name), name, 1000); err != nil {
			t.Fatalf("UpsertChapter() failed: %v", err)
		}
	}

	if err := db.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("DeleteBook() failed: %v", err)
	}

	count, err := db.ChapterCount(ctx)
	if err != nil {
		t.Fatalf("ChapterCount() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("ChapterCount() = %d after cascade, want 0", count)
	}
}

func TestListChapterRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	emma, _ := db.UpsertBook(ctx, "Emma", "Jane Austen")
	dune, _ := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	_, _ = db.UpsertChapter(ctx, emma.ID, "01", "01.mp3", 1000)
	_, _ = db.UpsertChapter(ctx, dune.ID, "02", "02.mp3", 2000)
	_, _ = db.UpsertChapter(ctx, dune.ID, "01", "01.mp3", 3000)

	records, err := db.ListChapterRecords(ctx)
	if err != nil {
		t.Fatalf("ListChapterRecords() failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}

	want := []struct{ book, file string }{
		{"Dune", "01.mp3"},
		{"Dune", "02.mp3"},
		{"Emma", "01.mp3"},
	}
	for i, w := range want {
		if records[i].BookTitle != w.book || records[i].FileName != w.file {
			t.Errorf("records[%d] = %s/%s, want %s/%s", i, records[i].BookTitle, records[i].FileName, w.book, w.file)
		}
	}
	if records[0].BookAuthor != "Frank Herbert" {
		t.Errorf("BookAuthor = %q, want %q", records[0].BookAuthor, "Frank Herbert")
	}

	chapters, err := db.ListChapters(ctx, dune.ID)
	if err != nil {
		t.Fatalf("ListChapters() failed: %v", err)
	}
	if len(chapters) != 2 {
		t.Errorf("len(ListChapters) = %d, want 2", len(chapters))
	}
}

func TestChaptersPlayedSince(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book, _ := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	for _, name := range []string{"01.mp3", "02.mp3", "03.mp3"} {
		_, _ = db.UpsertChapter(ctx, book.ID, schema.ChapterTitle(name), name, 1000)
	}

	now := time.Now()
	old := now.Add(-48 * time.Hour).UnixMilli()
	recent := now.Add(-1 * time.Hour).UnixMilli()
	if _, err := db.conn.Exec(`UPDATE chapters SET lastPlayedTimestamp = ? WHERE fileName = '01.mp3'`, old); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`UPDATE chapters SET lastPlayedTimestamp = ? WHERE fileName = '02.mp3'`, recent); err != nil {
		t.Fatal(err)
	}

	records, err := db.ChaptersPlayedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ChaptersPlayedSince() failed: %v", err)
	}
	if len(records) != 1 || records[0].FileName != "02.mp3" {
		t.Errorf("ChaptersPlayedSince() = %+v, want only 02.mp3", records)
	}
}

func TestStatsAndReconciledUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book, _ := db.UpsertBook(ctx, "Dune", "Frank Herbert")
	_, _ = db.UpsertChapter(ctx, book.ID, "01", "01.mp3", 1000)
	_, _ = db.UpsertChapter(ctx, book.ID, "02", "02.mp3", 2000)

	ch, err := db.LookupChapter(ctx, book.ID, "01.mp3")
	if err != nil {
		t.Fatalf("LookupChapter() failed: %v", err)
	}
	if err := db.UpdateChapterReconciled(ctx, ch.ID, 1500, true); err != nil {
		t.Fatalf("UpdateChapterReconciled() failed: %v", err)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	want := schema.Stats{Books: 1, Chapters: 2, FinishedChapters: 1, TotalPlayTime: 3500}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}

	if err := db.UpdateChapterReconciled(ctx, 999, 1, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateChapterReconciled(missing) error = %v, want ErrNotFound", err)
	}
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.db")
	db, err := Create(good)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("definitely not a database"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid catalog", good, false},
		{"missing file", filepath.Join(dir, "missing.db"), true},
		{"directory", dir, true},
		{"text file", text, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFile(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidCatalog) {
				t.Errorf("ValidateFile() error = %v, want ErrInvalidCatalog", err)
			}
		})
	}
}

func TestCreate_RefusesExisting(t *testing.T) {
	path := testDBPath(t)
	db, err := Create(path)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	_ = db.Close()

	if _, err := Create(path); err == nil {
		t.Error("second Create() succeeded, want error")
	}
}
