package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
)

const chapterBaseColumns = `
	c.id,
	c.bookId,
	c.title,
	c.fileName,
	COALESCE(c.playTime, 0) AS playTime,
	COALESCE(c.lastPlayedPosition, 0) AS lastPlayedPosition,
	COALESCE(c.lastPlayedTimestamp, 0) AS lastPlayedTimestamp`

const bookColumns = `,
	b.title AS bookTitle,
	b.author AS bookAuthor`

// finishedColumn reads finishedPlaying, or a constant 0 when the column
// does not exist yet.
func (db *DB) finishedColumn() string {
	if db.hasFinished {
		return "COALESCE(c.finishedPlaying, 0)"
	}
	return "0"
}

func (db *DB) chapterColumns() string {
	return chapterBaseColumns + ",\n\t" + db.finishedColumn() + " AS finishedPlaying"
}

func (db *DB) recordColumns() string {
	return db.chapterColumns() + bookColumns
}

// UpsertChapter records a chapter of a book keyed by (bookID, fileName).
//
// A new row gets zeroed progress fields. An existing row has its playTime
// updated only when it differs; progress fields are never written here.
func (db *DB) UpsertChapter(ctx context.Context, bookID int64, title, fileName string, playTimeMs int64) (schema.ChapterChange, error) {
	ch := schema.Chapter{BookID: bookID, Title: title, FileName: fileName, PlayTime: playTimeMs}
	if err := ch.Validate(); err != nil {
		return schema.ChapterUnchanged, fmt.Errorf("invalid chapter: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return schema.ChapterUnchanged, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id       int64
		playTime int64
		change   schema.ChapterChange
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, COALESCE(playTime, 0) FROM chapters WHERE bookId = ? AND fileName = ?`,
		bookID, fileName).Scan(&id, &playTime)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chapters (
				bookId, title, fileName, playTime,
				lastPlayedPosition, lastPlayedTimestamp, finishedPlaying
			) VALUES (?, ?, ?, ?, 0, 0, 0)`,
			bookID, title, fileName, playTimeMs)
		if err != nil {
			return schema.ChapterUnchanged, fmt.Errorf("failed to insert chapter %s: %w", fileName, err)
		}
		change = schema.ChapterCreated
	case err != nil:
		return schema.ChapterUnchanged, fmt.Errorf("failed to query chapter %s: %w", fileName, err)
	case playTime != playTimeMs:
		if _, err := tx.ExecContext(ctx, `UPDATE chapters SET playTime = ? WHERE id = ?`, playTimeMs, id); err != nil {
			return schema.ChapterUnchanged, fmt.Errorf("failed to update chapter %s: %w", fileName, err)
		}
		change = schema.ChapterUpdated
	default:
		return schema.ChapterUnchanged, nil
	}

	if err := tx.Commit(); err != nil {
		return schema.ChapterUnchanged, fmt.Errorf("failed to commit chapter %s: %w", fileName, err)
	}
	return change, nil
}

// UpdateChapterReconciled writes the re-derived duration and finished flag.
func (db *DB) UpdateChapterReconciled(ctx context.Context, id, playTimeMs int64, finished bool) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE chapters SET playTime = ?, finishedPlaying = ? WHERE id = ?`,
		playTimeMs, finished, id)
	if err != nil {
		return fmt.Errorf("failed to update chapter %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chapter %d: %w", id, ErrNotFound)
	}
	return nil
}

// LookupChapter returns the chapter of a book with the given file name.
func (db *DB) LookupChapter(ctx context.Context, bookID int64, fileName string) (*schema.Chapter, error) {
	var ch schema.Chapter
	err := db.x.GetContext(ctx, &ch,
		`SELECT `+db.chapterColumns()+` FROM chapters c WHERE c.bookId = ? AND c.fileName = ?`,
		bookID, fileName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %s of book %d: %w", fileName, bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chapter %s: %w", fileName, err)
	}
	return &ch, nil
}

// ListChapters returns the chapters of a book ordered by file name.
func (db *DB) ListChapters(ctx context.Context, bookID int64) ([]schema.Chapter, error) {
	var chapters []schema.Chapter
	err := db.x.SelectContext(ctx, &chapters,
		`SELECT `+db.chapterColumns()+` FROM chapters c WHERE c.bookId = ? ORDER BY c.fileName`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters of book %d: %w", bookID, err)
	}
	return chapters, nil
}

// ListChapterRecords returns every chapter joined with its book, ordered by
// book title then file name.
func (db *DB) ListChapterRecords(ctx context.Context) ([]schema.ChapterRecord, error) {
	var records []schema.ChapterRecord
	err := db.x.SelectContext(ctx, &records, `
		SELECT `+db.recordColumns()+`
		FROM chapters c
		JOIN books b ON b.id = c.bookId
		ORDER BY b.title, c.fileName`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return records, nil
}

// ChaptersPlayedSince returns chapters played at or after since, most recent
// first.
func (db *DB) ChaptersPlayedSince(ctx context.Context, since time.Time) ([]schema.ChapterRecord, error) {
	var records []schema.ChapterRecord
	err := db.x.SelectContext(ctx, &records, `
		SELECT `+db.recordColumns()+`
		FROM chapters c
		JOIN books b ON b.id = c.bookId
		WHERE c.lastPlayedTimestamp >= ? AND c.lastPlayedTimestamp > 0
		ORDER BY c.lastPlayedTimestamp DESC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list played chapters: %w", err)
	}
	return records, nil
}

// ChapterCount returns the number of chapters.
func (db *DB) ChapterCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapters`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chapters: %w", err)
	}
	return count, nil
}

// Stats summarizes the catalog.
func (db *DB) Stats(ctx context.Context) (schema.Stats, error) {
	var stats schema.Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM books),
			COUNT(*),
			COALESCE(SUM(CASE WHEN `+db.finishedColumn()+` = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(c.playTime), 0)
		FROM chapters c`).Scan(&stats.Books, &stats.Chapters, &stats.FinishedChapters, &stats.TotalPlayTime)
	if err != nil {
		return schema.Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}
