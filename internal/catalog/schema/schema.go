// Package schema provides the row types of the chapter catalog.
package schema

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// maxTitleLength bounds titles and file names accepted from the filesystem.
const maxTitleLength = 500

// Book is a row of the books table. Title is the natural key.
type Book struct {
	ID     int64  `db:"id" json:"id" yaml:"id"`
	Title  string `db:"title" json:"title" yaml:"title"`
	Author string `db:"author" json:"author" yaml:"author"`
}

// Validate checks if the Book has valid field values.
func (b *Book) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(b.Title) > maxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", maxTitleLength, len(b.Title))
	}
	if strings.TrimSpace(b.Author) == "" {
		return fmt.Errorf("author is required")
	}
	return nil
}

// Chapter is a row of the chapters table. (BookID, FileName) is the natural
// key. Playback fields are owned by the player on the device; ingestion never
// writes them.
type Chapter struct {
	ID                  int64  `db:"id" json:"id" yaml:"id"`
	BookID              int64  `db:"bookId" json:"book_id" yaml:"book_id"`
	Title               string `db:"title" json:"title" yaml:"title"`
	FileName            string `db:"fileName" json:"file_name" yaml:"file_name"`
	PlayTime            int64  `db:"playTime" json:"play_time_ms" yaml:"play_time_ms"`
	LastPlayedPosition  int64  `db:"lastPlayedPosition" json:"last_played_position_ms" yaml:"last_played_position_ms"`
	LastPlayedTimestamp int64  `db:"lastPlayedTimestamp" json:"last_played_timestamp" yaml:"last_played_timestamp"`
	FinishedPlaying     bool   `db:"finishedPlaying" json:"finished_playing" yaml:"finished_playing"`
}

// Validate checks the fields ingestion supplies.
func (c *Chapter) Validate() error {
	if c.BookID <= 0 {
		return fmt.Errorf("book id is required")
	}
	if c.FileName == "" {
		return fmt.Errorf("file name is required")
	}
	if len(c.FileName) > maxTitleLength {
		return fmt.Errorf("file name must be %d characters or less (got %d)", maxTitleLength, len(c.FileName))
	}
	if strings.ContainsAny(c.FileName, `/\`) {
		return fmt.Errorf("file name must not contain path separators: %q", c.FileName)
	}
	if c.PlayTime < 0 {
		return fmt.Errorf("play time must not be negative (got %d)", c.PlayTime)
	}
	return nil
}

// LastPlayed returns the last playback time, or the zero time if the chapter
// was never played.
func (c *Chapter) LastPlayed() time.Time {
	if c.LastPlayedTimestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastPlayedTimestamp)
}

// ChapterRecord is a chapter joined with its book.
type ChapterRecord struct {
	Chapter
	BookTitle  string `db:"bookTitle" json:"book_title" yaml:"book_title"`
	BookAuthor string `db:"bookAuthor" json:"book_author" yaml:"book_author"`
}

// ChapterTitle derives a chapter title from its file name: "01.mp3" -> "01".
func ChapterTitle(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// BookResult is the outcome of a book get-or-create.
type BookResult struct {
	ID      int64
	Created bool

	// Author is the author stored in the catalog, which may differ from the
	// one requested when the book already existed.
	Author string
}

// ChapterChange is the outcome of a chapter upsert.
type ChapterChange int

const (
	// ChapterUnchanged means the row existed with the same play time.
	ChapterUnchanged ChapterChange = iota
	// ChapterCreated means a new row was inserted.
	ChapterCreated
	// ChapterUpdated means the play time of an existing row changed.
	ChapterUpdated
)

// String returns a human-readable representation of the change.
func (c ChapterChange) String() string {
	switch c {
	case ChapterCreated:
		return "created"
	case ChapterUpdated:
		return "updated"
	case ChapterUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// MarshalText lets reports encode the change by name.
func (c ChapterChange) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Stats summarizes the catalog.
type Stats struct {
	Books            int   `json:"books" yaml:"books"`
	Chapters         int   `json:"chapters" yaml:"chapters"`
	FinishedChapters int   `json:"finished_chapters" yaml:"finished_chapters"`
	TotalPlayTime    int64 `json:"total_play_time_ms" yaml:"total_play_time_ms"`
}
