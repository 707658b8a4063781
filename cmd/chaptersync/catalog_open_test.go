package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bookreader/chaptersync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePlayerCatalog creates a catalog as the player app leaves it: default
// rollback journal, no finishedPlaying column, no progress index.
func writePlayerCatalog(t *testing.T, path string) {
	t.Helper()
	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer conn.Close()

	for _, stmt := range []string{
		`CREATE TABLE books (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL, author TEXT NOT NULL)`,
		`CREATE TABLE chapters (id INTEGER PRIMARY KEY AUTOINCREMENT, bookId INTEGER NOT NULL,
			title TEXT NOT NULL, fileName TEXT NOT NULL, playTime INTEGER NOT NULL,
			lastPlayedPosition INTEGER NOT NULL, lastPlayedTimestamp INTEGER NOT NULL)`,
		`INSERT INTO books (title, author) VALUES ('Dune', 'Frank Herbert')`,
		`INSERT INTO chapters (bookId, title, fileName, playTime, lastPlayedPosition, lastPlayedTimestamp)
			VALUES (1, '01', '01.mp3', 1000, 500, 0)`,
	} {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
}

func useConfig(t *testing.T, path string, create bool) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = config.Default()
	cfg.Catalog.Path = path
	cfg.Catalog.Create = create
}

func TestLoadCatalog_ReadOnlyLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookreader.db")
	writePlayerCatalog(t, path)
	useConfig(t, path, true)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	db, err := loadCatalog(ctx, true)
	require.NoError(t, err)
	assert.True(t, db.ReadOnly())

	book, err := db.LookupBook(ctx, "Dune")
	require.NoError(t, err)
	_, err = db.LookupChapter(ctx, book.ID, "01.mp3")
	require.NoError(t, err)
	records, err := db.ListChapterRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	require.NoError(t, db.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "catalog bytes changed")
	assert.NoFileExists(t, path+"-wal")
	assert.NoFileExists(t, path+"-shm")

	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer conn.Close()

	var mode string
	require.NoError(t, conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "delete", mode)

	var indexes, columns int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_chapters_last_played'`).Scan(&indexes))
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('chapters') WHERE name = 'finishedPlaying'`).Scan(&columns))
	assert.Zero(t, indexes, "progress index created")
	assert.Zero(t, columns, "finishedPlaying column added")
}

func TestLoadCatalog_ReadOnlyNeverCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookreader.db")
	useConfig(t, path, true)

	_, err := loadCatalog(context.Background(), true)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "catalog created by read-only load")
}

func TestLoadCatalog_WritableUpgradesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookreader.db")
	writePlayerCatalog(t, path)
	useConfig(t, path, false)

	ctx := context.Background()
	db, err := loadCatalog(ctx, false)
	require.NoError(t, err)
	defer db.Close()
	assert.False(t, db.ReadOnly())

	book, err := db.LookupBook(ctx, "Dune")
	require.NoError(t, err)
	require.NoError(t, db.UpdateChapterReconciled(ctx, 1, 1000, true))
	ch, err := db.LookupChapter(ctx, book.ID, "01.mp3")
	require.NoError(t, err)
	assert.True(t, ch.FinishedPlaying)
}

func TestLoadCatalog_CreatesWhenAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookreader.db")
	useConfig(t, path, true)

	db, err := loadCatalog(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}
