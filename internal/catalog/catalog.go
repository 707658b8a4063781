// Package catalog provides the SQLite chapter catalog shared with the player
// application.
//
// The catalog is a single SQLite file holding two tables:
//   - books: one row per audiobook, keyed by title
//   - chapters: one row per audio file, keyed by (bookId, fileName)
//
// Ingestion writes book identity and chapter durations. Playback progress
// (lastPlayedPosition, lastPlayedTimestamp) belongs to the player and is only
// ever read here, except for the derived finishedPlaying flag which the
// reconciler maintains.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned by lookups when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCatalog indicates the catalog file is missing or is not a
	// SQLite database.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// sqliteHeader is the magic string at offset 0 of every SQLite database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// DB wraps the catalog connection.
type DB struct {
	conn *sql.DB
	x    *sqlx.DB
	path string

	readOnly bool

	// hasFinished is false for chapters tables written by player builds
	// that predate the finishedPlaying column.
	hasFinished bool
}

// dsn builds the SQLite URI for path. The path is escaped so names
// containing '?' or '#' reach SQLite intact.
func dsn(path string, params url.Values) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: params.Encode(),
	}
	return u.String(), nil
}

// Open opens the catalog at path. The file is created if it does not exist;
// callers that require an existing catalog should call ValidateFile first.
//
// Every pooled connection gets busy_timeout and foreign_keys through the DSN,
// and transactions begin IMMEDIATE so get-or-create sequences hold the write
// lock from the first read.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	connStr, err := dsn(path, url.Values{
		"_pragma": {"busy_timeout(5000)", "foreign_keys(1)"},
		"_txlock": {"immediate"},
	})
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		x:    sqlx.NewDb(conn, "sqlite3"),
		path: path,
	}

	// The player opens the same file; WAL lets it read while we write.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.detectColumns(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// OpenReadOnly opens an existing catalog without modifying it: no journal
// mode change, no schema bootstrap and no checkpoint on Close. Dry runs use
// it. Both tables must already exist.
func OpenReadOnly(path string) (*DB, error) {
	connStr, err := dsn(path, url.Values{
		"mode":    {"ro"},
		"_pragma": {"busy_timeout(5000)", "query_only(1)"},
	})
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:     conn,
		x:        sqlx.NewDb(conn, "sqlite3"),
		path:     path,
		readOnly: true,
	}

	ctx := context.Background()
	for _, table := range []string{"books", "chapters"} {
		exists, err := db.tableExists(ctx, table)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if !exists {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s has no %s table", ErrInvalidCatalog, path, table)
		}
	}
	if err := db.detectColumns(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ReadOnly reports whether the catalog was opened with OpenReadOnly.
func (db *DB) ReadOnly() bool {
	return db.readOnly
}

func (db *DB) detectColumns(ctx context.Context) error {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('chapters') WHERE name = 'finishedPlaying'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect chapters table: %w", err)
	}
	db.hasFinished = n > 0
	return nil
}

// Create creates a new catalog at path with the schema in place. It refuses
// to touch an existing file.
func Create(path string) (*DB, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("catalog already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat catalog: %w", err)
	}

	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ValidateFile checks that path is an existing regular file carrying the
// SQLite header and that it can be opened read-only. Failures wrap
// ErrInvalidCatalog.
func ValidateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidCatalog, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	header := make([]byte, len(sqliteHeader))
	_, err = io.ReadFull(f, header)
	_ = f.Close()
	if err != nil || !bytes.Equal(header, sqliteHeader) {
		return fmt.Errorf("%w: %s is not a SQLite database", ErrInvalidCatalog, path)
	}

	connStr, err := dsn(path, url.Values{"mode": {"ro"}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return nil
}

// Path returns the catalog file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the catalog connection.
// A writable catalog is checkpointed so the player sees a self-contained file.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.readOnly {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}

	db.conn = nil
	db.x = nil
	return nil
}

const booksTable = `
CREATE TABLE books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL
)`

const chaptersTable = `
CREATE TABLE chapters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bookId INTEGER NOT NULL,
	title TEXT NOT NULL,
	fileName TEXT NOT NULL,
	playTime INTEGER NOT NULL DEFAULT 0,
	lastPlayedPosition INTEGER NOT NULL DEFAULT 0,
	lastPlayedTimestamp INTEGER NOT NULL DEFAULT 0,
	finishedPlaying INTEGER NOT NULL DEFAULT 0,
	UNIQUE(bookId, fileName),
	FOREIGN KEY(bookId) REFERENCES books(id) ON DELETE CASCADE
)`

// InitSchema creates missing tables. Existing tables are never dropped or
// rebuilt; a chapters table from an older player build gets the
// finishedPlaying column added. Safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates missing tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if db.readOnly {
		return fmt.Errorf("cannot initialize schema of read-only catalog %s", db.path)
	}

	tables := []struct {
		name string
		ddl  string
	}{
		{"books", booksTable},
		{"chapters", chaptersTable},
	}

	for _, t := range tables {
		exists, err := db.tableExists(ctx, t.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	if _, err := db.conn.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_chapters_last_played ON chapters(lastPlayedTimestamp)`); err != nil {
		return fmt.Errorf("failed to create chapters index: %w", err)
	}

	if err := db.detectColumns(ctx); err != nil {
		return err
	}
	if !db.hasFinished {
		if _, err := db.conn.ExecContext(ctx,
			`ALTER TABLE chapters ADD COLUMN finishedPlaying INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("failed to add finishedPlaying column: %w", err)
		}
		db.hasFinished = true
	}

	return nil
}

func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return count > 0, nil
}
