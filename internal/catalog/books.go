package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
)

// UpsertBook returns the book with the given title, creating it when absent.
// An existing row keeps its stored author; the returned BookResult carries
// that stored value so callers can detect a mismatch.
func (db *DB) UpsertBook(ctx context.Context, title, author string) (schema.BookResult, error) {
	book := schema.Book{Title: title, Author: author}
	if err := book.Validate(); err != nil {
		return schema.BookResult{}, fmt.Errorf("invalid book: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return schema.BookResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result schema.BookResult
	err = tx.QueryRowContext(ctx, `SELECT id, author FROM books WHERE title = ?`, title).
		Scan(&result.ID, &result.Author)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `INSERT INTO books (title, author) VALUES (?, ?)`, title, author)
		if err != nil {
			return schema.BookResult{}, fmt.Errorf("failed to insert book %q: %w", title, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return schema.BookResult{}, fmt.Errorf("failed to read book id: %w", err)
		}
		result = schema.BookResult{ID: id, Created: true, Author: author}
	case err != nil:
		return schema.BookResult{}, fmt.Errorf("failed to query book %q: %w", title, err)
	}

	if err := tx.Commit(); err != nil {
		return schema.BookResult{}, fmt.Errorf("failed to commit book %q: %w", title, err)
	}
	return result, nil
}

// UpdateBookAuthor overwrites the stored author of a book.
func (db *DB) UpdateBookAuthor(ctx context.Context, id int64, author string) error {
	if author == "" {
		return fmt.Errorf("invalid book: author is required")
	}
	res, err := db.conn.ExecContext(ctx, `UPDATE books SET author = ? WHERE id = ?`, author, id)
	if err != nil {
		return fmt.Errorf("failed to update author of book %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}

// LookupBook returns the book with the given title without creating it.
func (db *DB) LookupBook(ctx context.Context, title string) (*schema.Book, error) {
	var book schema.Book
	err := db.x.GetContext(ctx, &book, `SELECT id, title, author FROM books WHERE title = ?`, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %q: %w", title, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %q: %w", title, err)
	}
	return &book, nil
}

// GetBook returns the book with the given id.
func (db *DB) GetBook(ctx context.Context, id int64) (*schema.Book, error) {
	var book schema.Book
	err := db.x.GetContext(ctx, &book, `SELECT id, title, author FROM books WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	return &book, nil
}

// ListBooks returns all books ordered by title.
func (db *DB) ListBooks(ctx context.Context) ([]schema.Book, error) {
	var books []schema.Book
	if err := db.x.SelectContext(ctx, &books, `SELECT id, title, author FROM books ORDER BY title`); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// DeleteBook removes a book and, through the foreign key cascade, its
// chapters.
func (db *DB) DeleteBook(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete book %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}

// BookCount returns the number of books.
func (db *DB) BookCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}
