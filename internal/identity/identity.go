// Package identity derives the canonical book identity from the name of a
// chapter directory.
//
// Directories are named <title-slug>_<author-slug>, with '-' separating the
// words of each slug:
//
//	the-hobbit_j-r-r-tolkien  ->  ("The Hobbit", "J R R Tolkien")
package identity

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidIdentity is returned when a directory name does not follow the
// <title-slug>_<author-slug> convention.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the (title, author) pair a directory resolves to.
type Identity struct {
	Title  string
	Author string
}

// DeviceDirName returns the directory name used for the book on the device.
func (id Identity) DeviceDirName() string {
	return DeviceDirName(id.Title)
}

// Parse derives the identity from the last segment of dirPath.
func Parse(dirPath string) (Identity, error) {
	segment := filepath.Base(filepath.Clean(dirPath))

	parts := strings.Split(segment, "_")
	if len(parts) != 2 {
		return Identity{}, fmt.Errorf("%w: %q: expected book-title_author-name", ErrInvalidIdentity, segment)
	}

	title := capitalizeWords(parts[0])
	author := capitalizeWords(parts[1])
	if title == "" || author == "" {
		return Identity{}, fmt.Errorf("%w: %q: empty title or author", ErrInvalidIdentity, segment)
	}

	return Identity{Title: title, Author: author}, nil
}

// DeviceDirName strips all spaces from a book title.
func DeviceDirName(title string) string {
	return strings.ReplaceAll(title, " ", "")
}

// capitalizeWords turns "the-two-towers" into "The Two Towers". Empty words
// produced by repeated separators are dropped.
func capitalizeWords(slug string) string {
	words := strings.Split(slug, "-")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, capitalize(w))
	}
	return strings.Join(out, " ")
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}
