// Package audio filters chapter directories down to genuine MP3 payloads and
// measures their play time.
package audio

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Extension is the only audio container the catalog knows about.
const Extension = ".mp3"

// headerSize is enough to tell an ID3 tag from a bare frame sync.
const headerSize = 3

// Validator selects the audio files of a directory.
type Validator struct {
	fs     afero.Fs
	logger *log.Logger
}

// NewValidator creates a Validator reading through fs.
// If logger is nil, a default logger writing to stderr is used.
func NewValidator(fs afero.Fs, logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(os.Stderr, "[audio] ", log.LstdFlags)
	}
	return &Validator{fs: fs, logger: logger}
}

// HasAudioExtension reports whether name ends in .mp3, ignoring case.
func HasAudioExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// Sniff reports whether header starts like an MP3 stream: either an ID3v2
// tag or an MPEG frame sync (0xFF followed by the top three bits set).
func Sniff(header []byte) bool {
	if len(header) >= 3 && string(header[:3]) == "ID3" {
		return true
	}
	return len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0
}

// ValidateDir returns the names of the valid audio files in dir, sorted
// lexicographically. Files that fail validation are logged and skipped; an
// error is returned only when the directory cannot be listed.
func (v *Validator) ValidateDir(dir string) ([]string, error) {
	entries, err := afero.ReadDir(v.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !HasAudioExtension(name) {
			v.logger.Printf("WARNING: skipping non-MP3 file: %s", name)
			continue
		}

		ok, err := v.sniffFile(filepath.Join(dir, name))
		if err != nil {
			v.logger.Printf("WARNING: could not read %s to validate MP3 format: %v", name, err)
			continue
		}
		if !ok {
			v.logger.Printf("WARNING: %s does not appear to be a valid MP3 (invalid header)", name)
			continue
		}

		files = append(files, name)
	}

	sort.Strings(files)
	return files, nil
}

func (v *Validator) sniffFile(path string) (bool, error) {
	f, err := v.fs.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}

	return Sniff(header[:n]), nil
}
