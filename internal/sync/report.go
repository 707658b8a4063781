package sync

import (
	"fmt"
	"time"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/bookreader/chaptersync/internal/checksum"
)

// Decision is what the engine does with a file.
type Decision string

const (
	DecisionSkip     Decision = "skip"
	DecisionTransfer Decision = "transfer"
)

// Reasons attached to decisions.
const (
	ReasonChecksumMatch    = "checksum match"
	ReasonChecksumMismatch = "checksum mismatch"
	ReasonLocalUnknown     = "local checksum unavailable"
	ReasonRemoteUnknown    = "not on device or checksum unavailable"
)

// Action records the handling of one file.
type Action struct {
	FileName     string          `json:"file_name" yaml:"file_name"`
	LocalPath    string          `json:"local_path" yaml:"local_path"`
	RemotePath   string          `json:"remote_path" yaml:"remote_path"`
	Decision     Decision        `json:"decision" yaml:"decision"`
	Reason       string          `json:"reason" yaml:"reason"`
	LocalDigest  checksum.Digest `json:"local_md5,omitempty" yaml:"local_md5,omitempty"`
	RemoteDigest checksum.Digest `json:"remote_md5,omitempty" yaml:"remote_md5,omitempty"`

	// DurationMs is -1 when the duration could not be computed.
	DurationMs int64 `json:"duration_ms" yaml:"duration_ms"`

	// Cataloged is true when the chapter row was (or, in a dry run, would
	// be) upserted; Change says how.
	Cataloged bool                 `json:"cataloged" yaml:"cataloged"`
	Change    schema.ChapterChange `json:"change" yaml:"change"`

	// Transferred is true when the push succeeded.
	Transferred bool `json:"transferred" yaml:"transferred"`

	Warning string `json:"warning,omitempty" yaml:"warning,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the transfer of this file failed.
func (a Action) Failed() bool {
	return a.Error != ""
}

// String renders the action as a single line.
func (a Action) String() string {
	catalog := "not cataloged"
	if a.Cataloged {
		catalog = "catalog " + a.Change.String()
	}
	s := fmt.Sprintf("%s %s -> %s (%s; %s)", a.Decision, a.LocalPath, a.RemotePath, a.Reason, catalog)
	if a.Warning != "" {
		s += "; warning: " + a.Warning
	}
	if a.Error != "" {
		s += "; error: " + a.Error
	}
	return s
}

// Report summarizes a directory run.
type Report struct {
	RunID  string `json:"run_id" yaml:"run_id"`
	Dir    string `json:"dir" yaml:"dir"`
	Device string `json:"device" yaml:"device"`
	Title  string `json:"title" yaml:"title"`
	Author string `json:"author" yaml:"author"`
	DryRun bool   `json:"dry_run" yaml:"dry_run"`

	BookID      int64 `json:"book_id" yaml:"book_id"`
	BookCreated bool  `json:"book_created" yaml:"book_created"`

	// AuthorMismatch is set when the catalog already holds the book under a
	// different author.
	AuthorMismatch  bool   `json:"author_mismatch" yaml:"author_mismatch"`
	StoredAuthor    string `json:"stored_author,omitempty" yaml:"stored_author,omitempty"`
	AuthorRefreshed bool   `json:"author_refreshed" yaml:"author_refreshed"`

	// NothingToDo is set when the directory held no valid audio files.
	NothingToDo bool `json:"nothing_to_do" yaml:"nothing_to_do"`

	Actions []Action `json:"actions" yaml:"actions"`

	Transferred      int `json:"transferred" yaml:"transferred"`
	Skipped          int `json:"skipped" yaml:"skipped"`
	Failed           int `json:"failed" yaml:"failed"`
	DurationWarnings int `json:"duration_warnings" yaml:"duration_warnings"`
	Created          int `json:"created" yaml:"created"`
	Updated          int `json:"updated" yaml:"updated"`
	Unchanged        int `json:"unchanged" yaml:"unchanged"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

func (r *Report) add(a Action) {
	r.Actions = append(r.Actions, a)
	switch {
	case a.Failed():
		r.Failed++
	case a.Decision == DecisionSkip:
		r.Skipped++
	default:
		r.Transferred++
	}
	if a.DurationMs < 0 {
		r.DurationWarnings++
	}
	if a.Cataloged {
		switch a.Change {
		case schema.ChapterCreated:
			r.Created++
		case schema.ChapterUpdated:
			r.Updated++
		default:
			r.Unchanged++
		}
	}
}

// Summary renders the counters as a single line.
func (r *Report) Summary() string {
	if r.NothingToDo {
		return fmt.Sprintf("%s: no valid audio files", r.Title)
	}
	verb := "transferred"
	if r.DryRun {
		verb = "to transfer"
	}
	return fmt.Sprintf("%s: %d %s, %d skipped, %d failed; chapters %d created, %d updated, %d unchanged",
		r.Title, r.Transferred, verb, r.Skipped, r.Failed, r.Created, r.Updated, r.Unchanged)
}

// SkippedDir is a collection entry that failed a precondition.
type SkippedDir struct {
	Dir    string `json:"dir" yaml:"dir"`
	Reason string `json:"reason" yaml:"reason"`
}

// CollectionReport summarizes a collection run.
type CollectionReport struct {
	Root    string       `json:"root" yaml:"root"`
	Reports []*Report    `json:"reports" yaml:"reports"`
	Skipped []SkippedDir `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Failed returns the number of failed transfers across all directories.
func (c *CollectionReport) Failed() int {
	n := 0
	for _, r := range c.Reports {
		n += r.Failed
	}
	return n
}
