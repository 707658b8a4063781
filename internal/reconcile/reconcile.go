// Package reconcile re-derives chapter durations and finished flags from the
// copies on the device.
//
// The player records playback position in the shared catalog but never sets
// finishedPlaying. The reconciler pulls each cataloged chapter back from the
// device, measures it, and marks it finished once the recorded position
// reaches 95% of the measured duration.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"time"

	"github.com/bookreader/chaptersync/internal/audio"
	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/bookreader/chaptersync/internal/device"
	"github.com/bookreader/chaptersync/internal/identity"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FinishedThreshold is the fraction of a chapter that counts as finished.
const FinishedThreshold = 0.95

// DefaultRemoteBase matches the sync engine's default.
const DefaultRemoteBase = device.DefaultBasePath

// ErrDeviceUnreachable is returned when the device does not answer.
var ErrDeviceUnreachable = device.ErrUnreachable

// IsFinished reports whether position reaches the finished threshold of
// duration. Both values are milliseconds; a chapter with no position or no
// duration is never finished.
func IsFinished(positionMs, durationMs int64) bool {
	if positionMs <= 0 || durationMs <= 0 {
		return false
	}
	return float64(positionMs) >= FinishedThreshold*float64(durationMs)
}

// Store is the part of the catalog the reconciler uses.
type Store interface {
	ListChapterRecords(ctx context.Context) ([]schema.ChapterRecord, error)
	UpdateChapterReconciled(ctx context.Context, id, playTimeMs int64, finished bool) error
}

// Options configures a Reconciler. Zero values select the defaults.
type Options struct {
	// Fs holds the scratch files pulled from the device (default: OS).
	Fs afero.Fs

	// Inspector measures pulled files (default: MP3 frame scan on Fs).
	Inspector audio.Inspector

	BaseRemotePath string

	// TempDir is where pulled files are written (default: Fs temp dir).
	TempDir string

	DryRun bool

	// Out receives dry-run lines (default: stdout).
	Out io.Writer

	// OnItem, when set, is called after each chapter is handled.
	OnItem func(Item)

	Logger *log.Logger
}

// Item is the outcome for one chapter.
type Item struct {
	ChapterID   int64  `json:"chapter_id" yaml:"chapter_id"`
	BookTitle   string `json:"book_title" yaml:"book_title"`
	FileName    string `json:"file_name" yaml:"file_name"`
	RemotePath  string `json:"remote_path" yaml:"remote_path"`
	OldPlayTime int64  `json:"old_play_time_ms" yaml:"old_play_time_ms"`
	PlayTime    int64  `json:"play_time_ms" yaml:"play_time_ms"`
	Position    int64  `json:"position_ms" yaml:"position_ms"`
	OldFinished bool   `json:"old_finished" yaml:"old_finished"`
	Finished    bool   `json:"finished" yaml:"finished"`
	Updated     bool   `json:"updated" yaml:"updated"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Changed reports whether the update altered the row.
func (i Item) Changed() bool {
	return i.Updated && (i.OldPlayTime != i.PlayTime || i.OldFinished != i.Finished)
}

// Report summarizes a reconciliation run.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	DryRun     bool      `json:"dry_run" yaml:"dry_run"`
	Items      []Item    `json:"items" yaml:"items"`
	Checked    int       `json:"checked" yaml:"checked"`
	Updated    int       `json:"updated" yaml:"updated"`
	Finished   int       `json:"finished" yaml:"finished"`
	Failed     int       `json:"failed" yaml:"failed"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Summary renders the counters as a single line.
func (r *Report) Summary() string {
	if r.DryRun {
		return fmt.Sprintf("%d chapters would be checked", r.Checked)
	}
	return fmt.Sprintf("%d chapters checked, %d updated, %d finished, %d failed",
		r.Checked, r.Updated, r.Finished, r.Failed)
}

// Reconciler walks the catalog against the device.
type Reconciler struct {
	store  Store
	device device.Device
	opts   Options
	logger *log.Logger
}

// New creates a Reconciler.
func New(store Store, dev device.Device, opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Inspector == nil {
		opts.Inspector = audio.NewMP3Inspector(opts.Fs)
	}
	if opts.BaseRemotePath == "" {
		opts.BaseRemotePath = DefaultRemoteBase
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Reconciler{store: store, device: dev, opts: opts, logger: opts.Logger}
}

// RemotePath returns where the player keeps a chapter.
func (r *Reconciler) RemotePath(bookTitle, fileName string) string {
	return path.Join(r.opts.BaseRemotePath, identity.DeviceDirName(bookTitle), fileName)
}

// Run reconciles every cataloged chapter. Per-chapter failures are recorded
// on the report and do not stop the run; catalog read errors and
// cancellation do.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	if !r.device.IsReachable(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnreachable, r.device.Name())
	}

	records, err := r.store.ListChapterRecords(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		DryRun:    r.opts.DryRun,
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	r.logger.Printf("Run %s: reconciling %d chapters from %s", report.RunID, len(records), r.device.Name())

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		item := Item{
			ChapterID:   rec.ID,
			BookTitle:   rec.BookTitle,
			FileName:    rec.FileName,
			RemotePath:  r.RemotePath(rec.BookTitle, rec.FileName),
			OldPlayTime: rec.PlayTime,
			PlayTime:    rec.PlayTime,
			Position:    rec.LastPlayedPosition,
			OldFinished: rec.FinishedPlaying,
			Finished:    rec.FinishedPlaying,
		}
		report.Checked++

		if r.opts.DryRun {
			fmt.Fprintf(r.opts.Out, "[dry-run] %s/%s at %s (playTime=%d, position=%d, finished=%t)\n",
				item.BookTitle, item.FileName, item.RemotePath, item.PlayTime, item.Position, item.Finished)
		} else if err := r.reconcile(ctx, &item); err != nil {
			item.Error = err.Error()
			report.Failed++
			r.logger.Printf("WARNING: %s/%s: %v", item.BookTitle, item.FileName, err)
		} else {
			report.Updated++
			if item.Finished {
				report.Finished++
			}
		}

		report.Items = append(report.Items, item)
		if r.opts.OnItem != nil {
			r.opts.OnItem(item)
		}
	}

	r.logger.Printf("Run %s: %s", report.RunID, report.Summary())
	return report, nil
}

// reconcile pulls one chapter, measures it and writes the result.
func (r *Reconciler) reconcile(ctx context.Context, item *Item) error {
	tmp, err := afero.TempFile(r.opts.Fs, r.opts.TempDir, "chapter-*.mp3")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = r.opts.Fs.Remove(tmpPath) }()

	if err := r.device.Pull(ctx, item.RemotePath, tmpPath); err != nil {
		return fmt.Errorf("failed to pull: %w", err)
	}

	duration, err := r.opts.Inspector.Duration(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to measure duration: %w", err)
	}

	finished := IsFinished(item.Position, duration)
	if err := r.store.UpdateChapterReconciled(ctx, item.ChapterID, duration, finished); err != nil {
		return err
	}

	item.PlayTime = duration
	item.Finished = finished
	item.Updated = true
	return nil
}
