package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bookreader/chaptersync/internal/audio"
	"github.com/bookreader/chaptersync/internal/catalog"
	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/bookreader/chaptersync/internal/checksum"
	"github.com/bookreader/chaptersync/internal/device"
	"github.com/bookreader/chaptersync/internal/identity"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultRemoteBase is where the player looks for book directories.
const DefaultRemoteBase = device.DefaultBasePath

var (
	// ErrNotDirectory is returned when the book path is missing or not a
	// directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrDeviceUnreachable is returned when the device does not answer.
	ErrDeviceUnreachable = device.ErrUnreachable

	// ErrTransferFailed is returned after a run in which at least one push
	// failed. Catalog rows for the other files are committed.
	ErrTransferFailed = errors.New("transfer failed")
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	// Fs is the local filesystem holding book directories (default: OS).
	Fs afero.Fs

	// Inspector measures chapter durations (default: MP3 frame scan on Fs).
	Inspector audio.Inspector

	// BaseRemotePath is the device directory holding book directories.
	BaseRemotePath string

	DryRun bool

	// StopOnError ends a directory run at the first failed push.
	StopOnError bool

	// RefreshAuthor overwrites the stored author when it differs from the
	// directory name.
	RefreshAuthor bool

	// Out receives dry-run lines (default: stdout).
	Out io.Writer

	Observer Observer
	Logger   *log.Logger
}

// Engine implements Syncer.
type Engine struct {
	store     Store
	device    device.Device
	fs        afero.Fs
	checksums *checksum.Service
	validator *audio.Validator
	inspector audio.Inspector
	opts      Options
	logger    *log.Logger
}

var _ Syncer = (*Engine)(nil)

// New creates an Engine writing through store and pushing to dev.
//
// If opts.Logger is nil, a default logger writing to stderr is used.
func New(store Store, dev device.Device, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
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
	return &Engine{
		store:     store,
		device:    dev,
		fs:        opts.Fs,
		checksums: checksum.New(opts.Fs, dev, opts.Logger),
		validator: audio.NewValidator(opts.Fs, opts.Logger),
		inspector: opts.Inspector,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// RemoteDir returns the device directory of a book.
func (e *Engine) RemoteDir(id identity.Identity) string {
	return path.Join(e.opts.BaseRemotePath, id.DeviceDirName())
}

// SyncDirectory implements Syncer.SyncDirectory.
func (e *Engine) SyncDirectory(ctx context.Context, dir string) (*Report, error) {
	info, err := e.fs.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	id, err := identity.Parse(dir)
	if err != nil {
		return nil, err
	}

	if !e.device.IsReachable(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnreachable, e.device.Name())
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Dir:       dir,
		Device:    e.device.Name(),
		Title:     id.Title,
		Author:    id.Author,
		DryRun:    e.opts.DryRun,
		StartedAt: time.Now(),
	}
	defer func() {
		report.FinishedAt = time.Now()
		if e.opts.Observer != nil {
			e.opts.Observer.OnReport(report)
		}
	}()

	e.logger.Printf("Run %s: syncing %q by %s from %s", report.RunID, id.Title, id.Author, dir)

	files, err := e.validator.ValidateDir(dir)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		report.NothingToDo = true
		e.logger.Printf("Run %s: no valid audio files in %s", report.RunID, dir)
		return report, nil
	}

	if err := e.resolveBook(ctx, id, report); err != nil {
		return report, err
	}

	remoteDir := e.RemoteDir(id)
	dirReady := false

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		action := Action{
			FileName:   name,
			LocalPath:  filepath.Join(dir, name),
			RemotePath: path.Join(remoteDir, name),
			DurationMs: -1,
		}

		e.decide(ctx, &action)

		duration, durErr := e.inspector.Duration(action.LocalPath)
		if durErr != nil {
			action.Warning = durErr.Error()
			e.logger.Printf("WARNING: Run %s: could not determine duration of %s: %v", report.RunID, name, durErr)
		} else {
			action.DurationMs = duration
		}

		if action.Decision == DecisionTransfer && !e.opts.DryRun {
			if !dirReady {
				if err := e.device.MkdirAll(ctx, remoteDir); err != nil {
					action.Error = fmt.Sprintf("failed to create %s: %v", remoteDir, err)
				} else {
					dirReady = true
				}
			}
			if action.Error == "" {
				if err := e.device.Push(ctx, action.LocalPath, action.RemotePath); err != nil {
					action.Error = err.Error()
				} else {
					action.Transferred = true
				}
			}
			if action.Error != "" {
				e.logger.Printf("WARNING: Run %s: transfer of %s failed: %s", report.RunID, name, action.Error)
			}
		}

		if !action.Failed() && durErr == nil {
			if err := e.catalogChapter(ctx, report.BookID, &action); err != nil {
				return report, err
			}
		}

		report.add(action)
		if e.opts.DryRun {
			fmt.Fprintf(e.opts.Out, "[dry-run] %s\n", action)
		}
		if e.opts.Observer != nil {
			e.opts.Observer.OnAction(report, action)
		}

		if action.Failed() && e.opts.StopOnError {
			e.logger.Printf("Run %s: stopping after failed transfer of %s", report.RunID, name)
			break
		}
	}

	e.logger.Printf("Run %s: %s", report.RunID, report.Summary())

	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d files in %s", ErrTransferFailed, report.Failed, len(files), dir)
	}
	return report, nil
}

// decide compares digests and sets the decision and reason on a.
func (e *Engine) decide(ctx context.Context, a *Action) {
	a.LocalDigest = e.checksums.DigestLocal(a.LocalPath)
	if !a.LocalDigest.Known() {
		a.Decision, a.Reason = DecisionTransfer, ReasonLocalUnknown
		return
	}

	a.RemoteDigest = e.checksums.DigestRemote(ctx, a.RemotePath)
	switch {
	case !a.RemoteDigest.Known():
		a.Decision, a.Reason = DecisionTransfer, ReasonRemoteUnknown
	case a.RemoteDigest == a.LocalDigest:
		a.Decision, a.Reason = DecisionSkip, ReasonChecksumMatch
	default:
		a.Decision, a.Reason = DecisionTransfer, ReasonChecksumMismatch
		e.logger.Printf("%s: checksum mismatch (local %s, device %s)", a.FileName, a.LocalDigest, a.RemoteDigest)
	}
}

// resolveBook gets or creates the book row, or in a dry run looks it up.
func (e *Engine) resolveBook(ctx context.Context, id identity.Identity, report *Report) error {
	if e.opts.DryRun {
		book, err := e.store.LookupBook(ctx, id.Title)
		if errors.Is(err, catalog.ErrNotFound) {
			report.BookCreated = true
			return nil
		}
		if err != nil {
			return err
		}
		report.BookID = book.ID
		e.checkAuthor(id, book.Author, report)
		return nil
	}

	res, err := e.store.UpsertBook(ctx, id.Title, id.Author)
	if err != nil {
		return err
	}
	report.BookID = res.ID
	report.BookCreated = res.Created
	e.checkAuthor(id, res.Author, report)

	if report.AuthorMismatch && e.opts.RefreshAuthor {
		if err := e.store.UpdateBookAuthor(ctx, res.ID, id.Author); err != nil {
			return err
		}
		report.AuthorRefreshed = true
		e.logger.Printf("Updated author of %q to %s", id.Title, id.Author)
	}
	return nil
}

func (e *Engine) checkAuthor(id identity.Identity, stored string, report *Report) {
	if stored == id.Author {
		return
	}
	report.AuthorMismatch = true
	report.StoredAuthor = stored
	e.logger.Printf("WARNING: %q is cataloged with author %q, directory says %q", id.Title, stored, id.Author)
}

// catalogChapter upserts the chapter row, or in a dry run predicts the change.
func (e *Engine) catalogChapter(ctx context.Context, bookID int64, a *Action) error {
	title := schema.ChapterTitle(a.FileName)

	if e.opts.DryRun {
		a.Cataloged = true
		if bookID == 0 {
			a.Change = schema.ChapterCreated
			return nil
		}
		ch, err := e.store.LookupChapter(ctx, bookID, a.FileName)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			a.Change = schema.ChapterCreated
		case err != nil:
			return err
		case ch.PlayTime != a.DurationMs:
			a.Change = schema.ChapterUpdated
		default:
			a.Change = schema.ChapterUnchanged
		}
		return nil
	}

	change, err := e.store.UpsertChapter(ctx, bookID, title, a.FileName, a.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to catalog %s: %w", a.FileName, err)
	}
	a.Cataloged = true
	a.Change = change
	return nil
}

// SyncCollection implements Syncer.SyncCollection.
func (e *Engine) SyncCollection(ctx context.Context, root string) (*CollectionReport, error) {
	info, err := e.fs.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	if !e.device.IsReachable(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnreachable, e.device.Name())
	}

	entries, err := afero.ReadDir(e.fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", root, err)
	}

	result := &CollectionReport{Root: root}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())

		report, err := e.SyncDirectory(ctx, dir)
		switch {
		case err == nil:
		case errors.Is(err, identity.ErrInvalidIdentity), errors.Is(err, ErrNotDirectory):
			e.logger.Printf("WARNING: skipping %s: %v", dir, err)
			result.Skipped = append(result.Skipped, SkippedDir{Dir: dir, Reason: err.Error()})
			continue
		case errors.Is(err, ErrTransferFailed):
			if e.opts.StopOnError {
				result.Reports = append(result.Reports, report)
				return result, err
			}
		default:
			if report != nil {
				result.Reports = append(result.Reports, report)
			}
			return result, err
		}
		result.Reports = append(result.Reports, report)
	}

	if n := result.Failed(); n > 0 {
		return result, fmt.Errorf("%w: %d files across %s", ErrTransferFailed, n, root)
	}
	return result, nil
}
