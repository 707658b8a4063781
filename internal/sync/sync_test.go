package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bookreader/chaptersync/internal/audio"
	"github.com/bookreader/chaptersync/internal/catalog"
	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/bookreader/chaptersync/internal/device"
	"github.com/bookreader/chaptersync/internal/identity"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bookDir = "/books/dune_frank-herbert"

// headerInspector reads durations written by writeChapter: "ID3 <ms>".
type headerInspector struct {
	fs afero.Fs
}

func (h headerInspector) Duration(path string) (int64, error) {
	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", audio.ErrUnreadable, err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(string(data), "ID3")), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", audio.ErrNotAudio, path)
	}
	return ms, nil
}

// countingDevice wraps a device, counting mutations and failing pushes of
// selected file names.
type countingDevice struct {
	device.Device
	unreachable bool
	failPush    map[string]bool
	pushes      int
	mkdirs      int
}

func (c *countingDevice) IsReachable(ctx context.Context) bool {
	return !c.unreachable && c.Device.IsReachable(ctx)
}

func (c *countingDevice) MkdirAll(ctx context.Context, remotePath string) error {
	c.mkdirs++
	return c.Device.MkdirAll(ctx, remotePath)
}

func (c *countingDevice) Push(ctx context.Context, localPath, remotePath string) error {
	c.pushes++
	if c.failPush[filepath.Base(localPath)] {
		return fmt.Errorf("%w: push %s", device.ErrUnavailable, localPath)
	}
	return c.Device.Push(ctx, localPath, remotePath)
}

type recordingObserver struct {
	actions []Action
	reports []*Report
}

func (r *recordingObserver) OnAction(_ *Report, a Action) { r.actions = append(r.actions, a) }
func (r *recordingObserver) OnReport(rep *Report)         { r.reports = append(r.reports, rep) }

type testEnv struct {
	local  afero.Fs
	remote afero.Fs
	dev    *countingDevice
	db     *catalog.DB
	out    *bytes.Buffer
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := catalog.Open(filepath.Join(t.TempDir(), "bookreader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema())

	local := afero.NewMemMapFs()
	remote := afero.NewMemMapFs()
	return &testEnv{
		local:  local,
		remote: remote,
		dev:    &countingDevice{Device: device.NewMountedFs("test", local, remote), failPush: map[string]bool{}},
		db:     db,
		out:    &bytes.Buffer{},
	}
}

func (env *testEnv) engine(opts Options) *Engine {
	opts.Fs = env.local
	opts.Inspector = headerInspector{fs: env.local}
	opts.Out = env.out
	opts.Logger = log.New(io.Discard, "", 0)
	return New(env.db, env.dev, opts)
}

func writeChapter(t *testing.T, fs afero.Fs, dir, name string, ms int64) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name), []byte(fmt.Sprintf("ID3 %d", ms)), 0o644))
}

func writeBook(t *testing.T, fs afero.Fs, dir string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		writeChapter(t, fs, dir, fmt.Sprintf("%02d.mp3", i), int64(i)*1000)
	}
}

func TestSyncDirectory_Idempotent(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 3)
	ctx := context.Background()
	engine := env.engine(Options{})

	first, err := engine.SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Transferred)
	assert.Equal(t, 3, first.Created)
	assert.True(t, first.BookCreated)
	assert.Equal(t, 3, env.dev.pushes)

	exists, err := afero.Exists(env.remote, "/sdcard/Audiobooks/BookReader/audio/Dune/02.mp3")
	require.NoError(t, err)
	assert.True(t, exists)

	second, err := engine.SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.Equal(t, 3, env.dev.pushes, "second run must not push")
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 3, second.Unchanged)
	assert.Equal(t, first.BookID, second.BookID)
	assert.False(t, second.BookCreated)
	assert.NotEqual(t, first.RunID, second.RunID)

	books, err := env.db.BookCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, books)
	chapters, err := env.db.ChapterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, chapters)
}

func TestSyncDirectory_RetransfersChangedFile(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 3)
	ctx := context.Background()
	engine := env.engine(Options{})

	_, err := engine.SyncDirectory(ctx, bookDir)
	require.NoError(t, err)

	writeChapter(t, env.local, bookDir, "02.mp3", 2500)

	report, err := engine.SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.Equal(t, 4, env.dev.pushes)
	assert.Equal(t, 1, report.Transferred)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Unchanged)

	for _, a := range report.Actions {
		if a.FileName == "02.mp3" {
			assert.Equal(t, ReasonChecksumMismatch, a.Reason)
		}
	}

	ch, err := env.db.LookupChapter(ctx, report.BookID, "02.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), ch.PlayTime)
}

func TestSyncDirectory_DryRun(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 5)
	ctx := context.Background()

	report, err := env.engine(Options{DryRun: true}).SyncDirectory(ctx, bookDir)
	require.NoError(t, err)

	assert.Equal(t, 0, env.dev.pushes)
	assert.Equal(t, 0, env.dev.mkdirs)
	assert.Len(t, report.Actions, 5)
	assert.Equal(t, 5, report.Transferred)
	assert.Equal(t, 5, report.Created)
	assert.True(t, report.BookCreated)

	lines := strings.Split(strings.TrimSpace(env.out.String()), "\n")
	assert.Len(t, lines, 5)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "[dry-run] transfer "), line)
	}

	books, err := env.db.BookCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, books)
	chapters, err := env.db.ChapterCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, chapters)

	exists, err := afero.DirExists(env.remote, "/sdcard")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSyncDirectory_DryRunPredictsCatalogChanges(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 2)
	ctx := context.Background()

	_, err := env.engine(Options{}).SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	writeChapter(t, env.local, bookDir, "02.mp3", 9000)
	pushes := env.dev.pushes

	report, err := env.engine(Options{DryRun: true}).SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.Equal(t, pushes, env.dev.pushes)
	require.Len(t, report.Actions, 2)
	assert.Equal(t, DecisionSkip, report.Actions[0].Decision)
	assert.Equal(t, schema.ChapterUnchanged, report.Actions[0].Change)
	assert.Equal(t, DecisionTransfer, report.Actions[1].Decision)
	assert.Equal(t, schema.ChapterUpdated, report.Actions[1].Change)

	ch, err := env.db.LookupChapter(ctx, report.BookID, "02.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ch.PlayTime, "dry run must not write")
}

func TestSyncDirectory_TransferFailureIsolated(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 3)
	env.dev.failPush["02.mp3"] = true
	ctx := context.Background()

	report, err := env.engine(Options{}).SyncDirectory(ctx, bookDir)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Transferred)
	assert.Equal(t, 3, env.dev.pushes)

	_, err = env.db.LookupChapter(ctx, report.BookID, "01.mp3")
	assert.NoError(t, err)
	_, err = env.db.LookupChapter(ctx, report.BookID, "02.mp3")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = env.db.LookupChapter(ctx, report.BookID, "03.mp3")
	assert.NoError(t, err)
}

func TestSyncDirectory_StopOnError(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 3)
	env.dev.failPush["02.mp3"] = true
	ctx := context.Background()

	report, err := env.engine(Options{StopOnError: true}).SyncDirectory(ctx, bookDir)
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Len(t, report.Actions, 2)
	assert.Equal(t, 2, env.dev.pushes)

	chapters, err := env.db.ChapterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chapters, "upsert before the failure stays committed")
}

func TestSyncDirectory_DurationFailure(t *testing.T) {
	env := setupEnv(t)
	writeChapter(t, env.local, bookDir, "01.mp3", 1000)
	require.NoError(t, afero.WriteFile(env.local, filepath.Join(bookDir, "02.mp3"), []byte("ID3 garbage"), 0o644))
	ctx := context.Background()

	report, err := env.engine(Options{}).SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.Equal(t, 2, env.dev.pushes, "file with unknown duration is still transferred")
	assert.Equal(t, 1, report.DurationWarnings)
	assert.Equal(t, 1, report.Created)

	_, err = env.db.LookupChapter(ctx, report.BookID, "02.mp3")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSyncDirectory_Preconditions(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 1)
	writeBook(t, env.local, "/books/no-author-here", 1)
	require.NoError(t, afero.WriteFile(env.local, "/books/file_name", []byte("x"), 0o644))
	ctx := context.Background()

	tests := []struct {
		name        string
		dir         string
		unreachable bool
		wantErr     error
	}{
		{"missing directory", "/books/missing_dir", false, ErrNotDirectory},
		{"regular file", "/books/file_name", false, ErrNotDirectory},
		{"bad identity", "/books/no-author-here", false, identity.ErrInvalidIdentity},
		{"device unreachable", bookDir, true, ErrDeviceUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.dev.unreachable = tt.unreachable
			report, err := env.engine(Options{}).SyncDirectory(ctx, tt.dir)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, report)
		})
	}

	assert.Zero(t, env.dev.pushes)
	books, err := env.db.BookCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, books)
}

func TestSyncDirectory_NothingToDo(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, afero.WriteFile(env.local, filepath.Join(bookDir, "cover.jpg"), []byte("jpg"), 0o644))
	require.NoError(t, afero.WriteFile(env.local, filepath.Join(bookDir, "fake.mp3"), []byte("not audio"), 0o644))

	report, err := env.engine(Options{}).SyncDirectory(context.Background(), bookDir)
	require.NoError(t, err)
	assert.True(t, report.NothingToDo)
	assert.Empty(t, report.Actions)
	assert.Zero(t, env.dev.pushes)
}

func TestSyncDirectory_AuthorMismatch(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 1)
	ctx := context.Background()

	existing, err := env.db.UpsertBook(ctx, "Dune", "F. Herbert")
	require.NoError(t, err)

	report, err := env.engine(Options{}).SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.True(t, report.AuthorMismatch)
	assert.Equal(t, "F. Herbert", report.StoredAuthor)
	assert.False(t, report.AuthorRefreshed)

	book, err := env.db.GetBook(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "F. Herbert", book.Author)

	report, err = env.engine(Options{RefreshAuthor: true}).SyncDirectory(ctx, bookDir)
	require.NoError(t, err)
	assert.True(t, report.AuthorRefreshed)

	book, err = env.db.GetBook(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Frank Herbert", book.Author)
}

func TestSyncDirectory_Observer(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 2)
	obs := &recordingObserver{}

	_, err := env.engine(Options{Observer: obs}).SyncDirectory(context.Background(), bookDir)
	require.NoError(t, err)
	assert.Len(t, obs.actions, 2)
	require.Len(t, obs.reports, 1)
	assert.False(t, obs.reports[0].FinishedAt.IsZero())
}

func TestSyncCollection(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, "/books/dune_frank-herbert", 2)
	writeBook(t, env.local, "/books/emma_jane-austen", 1)
	writeBook(t, env.local, "/books/unsorted", 1)
	require.NoError(t, afero.WriteFile(env.local, "/books/readme.txt", []byte("hi"), 0o644))
	ctx := context.Background()

	result, err := env.engine(Options{}).SyncCollection(ctx, "/books")
	require.NoError(t, err)
	require.Len(t, result.Reports, 2)
	assert.Equal(t, "Dune", result.Reports[0].Title)
	assert.Equal(t, "Emma", result.Reports[1].Title)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "/books/unsorted", result.Skipped[0].Dir)
	assert.Equal(t, 3, env.dev.pushes)
}

func TestSyncCollection_TransferFailure(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, "/books/dune_frank-herbert", 1)
	writeBook(t, env.local, "/books/emma_jane-austen", 1)
	env.dev.failPush["01.mp3"] = true

	result, err := env.engine(Options{}).SyncCollection(context.Background(), "/books")
	assert.True(t, errors.Is(err, ErrTransferFailed))
	assert.Len(t, result.Reports, 2)
	assert.Equal(t, 2, result.Failed())
}

func TestSyncCollection_Unreachable(t *testing.T) {
	env := setupEnv(t)
	writeBook(t, env.local, bookDir, 1)
	env.dev.unreachable = true

	_, err := env.engine(Options{}).SyncCollection(context.Background(), "/books")
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
	assert.ErrorIs(t, err, device.ErrUnreachable)
}
