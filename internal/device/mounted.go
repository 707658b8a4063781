package device

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// Mounted is a Device backed by a filesystem, typically a directory where the
// device storage is mounted. Remote paths are resolved inside root.
type Mounted struct {
	name   string
	local  afero.Fs
	remote afero.Fs
}

// NewMounted creates a device rooted at mountRoot on the host filesystem.
func NewMounted(mountRoot string) *Mounted {
	osFs := afero.NewOsFs()
	return &Mounted{
		name:   "mount:" + mountRoot,
		local:  osFs,
		remote: afero.NewBasePathFs(osFs, mountRoot),
	}
}

// NewMountedFs creates a device over arbitrary filesystems; local is where
// Push reads from and Pull writes to.
func NewMountedFs(name string, local, remote afero.Fs) *Mounted {
	return &Mounted{name: name, local: local, remote: remote}
}

// Name implements Device.
func (m *Mounted) Name() string {
	return m.name
}

// IsReachable implements Device. The mount root must be a readable directory.
func (m *Mounted) IsReachable(ctx context.Context) bool {
	info, err := m.remote.Stat("/")
	return err == nil && info.IsDir()
}

// Exists implements Device.
func (m *Mounted) Exists(ctx context.Context, remotePath string) (bool, error) {
	return afero.Exists(m.remote, m.clean(remotePath))
}

// MkdirAll implements Device.
func (m *Mounted) MkdirAll(ctx context.Context, remotePath string) error {
	return m.remote.MkdirAll(m.clean(remotePath), 0o755)
}

// Push implements Device.
func (m *Mounted) Push(ctx context.Context, localPath, remotePath string) error {
	if err := copyFile(ctx, m.local, localPath, m.remote, m.clean(remotePath)); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", localPath, remotePath, err)
	}
	return nil
}

// Pull implements Device.
func (m *Mounted) Pull(ctx context.Context, remotePath, localPath string) error {
	err := copyFile(ctx, m.remote, m.clean(remotePath), m.local, localPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", remotePath, err)
	}
	return nil
}

// Digest implements Device.
func (m *Mounted) Digest(ctx context.Context, remotePath string) (string, error) {
	f, err := m.remote.Open(m.clean(remotePath))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// clean maps a slash-separated remote path onto the backing filesystem.
func (m *Mounted) clean(remotePath string) string {
	return filepath.FromSlash(path.Clean("/" + remotePath))
}

// copyFile writes through a temporary sibling and renames it into place so an
// interrupted copy never leaves a truncated destination.
func copyFile(ctx context.Context, srcFs afero.Fs, src string, dstFs afero.Fs, dst string) error {
	in, err := srcFs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := dstFs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp := dst + ".partial"
	out, err := dstFs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		dstFs.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		dstFs.Remove(tmp)
		return err
	}

	return dstFs.Rename(tmp, dst)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
