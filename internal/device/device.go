// Package device abstracts the removable or managed device that receives
// chapter files.
//
// Two implementations are provided:
//
//   - ADB drives an Android device through the adb executable.
//   - Mounted treats a directory (USB mass storage, an MTP fuse mount) as the
//     device root.
//
// Remote paths always use forward slashes, whatever the host OS.
package device

import (
	"context"
	"errors"
)

// DefaultBasePath is where the player looks for book directories.
const DefaultBasePath = "/sdcard/Audiobooks/BookReader/audio"

// Common errors returned by device operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // remote file absent, transfer it
//	}
var (
	// ErrNotFound is returned when the remote path does not exist.
	ErrNotFound = errors.New("remote path not found")

	// ErrUnavailable is returned when the device is not connected or not
	// authorized.
	ErrUnavailable = errors.New("device unavailable")

	// ErrUnreachable is returned by sync and reconcile runs when the
	// device does not answer its reachability check.
	ErrUnreachable = errors.New("device unreachable")

	// ErrTimeout is returned when a device operation exceeds its timeout.
	ErrTimeout = errors.New("device operation timed out")
)

// Device is the remote side of a synchronization.
type Device interface {
	// Name identifies the device in logs and reports.
	Name() string

	// IsReachable reports whether the device is connected and usable.
	IsReachable(ctx context.Context) bool

	// Exists reports whether remotePath exists on the device.
	Exists(ctx context.Context, remotePath string) (bool, error)

	// MkdirAll creates remotePath and any missing parents.
	MkdirAll(ctx context.Context, remotePath string) error

	// Push copies localPath to remotePath, overwriting it.
	Push(ctx context.Context, localPath, remotePath string) error

	// Pull copies remotePath to localPath, overwriting it.
	Pull(ctx context.Context, remotePath, localPath string) error

	// Digest returns the hex MD5 of remotePath.
	// Returns ErrNotFound if the file does not exist.
	Digest(ctx context.Context, remotePath string) (string, error)
}
