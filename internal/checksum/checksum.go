// Package checksum fingerprints chapter files for change detection.
//
// Digests are MD5, the same algorithm the device computes with md5sum, so a
// local and a remote digest can be compared directly. They are used purely to
// decide whether a transfer is needed, never for integrity guarantees.
package checksum

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"

	"github.com/bookreader/chaptersync/internal/device"
)

// chunkSize is the read size used when streaming a file into the hash.
const chunkSize = 4096

// Digest is a hex-encoded content fingerprint.
type Digest string

// Unknown is returned when a digest could not be computed. Callers must treat
// it as "assume changed".
const Unknown Digest = ""

// Known reports whether d holds an actual fingerprint.
func (d Digest) Known() bool {
	return d != Unknown
}

// Service computes local and remote digests.
type Service struct {
	fs     afero.Fs
	device device.Device
	logger *log.Logger
}

// New creates a Service reading local files through fs and remote digests
// from dev. If logger is nil, a default logger writing to stderr is used.
func New(fs afero.Fs, dev device.Device, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[checksum] ", log.LstdFlags)
	}
	return &Service{fs: fs, device: dev, logger: logger}
}

// DigestLocal streams path through MD5. On any I/O error it logs and returns
// Unknown.
func (s *Service) DigestLocal(path string) Digest {
	f, err := s.fs.Open(path)
	if err != nil {
		s.logger.Printf("Error calculating MD5 for local file %s: %v", path, err)
		return Unknown
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, onlyReader{f}, buf); err != nil {
		s.logger.Printf("Error calculating MD5 for local file %s: %v", path, err)
		return Unknown
	}

	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// DigestRemote asks the device for the digest of remotePath. A missing file or
// any device failure yields Unknown.
func (s *Service) DigestRemote(ctx context.Context, remotePath string) Digest {
	sum, err := s.device.Digest(ctx, remotePath)
	if err != nil {
		if !errors.Is(err, device.ErrNotFound) {
			s.logger.Printf("Error calculating MD5 for device file %s: %v", remotePath, err)
		}
		return Unknown
	}
	return Digest(sum)
}

// onlyReader hides WriterTo/ReaderFrom so io.CopyBuffer uses the fixed-size
// buffer.
type onlyReader struct {
	io.Reader
}
