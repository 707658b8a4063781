package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/tcolgate/mp3"
)

var (
	// ErrNotAudio is returned when a file holds no decodable MP3 frames.
	ErrNotAudio = errors.New("not an MP3 file")

	// ErrUnreadable is returned when a file cannot be opened or read.
	ErrUnreadable = errors.New("unreadable audio file")
)

// Inspector measures the play time of a local audio file.
type Inspector interface {
	// Duration returns the play time of the file at path in milliseconds.
	Duration(path string) (int64, error)
}

// MP3Inspector walks the MPEG frames of a file and sums their durations.
// This handles VBR files without relying on a Xing header.
type MP3Inspector struct {
	fs afero.Fs
}

// NewMP3Inspector creates an inspector reading through fs.
func NewMP3Inspector(fs afero.Fs) *MP3Inspector {
	return &MP3Inspector{fs: fs}
}

// Duration implements Inspector.
func (i *MP3Inspector) Duration(path string) (int64, error) {
	if !HasAudioExtension(path) {
		return 0, fmt.Errorf("%w: %s", ErrNotAudio, path)
	}

	f, err := i.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	defer f.Close()

	var (
		total   time.Duration
		frames  int
		frame   mp3.Frame
		skipped int
	)

	dec := mp3.NewDecoder(f)
	for {
		err := dec.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A truncated trailing frame ends the stream.
			if errors.Is(err, io.ErrUnexpectedEOF) && frames > 0 {
				break
			}
			if frames == 0 {
				return 0, fmt.Errorf("%w: %s: %v", ErrNotAudio, path, err)
			}
			return 0, fmt.Errorf("%w: %s: frame %d: %v", ErrUnreadable, path, frames, err)
		}
		total += frame.Duration()
		frames++
	}

	if frames == 0 {
		return 0, fmt.Errorf("%w: %s: no frames", ErrNotAudio, path)
	}

	return total.Milliseconds(), nil
}
