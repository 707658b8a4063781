// Package logging builds the per-component loggers. Every component logs
// through a standard log.Logger with a bracketed prefix; the shared output
// is stderr plus, optionally, a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared output.
type Options struct {
	// File, when set, receives a copy of every log line and is rotated by
	// size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet drops console output; the log file still receives everything.
	Quiet bool

	// Console defaults to stderr.
	Console io.Writer
}

// Output is the shared destination of all component loggers.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open creates the shared output.
func Open(opts Options) *Output {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.Quiet {
		console = io.Discard
	}

	out := &Output{w: console}
	if opts.File != "" {
		out.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		out.w = io.MultiWriter(console, out.file)
	}
	return out
}

// Writer returns the shared writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger for component, prefixed "[component] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
