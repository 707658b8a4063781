package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bookreader/chaptersync/internal/catalog"
	"github.com/bookreader/chaptersync/internal/config"
	"github.com/bookreader/chaptersync/internal/device"
	"github.com/charmbracelet/huh"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// fatalf prints an error and exits non-zero.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadCatalog opens the configured catalog. A missing or invalid file is an
// error unless catalog.create is set and the file does not exist yet. A
// read-only load never creates the file or touches its schema or journal.
func loadCatalog(ctx context.Context, readOnly bool) (*catalog.DB, error) {
	path := cfg.Catalog.Path

	if err := catalog.ValidateFile(path); err != nil {
		_, statErr := os.Stat(path)
		if readOnly || !cfg.Catalog.Create || !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w (run 'chaptersync catalog init' to create one)", err)
		}
		db, err := catalog.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog: %w", err)
		}
		if logOut != nil {
			logOut.Logger("catalog").Printf("Created catalog %s", path)
		}
		return db, nil
	}

	if readOnly {
		return catalog.OpenReadOnly(path)
	}

	db, err := catalog.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// openCatalog is loadCatalog for commands; errors are fatal.
func openCatalog(ctx context.Context, readOnly bool) *catalog.DB {
	db, err := loadCatalog(ctx, readOnly)
	if err != nil {
		fatalf("%v", err)
	}
	return db
}

// newDevice builds the configured device.
func newDevice() device.Device {
	switch cfg.Device.Kind {
	case config.DeviceMount:
		return device.NewMounted(cfg.Device.MountRoot)
	default:
		return device.NewADB(device.ADBConfig{
			Serial:          cfg.Device.Serial,
			Binary:          cfg.Device.ADBPath,
			Timeout:         cfg.Device.Timeout,
			TransferTimeout: cfg.Device.TransferTimeout,
			Logger:          logOut.Logger("device"),
		})
	}
}

// isInteractive reports whether stdin is a terminal a prompt can use.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question. Non-interactive sessions get def.
func confirm(title, description string, def bool) bool {
	if !isInteractive() {
		return def
	}
	answer := def
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&answer).
		Run()
	if err != nil {
		return false
	}
	return answer
}

// Output formats for report-style commands.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// writeStructured writes v as JSON or YAML. It returns false for the text
// format so the caller renders its own view.
func writeStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case formatText, "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}
