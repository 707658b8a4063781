package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bookreader/chaptersync/internal/catalog"
	"github.com/bookreader/chaptersync/internal/device"
	chsync "github.com/bookreader/chaptersync/internal/sync"
	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync <book-dir>",
	GroupID: "sync",
	Short:   "Push a book's chapters to the device and catalog them",
	Long: `Sync a book directory to the device.

For each MP3 in the directory:
  1. Compute its MD5 and ask the device for the MD5 of its copy
  2. Transfer it when the copy is missing or differs
  3. Record the chapter and its duration in the catalog

Running sync twice over an unchanged directory transfers nothing and leaves
the catalog untouched. Playback progress recorded by the player is never
overwritten.

With --all the argument is a collection root and every subdirectory is synced
in name order; subdirectories whose names do not follow the
<title-slug>_<author-slug> convention are skipped with a warning.

Examples:
  chaptersync sync books/the-two-towers_j-r-r-tolkien
  chaptersync sync --dry-run books/dune_frank-herbert
  chaptersync sync --all books/`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		yes, _ := cmd.Flags().GetBool("yes")
		format, _ := cmd.Flags().GetString("format")
		target := args[0]

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, cfg.Sync.DryRun)
		dev := newDevice()

		opts := chsync.Options{
			BaseRemotePath: cfg.Device.BasePath,
			StopOnError:    cfg.Sync.StopOnError,
			RefreshAuthor:  cfg.Sync.RefreshAuthor,
			Logger:         logOut.Logger("sync"),
		}

		if !cfg.Sync.DryRun && !yes && isInteractive() {
			pending, err := planTransfers(ctx, db, dev, opts, target, all)
			if err != nil {
				_ = db.Close()
				fatalf("%v", err)
			}
			if pending > 0 && !confirm(
				fmt.Sprintf("Transfer %d file(s) to %s?", pending, dev.Name()),
				"Files are written under "+cfg.Device.BasePath, true) {
				_ = db.Close()
				fmt.Println("Aborted.")
				return
			}
		}

		opts.DryRun = cfg.Sync.DryRun
		if format != formatText {
			// Keep stdout parseable.
			opts.Out = io.Discard
		}
		engine := chsync.New(db, dev, opts)

		var (
			result interface{}
			err    error
		)
		if all {
			var coll *chsync.CollectionReport
			coll, err = engine.SyncCollection(ctx, target)
			result = coll
			if coll != nil && format == formatText {
				for _, r := range coll.Reports {
					printSyncReport(os.Stdout, r)
				}
				for _, s := range coll.Skipped {
					fmt.Printf("%s %s: %s\n", ui.RenderWarnIcon(), s.Dir, s.Reason)
				}
			}
		} else {
			var report *chsync.Report
			report, err = engine.SyncDirectory(ctx, target)
			result = report
			if report != nil && format == formatText {
				printSyncReport(os.Stdout, report)
			}
		}

		if _, werr := writeStructured(os.Stdout, format, result); werr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", werr)
		}

		if cerr := db.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", cerr)
		}
		if err != nil {
			fatalf("%v", err)
		}
	},
}

// planTransfers runs a silent dry run and returns the number of files that
// would be transferred.
func planTransfers(ctx context.Context, db *catalog.DB, dev device.Device, opts chsync.Options, target string, all bool) (int, error) {
	opts.DryRun = true
	opts.Out = io.Discard
	engine := chsync.New(db, dev, opts)

	if all {
		coll, err := engine.SyncCollection(ctx, target)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, r := range coll.Reports {
			n += r.Transferred
		}
		return n, nil
	}

	report, err := engine.SyncDirectory(ctx, target)
	if err != nil {
		return 0, err
	}
	return report.Transferred, nil
}

// printSyncReport renders a directory run for the terminal.
func printSyncReport(w io.Writer, r *chsync.Report) {
	header := fmt.Sprintf("%s by %s", r.Title, r.Author)
	if r.DryRun {
		header += ui.RenderMuted(" (dry run)")
	}
	fmt.Fprintln(w, ui.RenderBold(header))

	if r.AuthorMismatch && !r.AuthorRefreshed {
		fmt.Fprintf(w, "  %s cataloged author is %q (use --refresh-author to update)\n", ui.RenderWarnIcon(), r.StoredAuthor)
	}
	if r.NothingToDo {
		fmt.Fprintf(w, "  %s no valid audio files\n", ui.RenderSkipIcon())
		return
	}

	if !r.DryRun {
		for _, a := range r.Actions {
			var icon string
			switch {
			case a.Failed():
				icon = ui.RenderFailIcon()
			case a.Decision == chsync.DecisionSkip:
				icon = ui.RenderSkipIcon()
			default:
				icon = ui.RenderPassIcon()
			}
			line := fmt.Sprintf("  %s %-24s %s", icon, a.FileName, a.Reason)
			if a.DurationMs >= 0 {
				line += ui.RenderMuted(" [" + ui.FormatDuration(a.DurationMs) + "]")
			}
			if a.Error != "" {
				line += " " + ui.RenderFail(a.Error)
			} else if a.Warning != "" {
				line += " " + ui.RenderWarn(a.Warning)
			}
			fmt.Fprintln(w, line)
		}
	}

	summary := r.Summary()
	switch {
	case r.Failed > 0:
		summary = ui.RenderFail(summary)
	case r.DurationWarnings > 0:
		summary = ui.RenderWarn(summary)
	default:
		summary = ui.RenderPass(summary)
	}
	fmt.Fprintf(w, "  %s\n", summary)
}

func init() {
	syncCmd.Flags().Bool("all", false, "treat the argument as a collection root and sync every book directory in it")
	syncCmd.Flags().Bool("dry-run", false, "show what would be transferred and cataloged without doing it")
	syncCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	syncCmd.Flags().Bool("stop-on-error", false, "stop a book at its first failed transfer")
	syncCmd.Flags().Bool("refresh-author", false, "overwrite the cataloged author with the one from the directory name")
	syncCmd.Flags().String("format", formatText, "output format: text, json or yaml")

	flagKeys[syncCmd] = map[string]string{
		"sync.dry_run":        "dry-run",
		"sync.stop_on_error":  "stop-on-error",
		"sync.refresh_author": "refresh-author",
	}

	rootCmd.AddCommand(syncCmd)
}
