package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bookreader/chaptersync/internal/reconcile"
	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	GroupID: "sync",
	Short:   "Correct cataloged durations from the files on the device",
	Long: `Pull every cataloged chapter from the device, measure its real duration
and write it back to the catalog.

The finished flag is recomputed on every run: a chapter is finished when its
last played position reaches 95% of the measured duration, and unfinished
otherwise, even if the player had marked it finished.
Chapters that cannot be pulled or measured are reported and left unchanged.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		format, _ := cmd.Flags().GetString("format")

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, dryRun)

		opts := reconcile.Options{
			BaseRemotePath: cfg.Device.BasePath,
			DryRun:         dryRun,
			Logger:         logOut.Logger("reconcile"),
		}
		if format != formatText {
			opts.Out = io.Discard
		} else if !dryRun {
			opts.OnItem = func(item reconcile.Item) {
				printReconcileItem(os.Stdout, item)
			}
		}

		report, err := reconcile.New(db, newDevice(), opts).Run(ctx)

		if report != nil {
			if ok, werr := writeStructured(os.Stdout, format, report); werr != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", werr)
			} else if !ok {
				summary := report.Summary()
				if report.Failed > 0 {
					summary = ui.RenderWarn(summary)
				} else {
					summary = ui.RenderPass(summary)
				}
				fmt.Println(summary)
			}
		}

		if cerr := db.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", cerr)
		}
		if err != nil {
			fatalf("%v", err)
		}
	},
}

func printReconcileItem(w io.Writer, item reconcile.Item) {
	name := item.BookTitle + "/" + item.FileName
	if item.Error != "" {
		fmt.Fprintf(w, "%s %s %s\n", ui.RenderFailIcon(), name, ui.RenderFail(item.Error))
		return
	}

	icon := ui.RenderSkipIcon()
	if item.Changed() {
		icon = ui.RenderPassIcon()
	}
	line := fmt.Sprintf("%s %s %s", icon, name, ui.FormatDuration(item.PlayTime))
	if item.OldPlayTime != item.PlayTime {
		line += ui.RenderMuted(" (was " + ui.FormatDuration(item.OldPlayTime) + ")")
	}
	if item.Finished && !item.OldFinished {
		line += " " + ui.RenderAccent("finished")
	}
	fmt.Fprintln(w, line)
}

func init() {
	reconcileCmd.Flags().Bool("dry-run", false, "list the chapters that would be checked without pulling them")
	reconcileCmd.Flags().String("format", formatText, "output format: text, json or yaml")

	rootCmd.AddCommand(reconcileCmd)
}
