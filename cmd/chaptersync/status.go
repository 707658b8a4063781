package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "catalog",
	Short:   "Show catalog totals and recently played chapters",
	Long: `Show how many books and chapters the catalog holds and how much of them
has been listened to.

--played-since accepts natural language or a duration:
  chaptersync status --played-since yesterday
  chaptersync status --played-since "last monday"
  chaptersync status --played-since 72h`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("played-since")
		format, _ := cmd.Flags().GetString("format")

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, false)
		defer db.Close()

		stats, err := db.Stats(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		out := statusOutput{Catalog: db.Path(), Stats: stats}
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			out.Since = &t
			out.Recent, err = db.ChaptersPlayedSince(ctx, t)
			if err != nil {
				fatalf("%v", err)
			}
		}

		if ok, err := writeStructured(os.Stdout, format, out); err != nil {
			fatalf("%v", err)
		} else if ok {
			return
		}

		fmt.Println(ui.RenderBold("Catalog: ") + out.Catalog)
		fmt.Printf("  Books:     %d\n", stats.Books)
		fmt.Printf("  Chapters:  %d (%d finished)\n", stats.Chapters, stats.FinishedChapters)
		fmt.Printf("  Play time: %s\n", ui.FormatDuration(stats.TotalPlayTime))

		if out.Since == nil {
			return
		}
		fmt.Println()
		fmt.Println(ui.RenderBold(fmt.Sprintf("Played since %s:", ui.FormatTime(*out.Since))))
		if len(out.Recent) == 0 {
			fmt.Println(ui.RenderMuted("  nothing"))
			return
		}
		for _, ch := range out.Recent {
			icon := ui.RenderSkipIcon()
			if ch.FinishedPlaying {
				icon = ui.RenderPassIcon()
			}
			fmt.Printf("  %s %s %s %s/%s %s\n", icon,
				ui.FormatTime(ch.LastPlayed()),
				ch.BookTitle, ch.Title,
				ui.RenderMuted(ui.FormatDuration(ch.LastPlayedPosition)),
				ui.RenderMuted(ui.FormatDuration(ch.PlayTime)))
		}
	},
}

type statusOutput struct {
	Catalog string                 `json:"catalog" yaml:"catalog"`
	Stats   schema.Stats           `json:"stats" yaml:"stats"`
	Since   *time.Time             `json:"since,omitempty" yaml:"since,omitempty"`
	Recent  []schema.ChapterRecord `json:"recent,omitempty" yaml:"recent,omitempty"`
}

// parseSince resolves a duration such as "48h" or a natural language time
// such as "yesterday" relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", s)
	}
	return r.Time, nil
}

func init() {
	statusCmd.Flags().String("played-since", "", "list chapters played since this time")
	statusCmd.Flags().String("format", formatText, "output format: text, json or yaml")

	rootCmd.AddCommand(statusCmd)
}
