package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bookreader/chaptersync/internal/catalog"
	"github.com/bookreader/chaptersync/internal/catalog/schema"
	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/spf13/cobra"
)

var booksCmd = &cobra.Command{
	Use:     "books",
	GroupID: "catalog",
	Short:   "List and remove cataloged books",
}

var booksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged books with their chapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		withChapters, _ := cmd.Flags().GetBool("chapters")

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, false)
		defer db.Close()

		books, err := db.ListBooks(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		entries := make([]bookEntry, 0, len(books))
		for _, b := range books {
			chapters, err := db.ListChapters(ctx, b.ID)
			if err != nil {
				fatalf("%v", err)
			}
			entry := bookEntry{Book: b, ChapterCount: len(chapters)}
			for _, ch := range chapters {
				entry.PlayTime += ch.PlayTime
				if ch.FinishedPlaying {
					entry.Finished++
				}
			}
			if withChapters {
				entry.Chapters = chapters
			}
			entries = append(entries, entry)
		}

		if ok, err := writeStructured(os.Stdout, format, entries); err != nil {
			fatalf("%v", err)
		} else if ok {
			return
		}

		if len(entries) == 0 {
			fmt.Println(ui.RenderMuted("No books cataloged"))
			return
		}
		for _, e := range entries {
			fmt.Printf("%s %s %s\n", ui.RenderAccent(fmt.Sprintf("%4d", e.ID)),
				ui.RenderBold(e.Title), ui.RenderMuted("by "+e.Author))
			fmt.Printf("     %d chapters, %d finished, %s\n",
				e.ChapterCount, e.Finished, ui.FormatDuration(e.PlayTime))
			for _, ch := range e.Chapters {
				icon := ui.RenderSkipIcon()
				if ch.FinishedPlaying {
					icon = ui.RenderPassIcon()
				}
				fmt.Printf("     %s %-32s %s\n", icon, ch.FileName, ui.FormatDuration(ch.PlayTime))
			}
		}
	},
}

var booksDeleteCmd = &cobra.Command{
	Use:   "delete <title>",
	Short: "Remove a book and its chapters from the catalog",
	Long: `Remove a book and all of its chapter rows from the catalog, including the
recorded playback progress. Files on the device are not touched.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		title := args[0]

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, false)
		defer db.Close()

		book, err := db.LookupBook(ctx, title)
		if errors.Is(err, catalog.ErrNotFound) {
			fatalf("no book titled %q", title)
		}
		if err != nil {
			fatalf("%v", err)
		}

		if !force {
			if !isInteractive() {
				fatalf("refusing to delete %q without --force in a non-interactive session", title)
			}
			chapters, err := db.ListChapters(ctx, book.ID)
			if err != nil {
				fatalf("%v", err)
			}
			if !confirm(fmt.Sprintf("Delete %q?", book.Title),
				fmt.Sprintf("%d chapter(s) and their playback progress will be removed", len(chapters)), false) {
				fmt.Println("Aborted.")
				return
			}
		}

		if err := db.DeleteBook(ctx, book.ID); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPassIcon(), book.Title)
	},
}

type bookEntry struct {
	schema.Book  `yaml:",inline"`
	ChapterCount int              `json:"chapter_count" yaml:"chapter_count"`
	Finished     int              `json:"finished" yaml:"finished"`
	PlayTime     int64            `json:"play_time_ms" yaml:"play_time_ms"`
	Chapters     []schema.Chapter `json:"chapters,omitempty" yaml:"chapters,omitempty"`
}

func init() {
	booksListCmd.Flags().Bool("chapters", false, "include every chapter")
	booksListCmd.Flags().String("format", formatText, "output format: text, json or yaml")
	booksDeleteCmd.Flags().BoolP("force", "f", false, "do not ask for confirmation")

	booksCmd.AddCommand(booksListCmd, booksDeleteCmd)
	rootCmd.AddCommand(booksCmd)
}
