package main

import (
	"fmt"

	"github.com/bookreader/chaptersync/internal/catalog"
	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:     "catalog",
	GroupID: "catalog",
	Short:   "Create and check the catalog database",
}

var catalogInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty catalog",
	Long: `Create a new catalog database with the books and chapters tables at the
configured path. An existing file is never overwritten.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := catalog.Create(cfg.Catalog.Path)
		if err != nil {
			fatalf("%v", err)
		}
		if err := db.Close(); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created %s\n", ui.RenderPassIcon(), cfg.Catalog.Path)
	},
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the catalog is a readable SQLite database",
	Long: `Check that the configured catalog exists and is a SQLite database, bring
its schema up to date and print its totals.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfg.Catalog.Path
		if err := catalog.ValidateFile(path); err != nil {
			fmt.Printf("%s %v\n", ui.RenderFailIcon(), err)
			fatalf("catalog check failed")
		}
		fmt.Printf("%s %s is a SQLite database\n", ui.RenderPassIcon(), path)

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, false)
		defer db.Close()

		stats, err := db.Stats(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s schema ok: %d books, %d chapters\n", ui.RenderPassIcon(), stats.Books, stats.Chapters)
	},
}

func init() {
	catalogCmd.AddCommand(catalogInitCmd, catalogCheckCmd)
	rootCmd.AddCommand(catalogCmd)
}
