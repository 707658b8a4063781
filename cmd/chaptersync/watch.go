package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bookreader/chaptersync/internal/dashboard"
	chsync "github.com/bookreader/chaptersync/internal/sync"
	"github.com/bookreader/chaptersync/internal/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch <collection-dir>",
	GroupID: "sync",
	Short:   "Sync book directories whenever their chapters change",
	Long: `Watch a collection of book directories and sync each one shortly after
its files stop changing.

Every book directory is synced once at startup unless --no-initial-sync is
given. New book directories are picked up as they appear. With --dashboard
the sync activity is also published over WebSocket.

Examples:
  chaptersync watch books/
  chaptersync watch --dashboard --port 9000 books/`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		noInitial, _ := cmd.Flags().GetBool("no-initial-sync")

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, false)
		defer db.Close()

		var observer chsync.Observer
		if withDashboard {
			logger := logOut.Logger("dashboard")
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Stats:  db.Stats,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			defer server.Stop()
			fmt.Printf("Dashboard: ws://%s/ws\n", server.Addr())
			observer = dashboard.NewHandler(server, db.Stats, logger)
		}

		engine := chsync.New(db, newDevice(), chsync.Options{
			BaseRemotePath: cfg.Device.BasePath,
			StopOnError:    cfg.Sync.StopOnError,
			RefreshAuthor:  cfg.Sync.RefreshAuthor,
			Observer:       observer,
			Logger:         logOut.Logger("sync"),
		})

		syncDir := func(ctx context.Context, dir string) error {
			report, err := engine.SyncDirectory(ctx, dir)
			if report != nil {
				printSyncReport(os.Stdout, report)
			}
			return err
		}

		w, err := watch.NewWithConfig(args[0], syncDir, &watch.Config{
			DebounceInterval: cfg.Watch.Debounce,
			InitialSync:      !noInitial,
			Logger:           logOut.Logger("watch"),
		})
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Println("Watching for changes. Press Ctrl+C to stop...")
		if err := w.Start(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Bool("dashboard", false, "publish sync activity on the WebSocket dashboard")
	watchCmd.Flags().IntP("port", "p", 8080, "dashboard port")
	watchCmd.Flags().Bool("no-initial-sync", false, "do not sync every book directory at startup")
	watchCmd.Flags().Duration("debounce", 0, "quiet period before a changed directory is synced")
	flagKeys[watchCmd] = map[string]string{
		"dashboard.port": "port",
		"watch.debounce": "debounce",
	}

	rootCmd.AddCommand(watchCmd)
}
