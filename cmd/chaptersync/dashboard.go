package main

import (
	"fmt"
	"time"

	"github.com/bookreader/chaptersync/internal/dashboard"
	"github.com/bookreader/chaptersync/internal/reconcile"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start a WebSocket dashboard server publishing catalog statistics.

WebSocket messages include:
- chapter_update: a chapter was transferred, skipped or failed
- sync_complete: a book directory run finished
- reconcile_item: a chapter's duration was re-measured
- reconcile_complete: a reconcile run finished
- stats: catalog totals

Sync events are published while 'chaptersync watch --dashboard' runs. With
--reconcile-every this command reconciles the catalog against the device
periodically and publishes the results.

Example usage:
  chaptersync dashboard                          # Start on the configured port
  chaptersync dashboard --port 9000              # Start on a custom port
  chaptersync dashboard --reconcile-every 30m    # Reconcile every 30 minutes

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		every, _ := cmd.Flags().GetDuration("reconcile-every")

		ctx, cancel := signalContext()
		defer cancel()

		db := openCatalog(ctx, false)
		defer db.Close()

		logger := logOut.Logger("dashboard")
		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Stats:  db.Stats,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		handler := dashboard.NewHandler(server, db.Stats, logger)

		addr := server.Addr()
		fmt.Printf("Dashboard server started on http://%s\n", addr)
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		var tick <-chan time.Time
		if every > 0 {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			tick = ticker.C
		}

		reconciler := reconcile.New(db, newDevice(), reconcile.Options{
			BaseRemotePath: cfg.Device.BasePath,
			OnItem:         handler.OnReconcileItem,
			Logger:         logOut.Logger("reconcile"),
		})

	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-tick:
				report, err := reconciler.Run(ctx)
				if err != nil {
					logger.Printf("Reconcile failed: %v", err)
					continue
				}
				handler.OnReconcileReport(report)
			}
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatalf("during shutdown: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	dashboardCmd.Flags().Duration("reconcile-every", 0, "reconcile the catalog against the device at this interval (0 disables)")
	flagKeys[dashboardCmd] = map[string]string{"dashboard.port": "port"}

	rootCmd.AddCommand(dashboardCmd)
}
