package main

import (
	"fmt"

	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:     "device",
	GroupID: "advanced",
	Short:   "Inspect the configured device",
}

var deviceCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the device is reachable and holds the book directory",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signalContext()
		defer cancel()

		dev := newDevice()
		if !dev.IsReachable(ctx) {
			fmt.Printf("%s %s is not reachable\n", ui.RenderFailIcon(), dev.Name())
			fatalf("device check failed")
		}
		fmt.Printf("%s %s is reachable\n", ui.RenderPassIcon(), dev.Name())

		ok, err := dev.Exists(ctx, cfg.Device.BasePath)
		switch {
		case err != nil:
			fatalf("%v", err)
		case ok:
			fmt.Printf("%s %s exists\n", ui.RenderPassIcon(), cfg.Device.BasePath)
		default:
			fmt.Printf("%s %s does not exist yet; the first sync creates it\n", ui.RenderWarnIcon(), cfg.Device.BasePath)
		}
	},
}

func init() {
	deviceCmd.AddCommand(deviceCheckCmd)
	rootCmd.AddCommand(deviceCmd)
}
