package main

import (
	"fmt"
	"os"

	"github.com/bookreader/chaptersync/internal/config"
	"github.com/bookreader/chaptersync/internal/ui"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Write or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := config.FileName + ".toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPassIcon(), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, the .env file,
the environment and flags have been applied.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out, err := cfg.YAML()
		if err != nil {
			fatalf("%v", err)
		}
		os.Stdout.Write(out)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
