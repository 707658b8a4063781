// Command chaptersync pushes audiobook chapters to a phone and keeps the
// player's chapter catalog in step with them.
package main

import (
	"fmt"
	"os"

	"github.com/bookreader/chaptersync/internal/config"
	"github.com/bookreader/chaptersync/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	v       = config.New()
	cfg     *config.Config
	logOut  *logging.Output
	cfgFile string
	envFile string
	quiet   bool

	// flagKeys maps a command's local flags to config keys. They are bound
	// only for the command being run so commands may share flag names.
	flagKeys = map[*cobra.Command]map[string]string{}
)

var rootCmd = &cobra.Command{
	Use:   "chaptersync",
	Short: "Sync audiobook chapters to a device and catalog them",
	Long: `chaptersync copies audiobook chapters to an Android phone and records
them in the SQLite catalog the BookReader player uses.

Each book lives in a directory named <title-slug>_<author-slug>, for example
"the-two-towers_j-r-r-tolkien", holding one MP3 per chapter. Only files whose
MD5 differs from the copy on the device are transferred.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for key, name := range flagKeys[cmd] {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}

		loaded, used, err := config.Load(v, config.LoadOptions{
			ConfigFile: cfgFile,
			EnvFile:    envFile,
		})
		if err != nil {
			return err
		}
		cfg = loaded

		logOut = logging.Open(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
			Quiet:      quiet,
		})
		if used != "" {
			logOut.Logger("config").Printf("Using config file %s", used)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "catalog", Title: "Catalog Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./chaptersync.toml or ~/.config/chaptersync/chaptersync.toml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress log output on stderr")
	flags.String("catalog", "", "path to the catalog database")
	flags.String("device", "", "device transport: adb or mount")
	flags.StringP("serial", "s", "", "adb device serial")
	flags.String("mount-root", "", "mount point of the device storage (device=mount)")
	flags.String("base-path", "", "book directory on the device")
	flags.String("log-file", "", "also write logs to this file, rotated by size")

	for key, name := range map[string]string{
		"catalog.path":      "catalog",
		"device.kind":       "device",
		"device.serial":     "serial",
		"device.mount_root": "mount-root",
		"device.base_path":  "base-path",
		"log.file":          "log-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
