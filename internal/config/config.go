// Package config loads chaptersync settings from defaults, a config file,
// a .env file, the environment and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bookreader/chaptersync/internal/device"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. CHAPTERSYNC_DEVICE_SERIAL.
const EnvPrefix = "CHAPTERSYNC"

// FileName is the config file base name; .toml and .yaml are accepted.
const FileName = "chaptersync"

// Device kinds.
const (
	DeviceADB   = "adb"
	DeviceMount = "mount"
)

// Config is the effective configuration.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog" toml:"catalog" yaml:"catalog"`
	Device    DeviceConfig    `mapstructure:"device" toml:"device" yaml:"device"`
	Sync      SyncConfig      `mapstructure:"sync" toml:"sync" yaml:"sync"`
	Log       LogConfig       `mapstructure:"log" toml:"log" yaml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard" yaml:"dashboard"`
	Watch     WatchConfig     `mapstructure:"watch" toml:"watch" yaml:"watch"`
}

// CatalogConfig locates the SQLite catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`

	// Create allows sync to create a missing catalog instead of failing.
	Create bool `mapstructure:"create" toml:"create" yaml:"create"`
}

// DeviceConfig selects and tunes the device transport.
type DeviceConfig struct {
	Kind            string        `mapstructure:"kind" toml:"kind" yaml:"kind"`
	Serial          string        `mapstructure:"serial" toml:"serial" yaml:"serial"`
	ADBPath         string        `mapstructure:"adb_path" toml:"adb_path" yaml:"adb_path"`
	BasePath        string        `mapstructure:"base_path" toml:"base_path" yaml:"base_path"`
	MountRoot       string        `mapstructure:"mount_root" toml:"mount_root" yaml:"mount_root"`
	Timeout         time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout" toml:"transfer_timeout" yaml:"transfer_timeout"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	DryRun        bool `mapstructure:"dry_run" toml:"dry_run" yaml:"dry_run"`
	StopOnError   bool `mapstructure:"stop_on_error" toml:"stop_on_error" yaml:"stop_on_error"`
	RefreshAuthor bool `mapstructure:"refresh_author" toml:"refresh_author" yaml:"refresh_author"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" yaml:"compress"`
}

// DashboardConfig configures the WebSocket dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port" toml:"port" yaml:"port"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" toml:"debounce" yaml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{Path: "bookreader.db"},
		Device: DeviceConfig{
			Kind:            DeviceADB,
			ADBPath:         "adb",
			BasePath:        device.DefaultBasePath,
			Timeout:         30 * time.Second,
			TransferTimeout: 5 * time.Minute,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{Port: 8080},
		Watch:     WatchConfig{Debounce: 2 * time.Second},
	}
}

// New returns a viper instance carrying the defaults and environment binding.
// Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	d := Default()
	v.SetDefault("catalog.path", d.Catalog.Path)
	v.SetDefault("catalog.create", d.Catalog.Create)
	v.SetDefault("device.kind", d.Device.Kind)
	v.SetDefault("device.serial", d.Device.Serial)
	v.SetDefault("device.adb_path", d.Device.ADBPath)
	v.SetDefault("device.base_path", d.Device.BasePath)
	v.SetDefault("device.mount_root", d.Device.MountRoot)
	v.SetDefault("device.timeout", d.Device.Timeout)
	v.SetDefault("device.transfer_timeout", d.Device.TransferTimeout)
	v.SetDefault("sync.dry_run", d.Sync.DryRun)
	v.SetDefault("sync.stop_on_error", d.Sync.StopOnError)
	v.SetDefault("sync.refresh_author", d.Sync.RefreshAuthor)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("watch.debounce", d.Watch.Debounce)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return v
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit config file; when set, it must exist.
	ConfigFile string

	// EnvFile is loaded into the process environment first, without
	// overriding variables already set. Missing files are ignored.
	EnvFile string

	// SearchPaths override the config file search directories.
	SearchPaths []string
}

// DefaultSearchPaths returns the working directory and the user config
// directory.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, FileName))
	}
	return paths
}

// Load reads the configuration into v and returns the effective values and
// the config file used, if any.
func Load(v *viper.Viper, opts LoadOptions) (*Config, string, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(FileName)
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths()
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Device.Kind {
	case DeviceADB:
	case DeviceMount:
		if c.Device.MountRoot == "" {
			return fmt.Errorf("device.mount_root is required when device.kind is %q", DeviceMount)
		}
	default:
		return fmt.Errorf("device.kind must be %q or %q (got %q)", DeviceADB, DeviceMount, c.Device.Kind)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if !strings.HasPrefix(c.Device.BasePath, "/") {
		return fmt.Errorf("device.base_path must be absolute (got %q)", c.Device.BasePath)
	}
	if c.Device.Timeout <= 0 || c.Device.TransferTimeout <= 0 {
		return fmt.Errorf("device timeouts must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	return nil
}

// WriteDefault writes the built-in configuration as TOML to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	d := Default()
	file := tomlFile{
		Catalog: d.Catalog,
		Device: tomlDevice{
			Kind:            d.Device.Kind,
			Serial:          d.Device.Serial,
			ADBPath:         d.Device.ADBPath,
			BasePath:        d.Device.BasePath,
			MountRoot:       d.Device.MountRoot,
			Timeout:         d.Device.Timeout.String(),
			TransferTimeout: d.Device.TransferTimeout.String(),
		},
		Sync:      d.Sync,
		Log:       d.Log,
		Dashboard: d.Dashboard,
		Watch:     tomlWatch{Debounce: d.Watch.Debounce.String()},
	}
	if err := toml.NewEncoder(f).Encode(file); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// tomlFile mirrors Config with durations spelled as strings ("30s"), which
// is how users write them by hand.
type tomlFile struct {
	Catalog   CatalogConfig   `toml:"catalog"`
	Device    tomlDevice      `toml:"device"`
	Sync      SyncConfig      `toml:"sync"`
	Log       LogConfig       `toml:"log"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Watch     tomlWatch       `toml:"watch"`
}

type tomlDevice struct {
	Kind            string `toml:"kind"`
	Serial          string `toml:"serial"`
	ADBPath         string `toml:"adb_path"`
	BasePath        string `toml:"base_path"`
	MountRoot       string `toml:"mount_root"`
	Timeout         string `toml:"timeout"`
	TransferTimeout string `toml:"transfer_timeout"`
}

type tomlWatch struct {
	Debounce string `toml:"debounce"`
}

// YAML renders the configuration for display.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return out, nil
}
