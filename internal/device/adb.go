package device

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"
)

// Default timeouts for ADB operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultTransferTimeout = 5 * time.Minute
)

var md5Pattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// ADBConfig configures an ADB device.
type ADBConfig struct {
	// Serial selects the device (adb -s). Empty means the only attached device.
	Serial string

	// Binary is the adb executable (default: "adb").
	Binary string

	// Timeout bounds shell commands and device discovery.
	Timeout time.Duration

	// TransferTimeout bounds push and pull of whole files.
	TransferTimeout time.Duration

	// Runner executes adb. Defaults to ExecRunner.
	Runner CommandRunner

	// Logger for device activity.
	Logger *log.Logger
}

// ADB is a Device reached through the Android Debug Bridge.
type ADB struct {
	cfg ADBConfig
}

// NewADB creates an ADB device, filling unset fields with defaults.
func NewADB(cfg ADBConfig) *ADB {
	if cfg.Binary == "" {
		cfg.Binary = "adb"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[device] ", log.LstdFlags)
	}
	return &ADB{cfg: cfg}
}

// Name implements Device.
func (a *ADB) Name() string {
	if a.cfg.Serial == "" {
		return "adb"
	}
	return "adb:" + a.cfg.Serial
}

// IsReachable implements Device. The device must be listed by `adb devices`
// in the "device" state; "unauthorized" and "offline" do not count.
func (a *ADB) IsReachable(ctx context.Context) bool {
	out, err := a.cfg.Runner.Run(ctx, a.cfg.Timeout, a.cfg.Binary, "devices")
	if err != nil {
		a.cfg.Logger.Printf("adb devices failed: %v", err)
		return false
	}

	for _, line := range parseLines(out) {
		if strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}
		if a.cfg.Serial == "" || fields[0] == a.cfg.Serial {
			return true
		}
	}

	if a.cfg.Serial != "" {
		a.cfg.Logger.Printf("Device '%s' not found among ADB devices", a.cfg.Serial)
	} else {
		a.cfg.Logger.Printf("No authorized ADB device found")
	}
	return false
}

// Exists implements Device.
func (a *ADB) Exists(ctx context.Context, remotePath string) (bool, error) {
	out, err := a.shell(ctx, fmt.Sprintf("if [ -e %s ]; then echo yes; else echo no; fi", shellQuote(remotePath)))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "yes", nil
}

// MkdirAll implements Device.
func (a *ADB) MkdirAll(ctx context.Context, remotePath string) error {
	if _, err := a.shell(ctx, "mkdir -p "+shellQuote(remotePath)); err != nil {
		return fmt.Errorf("failed to create %s on %s: %w", remotePath, a.Name(), err)
	}
	return nil
}

// Push implements Device.
func (a *ADB) Push(ctx context.Context, localPath, remotePath string) error {
	if _, err := a.run(ctx, a.cfg.TransferTimeout, "push", localPath, remotePath); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", localPath, remotePath, err)
	}
	return nil
}

// Pull implements Device.
func (a *ADB) Pull(ctx context.Context, remotePath, localPath string) error {
	if _, err := a.run(ctx, a.cfg.TransferTimeout, "pull", remotePath, localPath); err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "No such file") {
			return fmt.Errorf("%w: %s", ErrNotFound, remotePath)
		}
		return fmt.Errorf("failed to pull %s: %w", remotePath, err)
	}
	return nil
}

// Digest implements Device using the device's md5sum.
func (a *ADB) Digest(ctx context.Context, remotePath string) (string, error) {
	out, err := a.shell(ctx, "md5sum "+shellQuote(remotePath))
	text := strings.TrimSpace(string(out))
	if strings.Contains(text, "No such file") || (err != nil && strings.Contains(err.Error(), "No such file")) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	if err != nil {
		return "", fmt.Errorf("md5sum %s: %w", remotePath, err)
	}

	// md5sum output format: <hash>  <path>
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	if !md5Pattern.MatchString(fields[0]) {
		return "", fmt.Errorf("unexpected md5sum output for %s: %q", remotePath, text)
	}
	return strings.ToLower(fields[0]), nil
}

func (a *ADB) shell(ctx context.Context, command string) ([]byte, error) {
	return a.run(ctx, a.cfg.Timeout, "shell", command)
}

func (a *ADB) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if a.cfg.Serial != "" {
		args = append([]string{"-s", a.cfg.Serial}, args...)
	}
	return a.cfg.Runner.Run(ctx, timeout, a.cfg.Binary, args...)
}
