// Package ui renders terminal output for the command line.
package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// ShouldUseColor honors NO_COLOR and CLICOLOR_FORCE, then falls back to
// whether stdout is a color-capable terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0" {
		return true
	}
	return termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
}

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}
)

var (
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// RenderPassIcon renders the pass icon.
func RenderPassIcon() string { return PassStyle.Render(IconPass) }

// RenderWarnIcon renders the warning icon.
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }

// RenderFailIcon renders the failure icon.
func RenderFailIcon() string { return FailStyle.Render(IconFail) }

// RenderSkipIcon renders the skip icon.
func RenderSkipIcon() string { return MutedStyle.Render(IconSkip) }

// FormatDuration renders milliseconds as h:mm:ss, or m:ss under an hour.
func FormatDuration(ms int64) string {
	if ms < 0 {
		return "?"
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatTime renders a playback timestamp, or "never" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
