package ui

import (
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0:00"},
		{61000, "1:01"},
		{600000, "10:00"},
		{3723000, "1:02:03"},
		{-1, "?"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := FormatTime(time.Time{}); got != "never" {
		t.Errorf("FormatTime(zero) = %q, want never", got)
	}
	if got := FormatTime(time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)); !strings.HasPrefix(got, "2025-03-01") {
		t.Errorf("FormatTime() = %q, want 2025-03-01 prefix", got)
	}
}

func TestShouldUseColor_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("ShouldUseColor() = true with NO_COLOR set")
	}
}

func TestRender_KeepsText(t *testing.T) {
	for _, render := range []func(string) string{RenderAccent, RenderPass, RenderWarn, RenderFail, RenderMuted, RenderBold} {
		if got := render("chapter"); !strings.Contains(got, "chapter") {
			t.Errorf("render() = %q, want text preserved", got)
		}
	}
}
