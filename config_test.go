package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// setTempConfigPath sets configPathOverride to a temp directory and registers cleanup.
// Returns the path of the (not yet existing) config file.
func setTempConfigPath(t *testing.T) string {
	t.Helper()
	configPathOverride = filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() {
		configPathOverride = ""
	})
	return configPathOverride
}

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

// TestLoadConfigMissingFile verifies a missing file yields the defaults.
func TestLoadConfigMissingFile(t *testing.T) {
	setTempConfigPath(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg.ServerURL != want.ServerURL || cfg.Settings != want.Settings {
		t.Errorf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

// TestLoadConfigFile verifies values from the YAML file override the defaults.
func TestLoadConfigFile(t *testing.T) {
	path := setTempConfigPath(t)
	writeConfigFile(t, path, `
server_url: https://term.example.com
token: abc
settings:
  theme: dracula
  font_size: 16
  auto_scroll: never
notify:
  telegram:
    bot_token: "123:xyz"
    chat_ids: [11, 22]
`)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "https://term.example.com" || cfg.Token != "abc" {
		t.Errorf("server = %q token = %q", cfg.ServerURL, cfg.Token)
	}
	if cfg.Settings.Theme != "dracula" || cfg.Settings.FontSize != 16 || cfg.Settings.ScrollMode() != ScrollNever {
		t.Errorf("settings = %+v", cfg.Settings)
	}
	// Unset keys keep their defaults.
	if !cfg.Settings.CursorBlink || cfg.Settings.ScrollSensitivity != defaultScrollSensitivity {
		t.Errorf("defaults lost: %+v", cfg.Settings)
	}
	if !cfg.Notify.Telegram.Enabled() || !slices.Equal(cfg.Notify.Telegram.ChatIDs, []int64{11, 22}) {
		t.Errorf("telegram = %+v", cfg.Notify.Telegram)
	}
}

// TestLoadConfigEnvOverride verifies WEBTERM_* variables win over the file.
func TestLoadConfigEnvOverride(t *testing.T) {
	path := setTempConfigPath(t)
	writeConfigFile(t, path, "server_url: http://file:1\n")
	t.Setenv("WEBTERM_SERVER_URL", "http://env:2")
	t.Setenv("WEBTERM_SETTINGS_AUTO_SCROLL", "always")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ServerURL != "http://env:2" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Settings.AutoScroll != "always" {
		t.Errorf("AutoScroll = %q", cfg.Settings.AutoScroll)
	}
}

// TestLoadConfigInvalid verifies bad values are rejected with the offending key.
func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
	}{
		{"scroll mode", "settings:\n  auto_scroll: sometimes\n", "auto_scroll"},
		{"sensitivity", "settings:\n  scroll_sensitivity: 1.5\n", "scroll_sensitivity"},
		{"font size", "settings:\n  font_size: 2\n", "font_size"},
		{"theme", "settings:\n  theme: neon\n", "theme"},
		{"server", "server_url: \" \"\n", "server_url"},
		{"yaml", "settings: [\n", "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := setTempConfigPath(t)
			writeConfigFile(t, path, tt.body)
			_, err := LoadConfig("")
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("LoadConfig err = %v, want mention of %q", err, tt.key)
			}
		})
	}
}

// TestWriteDefaultConfig verifies the written file loads back and is not clobbered.
func TestWriteDefaultConfig(t *testing.T) {
	path := setTempConfigPath(t)

	got, err := WriteDefaultConfig("", false)
	if err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	if got != path {
		t.Errorf("wrote %q, want %q", got, path)
	}
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig after write: %v", err)
	}
	if cfg.Settings != DefaultConfig().Settings {
		t.Errorf("settings = %+v", cfg.Settings)
	}

	if _, err := WriteDefaultConfig("", false); err == nil {
		t.Error("second write without overwrite succeeded")
	}
	if _, err := WriteDefaultConfig("", true); err != nil {
		t.Errorf("overwrite: %v", err)
	}
}

// TestRenderOptions verifies settings map onto surface options.
func TestRenderOptions(t *testing.T) {
	s := DefaultConfig().Settings

	focused := s.RenderOptions(true)
	if !focused.CursorBlink || focused.SmoothScrollDuration != 50*time.Millisecond {
		t.Errorf("focused options = %+v", focused)
	}
	if focused.Theme.Name != "catppuccin" || focused.FontSize != 14 {
		t.Errorf("theme/font = %q/%d", focused.Theme.Name, focused.FontSize)
	}

	if s.RenderOptions(false).CursorBlink {
		t.Error("unfocused session blinks")
	}

	s.SmoothScroll = false
	if d := s.RenderOptions(true).SmoothScrollDuration; d != 0 {
		t.Errorf("smooth scroll disabled but duration = %v", d)
	}
}

// TestSettingsFontMetrics verifies the font size feeds the grid fitter.
func TestSettingsFontMetrics(t *testing.T) {
	s := SettingsConfig{FontSize: 20}
	if m := s.FontMetrics(); m.FontSize != 20 || m.LineHeight != 1.2 {
		t.Errorf("FontMetrics() = %+v", m)
	}
	if m := (SettingsConfig{}).FontMetrics(); m != DefaultFontMetrics() {
		t.Errorf("zero settings FontMetrics() = %+v", m)
	}
}
