package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the client configuration, read from ~/.webterm/config.yaml with
// WEBTERM_* environment overrides.
type Config struct {
	ServerURL string         `mapstructure:"server_url" yaml:"server_url"`
	Token     string         `mapstructure:"token" yaml:"token"`
	LogPath   string         `mapstructure:"log_path" yaml:"log_path"`
	Settings  SettingsConfig `mapstructure:"settings" yaml:"settings"`
	Notify    NotifyConfig   `mapstructure:"notify" yaml:"notify"`
}

// SettingsConfig is the renderer settings object.
type SettingsConfig struct {
	Theme             string  `mapstructure:"theme" yaml:"theme"`
	FontSize          int     `mapstructure:"font_size" yaml:"font_size"`
	CursorBlink       bool    `mapstructure:"cursor_blink" yaml:"cursor_blink"`
	SmoothScroll      bool    `mapstructure:"smooth_scroll" yaml:"smooth_scroll"`
	AutoScroll        string  `mapstructure:"auto_scroll" yaml:"auto_scroll"`
	ScrollSensitivity float64 `mapstructure:"scroll_sensitivity" yaml:"scroll_sensitivity"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token" yaml:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids" yaml:"chat_ids"`
}

// Enabled reports whether exhaustion alerts should go to Telegram.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && len(c.ChatIDs) > 0
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8000",
		LogPath:   filepath.Join(configDir(), "webterm.log"),
		Settings: SettingsConfig{
			Theme:             "catppuccin",
			FontSize:          14,
			CursorBlink:       true,
			SmoothScroll:      true,
			AutoScroll:        string(ScrollSmart),
			ScrollSensitivity: defaultScrollSensitivity,
		},
	}
}

// configPathOverride allows tests to redirect config to a temp directory
var configPathOverride string

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webterm"
	}
	return filepath.Join(home, ".webterm")
}

func getConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	return filepath.Join(configDir(), "config.yaml")
}

// LoadConfig reads path (the default location when empty). A missing file
// yields the defaults; environment overrides apply either way.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = getConfigPath()
	}
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WEBTERM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("log_path", cfg.LogPath)
	v.SetDefault("settings.theme", cfg.Settings.Theme)
	v.SetDefault("settings.font_size", cfg.Settings.FontSize)
	v.SetDefault("settings.cursor_blink", cfg.Settings.CursorBlink)
	v.SetDefault("settings.smooth_scroll", cfg.Settings.SmoothScroll)
	v.SetDefault("settings.auto_scroll", cfg.Settings.AutoScroll)
	v.SetDefault("settings.scroll_sensitivity", cfg.Settings.ScrollSensitivity)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_ids", []int64{})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a session.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server_url is required")
	}
	if _, err := ParseScrollMode(c.Settings.AutoScroll); err != nil {
		return fmt.Errorf("settings.auto_scroll: %w", err)
	}
	if c.Settings.ScrollSensitivity < 0 || c.Settings.ScrollSensitivity > 1 {
		return fmt.Errorf("settings.scroll_sensitivity must be within [0,1], got %v", c.Settings.ScrollSensitivity)
	}
	if c.Settings.FontSize < 6 || c.Settings.FontSize > 72 {
		return fmt.Errorf("settings.font_size must be within [6,72], got %d", c.Settings.FontSize)
	}
	if _, ok := lookupTheme(c.Settings.Theme); !ok {
		return fmt.Errorf("settings.theme: unknown theme %q", c.Settings.Theme)
	}
	return nil
}

// WriteDefaultConfig writes the defaults to path (the default location when empty).
func WriteDefaultConfig(path string, overwrite bool) (string, error) {
	if path == "" {
		path = getConfigPath()
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// RenderOptions maps settings to surface options. Cursor blink only applies
// to the focused session.
func (s SettingsConfig) RenderOptions(focused bool) Options {
	theme, _ := lookupTheme(s.Theme)
	opts := Options{
		Theme:       theme,
		FontSize:    s.FontSize,
		CursorBlink: s.CursorBlink && focused,
	}
	if s.SmoothScroll {
		opts.SmoothScrollDuration = 50 * time.Millisecond
	}
	return opts
}

// ScrollMode returns the parsed auto_scroll value, smart when invalid.
func (s SettingsConfig) ScrollMode() ScrollMode {
	m, err := ParseScrollMode(s.AutoScroll)
	if err != nil {
		return ScrollSmart
	}
	return m
}

// FontMetrics returns the cell metrics for the configured font size.
func (s SettingsConfig) FontMetrics() FontMetrics {
	m := DefaultFontMetrics()
	if s.FontSize > 0 {
		m.FontSize = float64(s.FontSize)
	}
	return m
}

var themes = map[string]Theme{
	"catppuccin":    {Name: "catppuccin", Background: "#1e1e2e", Foreground: "#cdd6f4", Cursor: "#f5e0dc"},
	"dracula":       {Name: "dracula", Background: "#282a36", Foreground: "#f8f8f2", Cursor: "#f8f8f2"},
	"monokai":       {Name: "monokai", Background: "#272822", Foreground: "#f8f8f2", Cursor: "#f8f8f0"},
	"solarizedDark": {Name: "solarizedDark", Background: "#002b36", Foreground: "#839496", Cursor: "#839496"},
	"githubDark":    {Name: "githubDark", Background: "#0d1117", Foreground: "#c9d1d9", Cursor: "#c9d1d9"},
	// none leaves the host terminal's own colors alone.
	"none": {Name: "none"},
}

func lookupTheme(name string) (Theme, bool) {
	if name == "" {
		return themes["catppuccin"], true
	}
	t, ok := themes[name]
	return t, ok
}
