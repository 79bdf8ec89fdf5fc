// Package config loads and persists agentwatch configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all agentwatch configuration.
type Config struct {
	General GeneralConfig `toml:"general"`
	Sources SourcesConfig `toml:"sources"`
	Status  StatusConfig  `toml:"status"`
	Cache   CacheConfig   `toml:"cache"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	MaxAgeHours      int  `toml:"max_age_hours"`
	MaxFileSizeMB    int  `toml:"max_file_size_mb"`
	PollIntervalSecs int  `toml:"poll_interval_secs"`
	IncludeSubagents bool `toml:"include_subagents"`
}

// SourcesConfig holds per-source transcript root directories. Empty values
// fall back to the tool's conventional location under the home directory.
type SourcesConfig struct {
	ClaudeDir string `toml:"claude_dir,omitempty"`
	CodexDir  string `toml:"codex_dir,omitempty"`
	GeminiDir string `toml:"gemini_dir,omitempty"`
}

// StatusConfig holds the liveness state machine windows. The exact
// boundaries are tunable; defaults follow observed tool behavior.
type StatusConfig struct {
	ActiveWindowSecs int `toml:"active_window_secs"`
	CrashWindowSecs  int `toml:"crash_window_secs"`
	OrphanWindowSecs int `toml:"orphan_window_secs"`
}

// CacheConfig holds durable session cache settings.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			MaxAgeHours:      24 * 7,
			MaxFileSizeMB:    50,
			PollIntervalSecs: 2,
			IncludeSubagents: true,
		},
		Status: StatusConfig{
			ActiveWindowSecs: 120,
			CrashWindowSecs:  600,
			OrphanWindowSecs: 7200,
		},
		Cache: CacheConfig{Enabled: true},
	}
}

// ActiveWindow returns the active window as a duration.
func (s StatusConfig) ActiveWindow() time.Duration {
	return time.Duration(s.ActiveWindowSecs) * time.Second
}

// CrashWindow returns the upper bound of the crash window as a duration.
func (s StatusConfig) CrashWindow() time.Duration {
	return time.Duration(s.CrashWindowSecs) * time.Second
}

// OrphanWindow returns the orphan window as a duration.
func (s StatusConfig) OrphanWindow() time.Duration {
	return time.Duration(s.OrphanWindowSecs) * time.Second
}

// MaxFileSize returns the transcript size guard in bytes.
func (g GeneralConfig) MaxFileSize() int64 {
	return int64(g.MaxFileSizeMB) * 1024 * 1024
}

// ClaudeRoot returns the Claude transcript root, defaulting to ~/.claude.
func (s SourcesConfig) ClaudeRoot() string {
	if s.ClaudeDir != "" {
		return s.ClaudeDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// CodexRoot returns the Codex transcript root, defaulting to ~/.codex.
func (s SourcesConfig) CodexRoot() string {
	if s.CodexDir != "" {
		return s.CodexDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex")
}

// GeminiRoot returns the Gemini transcript root, defaulting to ~/.gemini.
func (s SourcesConfig) GeminiRoot() string {
	if s.GeminiDir != "" {
		return s.GeminiDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gemini")
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentwatch")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// CacheDir returns the platform-appropriate cache directory.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "agentwatch")
}

// CachePath returns the full path to the session cache database, honoring
// an explicit override from config.
func (c Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(CacheDir(), "sessions.db")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
