package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and discovery surface locations.
type Paths struct {
	SessionRoot         string `toml:"session_root"`
	LogDir              string `toml:"log_dir"`
	RegistryPath        string `toml:"registry_path"`
	SessionTemplatesDir string `toml:"session_templates_dir"`
	UserTemplatesDir    string `toml:"user_templates_dir"`
	FactoryTemplatesDir string `toml:"factory_templates_dir"`
	ScriptsDir          string `toml:"scripts_dir"`
}

// Control contains client-side control channel settings.
type Control struct {
	DaemonBinary      string `toml:"daemon_binary"`
	AnnounceTimeoutMS int    `toml:"announce_timeout_ms"`
	TickIntervalMS    int    `toml:"tick_interval_ms"`
}

// Scripts contains helper-script supervision settings.
type Scripts struct {
	// DirName is the per-session folder holding transition scripts.
	DirName string `toml:"dir_name"`
	// RequireSync makes a stepper that never called run_step fatal for its sequence.
	RequireSync bool `toml:"require_sync"`
	// StepReleaseTimeoutMS bounds how long a paused stepper waits for the daemon.
	StepReleaseTimeoutMS int `toml:"step_release_timeout_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for raysession.
//
// Configuration sections by subsystem:
//   - Paths: session root, templates, log directory, daemon registry
//   - Control: daemon binary and handshake timings used by ray-control
//   - Scripts: stepper script discovery and synchronization policy
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Control Control `toml:"control"`
	Scripts Scripts `toml:"scripts"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/raysession/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes into.
// The session root is created on a best-effort basis so a read-only root does
// not keep the daemon from answering list requests.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, filepath.Dir(c.Paths.RegistryPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.SessionRoot) != "" {
		_ = os.MkdirAll(c.Paths.SessionRoot, 0o755)
	}
	return nil
}

// AnnounceTimeout returns how long a client waits for a launched daemon to announce.
func (c *Config) AnnounceTimeout() time.Duration {
	return time.Duration(c.Control.AnnounceTimeoutMS) * time.Millisecond
}

// TickInterval returns the client liveness tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Control.TickIntervalMS) * time.Millisecond
}

// StepReleaseTimeout returns how long a stepper may stay paused at its synchronization point.
func (c *Config) StepReleaseTimeout() time.Duration {
	return time.Duration(c.Scripts.StepReleaseTimeoutMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
