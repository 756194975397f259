package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"raysession/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("RAY_SESSION_ROOT", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRoot := filepath.Join(tempHome, "Ray Sessions")
	if cfg.Paths.SessionRoot != wantRoot {
		t.Fatalf("unexpected session root: got %q want %q", cfg.Paths.SessionRoot, wantRoot)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, ".local", "share", "raysession", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.AnnounceTimeout().Milliseconds() != 2000 {
		t.Fatalf("expected 2000ms announce timeout, got %v", cfg.AnnounceTimeout())
	}
	if cfg.TickInterval().Milliseconds() != 200 {
		t.Fatalf("expected 200ms tick, got %v", cfg.TickInterval())
	}
	if cfg.Scripts.DirName != "ray-scripts" {
		t.Fatalf("unexpected scripts dir name %q", cfg.Scripts.DirName)
	}
	if cfg.Scripts.RequireSync {
		t.Fatal("expected require_sync disabled by default")
	}
}

func TestLoadSessionRootFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := filepath.Join(t.TempDir(), "sessions")
	t.Setenv("RAY_SESSION_ROOT", root)

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.SessionRoot != root {
		t.Fatalf("expected session root from env, got %q", cfg.Paths.SessionRoot)
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("RAY_SESSION_ROOT", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "raysession.toml")

	type payload struct {
		Paths struct {
			SessionRoot  string `toml:"session_root"`
			RegistryPath string `toml:"registry_path"`
		} `toml:"paths"`
		Control struct {
			AnnounceTimeoutMS int `toml:"announce_timeout_ms"`
		} `toml:"control"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.SessionRoot = filepath.Join(tempDir, "root")
	custom.Paths.RegistryPath = filepath.Join(tempDir, "reg", "daemons.db")
	custom.Control.AnnounceTimeoutMS = 500
	custom.Logging.Format = "JSON"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if cfg.Paths.SessionRoot != custom.Paths.SessionRoot {
		t.Fatalf("unexpected session root %q", cfg.Paths.SessionRoot)
	}
	if cfg.AnnounceTimeout().Milliseconds() != 500 {
		t.Fatalf("expected custom timeout, got %v", cfg.AnnounceTimeout())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(cfg.Paths.RegistryPath)); err != nil {
		t.Fatalf("expected registry directory: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "timeout",
			mutate: func(c *config.Config) { c.Control.AnnounceTimeoutMS = -1 },
			want:   "announce_timeout_ms",
		},
		{
			name:   "scripts dir",
			mutate: func(c *config.Config) { c.Scripts.DirName = "a/b" },
			want:   "scripts.dir_name",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RAY_SESSION_ROOT", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("Load sample: exists=%v err=%v", exists, err)
	}
}
