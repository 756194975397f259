package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeControl()
	c.normalizeScripts()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("RAY_SESSION_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.SessionRoot = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		c.Paths.RegistryPath = defaultRegistryPath
	}

	var err error
	if c.Paths.SessionRoot, err = expandPath(c.Paths.SessionRoot); err != nil {
		return fmt.Errorf("paths.session_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.RegistryPath, err = expandPath(c.Paths.RegistryPath); err != nil {
		return fmt.Errorf("paths.registry_path: %w", err)
	}
	if c.Paths.SessionTemplatesDir, err = expandPath(c.Paths.SessionTemplatesDir); err != nil {
		return fmt.Errorf("paths.session_templates_dir: %w", err)
	}
	if c.Paths.UserTemplatesDir, err = expandPath(c.Paths.UserTemplatesDir); err != nil {
		return fmt.Errorf("paths.user_templates_dir: %w", err)
	}
	if c.Paths.FactoryTemplatesDir, err = expandPath(c.Paths.FactoryTemplatesDir); err != nil {
		return fmt.Errorf("paths.factory_templates_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ScriptsDir) != "" {
		if c.Paths.ScriptsDir, err = expandPath(c.Paths.ScriptsDir); err != nil {
			return fmt.Errorf("paths.scripts_dir: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeControl() {
	c.Control.DaemonBinary = strings.TrimSpace(c.Control.DaemonBinary)
	if c.Control.DaemonBinary == "" {
		c.Control.DaemonBinary = defaultDaemonBinary
	}
	if c.Control.AnnounceTimeoutMS == 0 {
		c.Control.AnnounceTimeoutMS = defaultAnnounceTimeoutMS
	}
	if c.Control.TickIntervalMS == 0 {
		c.Control.TickIntervalMS = defaultTickIntervalMS
	}
}

func (c *Config) normalizeScripts() {
	c.Scripts.DirName = strings.TrimSpace(c.Scripts.DirName)
	if c.Scripts.DirName == "" {
		c.Scripts.DirName = defaultScriptsDirName
	}
	if c.Scripts.StepReleaseTimeoutMS == 0 {
		c.Scripts.StepReleaseTimeoutMS = defaultStepReleaseTimeoutMS
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
